// Package usecases contains the application business logic.
// This package orchestrates domain entities and interfaces to fulfill use cases.
package usecases

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MyCarrier-DevOps/docsync/internal/domain"
)

// DefaultLockWait is how long an operation waits for a concurrent one on the same
// directory before giving up with domain.ErrOperationInProgress.
const DefaultLockWait = 2 * time.Second

// Logger defines the logging interface required by the controller.
// This abstracts the logger dependency to avoid coupling to a specific implementation.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
	Error(ctx context.Context, msg string, err error, fields map[string]interface{})
}

// BackendFactory builds the backend used for a single call.
type BackendFactory func(settings domain.Settings) domain.Backend

// Backends holds the two backend variants the controller chooses between.
type Backends struct {
	Subprocess BackendFactory
	Embedded   BackendFactory
}

// Controller is the single entry point for clone, sync and push.
// It validates settings, serializes operations per directory, picks a backend,
// and turns every result into an Outcome plus a notification. It never returns an error.
type Controller struct {
	settings  domain.Settings
	caps      domain.HostCapabilities
	backends  Backends
	locker    domain.OperationLocker
	notifier  domain.Notifier
	logger    Logger
	lockWait  time.Duration
	afterFunc func(time.Duration, func()) *time.Timer
}

// NewController creates a new Controller with the given dependencies.
// caps is captured once and never re-checked.
func NewController(
	settings domain.Settings,
	caps domain.HostCapabilities,
	backends Backends,
	locker domain.OperationLocker,
	notifier domain.Notifier,
	log Logger,
) *Controller {
	return &Controller{
		settings:  settings,
		caps:      caps,
		backends:  backends,
		locker:    locker,
		notifier:  notifier,
		logger:    log,
		lockWait:  DefaultLockWait,
		afterFunc: time.AfterFunc,
	}
}

// Clone prepares the working directory as a checkout of the remote branch.
func (c *Controller) Clone(ctx context.Context, trigger domain.Trigger) domain.Outcome {
	return c.run(ctx, domain.OperationClone, trigger, func(b domain.Backend, out *domain.Outcome) error {
		res, err := b.Clone(ctx)
		out.Sync = res
		return err
	})
}

// Sync overwrites the working tree with the remote branch.
func (c *Controller) Sync(ctx context.Context, trigger domain.Trigger) domain.Outcome {
	return c.run(ctx, domain.OperationSync, trigger, func(b domain.Backend, out *domain.Outcome) error {
		res, err := b.Sync(ctx)
		out.Sync = res
		return err
	})
}

// Push commits local changes and sends them to the remote.
func (c *Controller) Push(ctx context.Context, trigger domain.Trigger) domain.Outcome {
	return c.run(ctx, domain.OperationPush, trigger, func(b domain.Backend, out *domain.Outcome) error {
		res, err := b.Push(ctx)
		out.Push = res
		return err
	})
}

// Backend reports which variant the controller dispatches to.
func (c *Controller) Backend() domain.BackendKind {
	if c.caps.CanSpawnProcesses && !c.settings.ForceEmbedded {
		return domain.BackendSubprocess
	}
	return domain.BackendEmbedded
}

func (c *Controller) run(
	ctx context.Context,
	op domain.Operation,
	trigger domain.Trigger,
	call func(domain.Backend, *domain.Outcome) error,
) domain.Outcome {
	out := domain.Outcome{Operation: op, Trigger: trigger}
	fields := map[string]interface{}{
		"operation": string(op),
		"trigger":   string(trigger),
	}

	if err := c.guard(op); err != nil {
		out.Err = err
		c.finish(ctx, &out, fields)
		return out
	}

	out.Backend = c.Backend()
	fields["backend"] = string(out.Backend)
	c.notify(ctx, trigger, domain.Notice{Level: domain.NoticeInfo, Operation: op, Message: startMessage(op)})

	unlock, err := c.locker.Lock(ctx, c.settings.WorkDir, c.lockWait)
	if err != nil {
		out.Err = err
		c.finish(ctx, &out, fields)
		return out
	}
	defer unlock()

	stopSlow := c.slowNotice(ctx, op, trigger)
	started := time.Now()
	out.Err = c.call(ctx, op, &out, call)
	stopSlow()

	fields["duration_ms"] = time.Since(started).Milliseconds()
	c.finish(ctx, &out, fields)
	return out
}

// guard checks settings before any lock, filesystem or network access.
func (c *Controller) guard(op domain.Operation) error {
	if c.settings.Token == "" {
		return domain.ErrAuthNotConfigured
	}
	if op != domain.OperationPush && c.settings.RemoteURL == "" {
		return domain.ErrRemoteURLNotConfigured
	}
	return nil
}

func (c *Controller) factory() BackendFactory {
	if c.Backend() == domain.BackendSubprocess {
		return c.backends.Subprocess
	}
	return c.backends.Embedded
}

// call runs the backend, converting a panic into an error.
func (c *Controller) call(
	ctx context.Context,
	op domain.Operation,
	out *domain.Outcome,
	fn func(domain.Backend, *domain.Outcome) error,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn(ctx, "backend panicked", map[string]interface{}{
				"operation": string(op),
				"panic":     fmt.Sprint(r),
			})
			err = fmt.Errorf("%s panicked: %v", op, r)
		}
	}()

	factory := c.factory()
	if factory == nil {
		return fmt.Errorf("%w: no %s backend available", domain.ErrConfiguration, c.Backend())
	}
	return fn(factory(c.settings), out)
}

// slowNotice raises an informational notice once the operation runs past
// SlowNoticeAfter. The returned func cancels it.
func (c *Controller) slowNotice(ctx context.Context, op domain.Operation, trigger domain.Trigger) func() {
	if c.settings.SlowNoticeAfter <= 0 || trigger.Silent() {
		return func() {}
	}

	var (
		mu      sync.Mutex
		stopped bool
	)
	timer := c.afterFunc(c.settings.SlowNoticeAfter, func() {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		c.notifier.Notify(ctx, domain.Notice{
			Level:     domain.NoticeInfo,
			Operation: op,
			Message:   "Still working; large repositories can take a while",
		})
	})
	return func() {
		mu.Lock()
		stopped = true
		mu.Unlock()
		timer.Stop()
	}
}

func (c *Controller) finish(ctx context.Context, out *domain.Outcome, fields map[string]interface{}) {
	op := out.Operation
	if out.Err == nil {
		c.addResultFields(out, fields)
		c.logger.Info(ctx, string(op)+" succeeded", fields)
		c.notify(ctx, out.Trigger, domain.Notice{Level: domain.NoticeSuccess, Operation: op, Message: successMessage(*out)})
		return
	}

	fields["error_kind"] = string(domain.KindOf(out.Err))
	c.logger.Error(ctx, string(op)+" failed", out.Err, fields)
	c.notify(ctx, out.Trigger, domain.Notice{Level: domain.NoticeError, Operation: op, Message: failureMessage(op, out.Err)})
}

func (c *Controller) addResultFields(out *domain.Outcome, fields map[string]interface{}) {
	if out.Sync != nil {
		fields["head_sha"] = out.Sync.Head
		fields["skipped"] = len(out.Sync.Skipped)
	}
	if out.Push != nil {
		fields["committed"] = out.Push.Committed
		fields["pushed"] = out.Push.Pushed
	}
}

func (c *Controller) notify(ctx context.Context, trigger domain.Trigger, n domain.Notice) {
	if trigger.Silent() {
		return
	}
	c.notifier.Notify(ctx, n)
}

func startMessage(op domain.Operation) string {
	switch op {
	case domain.OperationClone:
		return "Cloning repository..."
	case domain.OperationSync:
		return "Syncing repository..."
	default:
		return "Pushing changes..."
	}
}

func successMessage(out domain.Outcome) string {
	switch out.Operation {
	case domain.OperationClone:
		return "Repository cloned successfully"
	case domain.OperationSync:
		if out.Sync != nil && len(out.Sync.Skipped) > 0 {
			return fmt.Sprintf("Repository synchronized; %d untracked path(s) could not be removed", len(out.Sync.Skipped))
		}
		return "Repository synchronized successfully"
	default:
		if out.Push != nil && !out.Push.Committed && !out.Push.Pushed {
			return "Nothing to push"
		}
		return "Changes pushed successfully"
	}
}

// failureMessage is the single user-facing line for a failed operation.
func failureMessage(op domain.Operation, err error) string {
	switch {
	case errors.Is(err, domain.ErrAuthNotConfigured):
		return "Access token is not set. Please configure it in the settings."
	case errors.Is(err, domain.ErrRemoteURLNotConfigured):
		return "Please provide a repository URL in the settings"
	case errors.Is(err, domain.ErrAuthentication):
		return "The remote rejected the access token. Please update your token in the settings."
	case errors.Is(err, domain.ErrOperationInProgress):
		return "Another operation is already running for this directory"
	}

	verb := map[domain.Operation]string{
		domain.OperationClone: "cloning",
		domain.OperationSync:  "synchronizing",
		domain.OperationPush:  "pushing",
	}[op]
	return fmt.Sprintf("Error %s repository: %v", verb, err)
}
