package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MyCarrier-DevOps/docsync/internal/domain"
)

// Test mocks for dependency injection testing.

// mockLogger implements the Logger interface for testing.
type mockLogger struct {
	warns []string
}

func (m *mockLogger) Info(_ context.Context, _ string, _ map[string]interface{}) {}

func (m *mockLogger) Debug(_ context.Context, _ string, _ map[string]interface{}) {}

func (m *mockLogger) Warn(_ context.Context, msg string, _ map[string]interface{}) {
	m.warns = append(m.warns, msg)
}

func (m *mockLogger) Error(_ context.Context, _ string, _ error, _ map[string]interface{}) {}

// mockController implements Controller for testing.
type mockController struct {
	err      error
	calls    []domain.Operation
	triggers []domain.Trigger
}

func (m *mockController) outcome(op domain.Operation, trigger domain.Trigger) domain.Outcome {
	m.calls = append(m.calls, op)
	m.triggers = append(m.triggers, trigger)
	return domain.Outcome{Operation: op, Trigger: trigger, Err: m.err}
}

func (m *mockController) Clone(_ context.Context, trigger domain.Trigger) domain.Outcome {
	return m.outcome(domain.OperationClone, trigger)
}

func (m *mockController) Sync(_ context.Context, trigger domain.Trigger) domain.Outcome {
	return m.outcome(domain.OperationSync, trigger)
}

func (m *mockController) Push(_ context.Context, trigger domain.Trigger) domain.Outcome {
	return m.outcome(domain.OperationPush, trigger)
}

// mockScheduler implements Scheduler for testing.
type mockScheduler struct {
	ran     bool
	outcome domain.Outcome
}

func (m *mockScheduler) Run(_ context.Context) domain.Outcome {
	m.ran = true
	return m.outcome
}

// mockChanges implements domain.ChangeSource for testing.
type mockChanges struct {
	closed bool
}

func (m *mockChanges) Changes() <-chan struct{} { return nil }

func (m *mockChanges) Close() error {
	m.closed = true
	return nil
}

// mockTokenStore implements TokenStore for testing.
type mockTokenStore struct {
	tokens map[string]string
	err    error
}

func (m *mockTokenStore) Set(remoteURL, token string) error {
	if m.err != nil {
		return m.err
	}
	m.tokens[remoteURL] = token
	return nil
}

func (m *mockTokenStore) Delete(remoteURL string) error {
	if m.err != nil {
		return m.err
	}
	delete(m.tokens, remoteURL)
	return nil
}

// fixture captures what the commands hand to their factories.
type fixture struct {
	deps       *Dependencies
	logger     *mockLogger
	controller *mockController
	scheduler  *mockScheduler
	changes    *mockChanges
	tokens     *mockTokenStore
	config     *AppConfig
	configErr  error

	configPath  string
	configDir   string
	settings    domain.Settings
	watched     bool
	schedulerIn domain.ChangeSource
}

func newFixture() *fixture {
	f := &fixture{
		logger:     &mockLogger{},
		controller: &mockController{},
		scheduler:  &mockScheduler{},
		changes:    &mockChanges{},
		tokens:     &mockTokenStore{tokens: map[string]string{}},
		config: &AppConfig{Settings: domain.Settings{
			Token:        "s3cret",
			RemoteURL:    "https://git.example.com/team/notes.git",
			Branch:       "main",
			PushInterval: time.Minute,
		}},
	}
	f.deps = &Dependencies{
		LoggerFactory: func() Logger { return f.logger },
		ConfigLoader: func(_ context.Context, path, workDir string) (*AppConfig, error) {
			f.configPath = path
			f.configDir = workDir
			if f.configErr != nil {
				return nil, f.configErr
			}
			return f.config, nil
		},
		ControllerFactory: func(settings domain.Settings, _ Logger) Controller {
			f.settings = settings
			return f.controller
		},
		WatcherFactory: func(domain.Settings, Logger) (domain.ChangeSource, error) {
			f.watched = true
			return f.changes, nil
		},
		SchedulerFactory: func(_ Controller, settings domain.Settings, changes domain.ChangeSource, _ Logger) Scheduler {
			f.settings = settings
			f.schedulerIn = changes
			return f.scheduler
		},
		TokenStoreFactory: func() TokenStore { return f.tokens },
		Stdout:            &bytes.Buffer{},
		Stderr:            &bytes.Buffer{},
	}
	return f
}

func (f *fixture) execute(args ...string) error {
	cmd := NewRootCmdWithDeps(f.deps)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func TestNewRootCmd(t *testing.T) {
	SetDefaultDependencies(&Dependencies{})
	cmd := NewRootCmd()

	require.NotNil(t, cmd)
	assert.Equal(t, "docsync", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)
	assert.True(t, cmd.SilenceUsage)

	for _, name := range []string{"config", "branch", "remote", "embedded", "verbose"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "flag %s", name)
	}
	assert.Equal(t, "v", cmd.PersistentFlags().Lookup("verbose").Shorthand)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"clone", "sync", "push", "run", "token"})
}

func TestNewRootCmd_HelpOutput(t *testing.T) {
	SetDefaultDependencies(&Dependencies{})
	cmd := NewRootCmd()

	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "docsync")
	assert.Contains(t, output, "--embedded")
	assert.Contains(t, output, "sync")
}

func TestOperations_MaxArgs(t *testing.T) {
	f := newFixture()

	err := f.execute("sync", "/one", "/two")

	require.Error(t, err)
	assert.Empty(t, f.controller.calls)
}

func TestOperations_NilDependencies(t *testing.T) {
	cmd := NewRootCmdWithDeps(nil)
	cmd.SetArgs([]string{"sync"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependencies not configured")
}

func TestOperations_DispatchManualTrigger(t *testing.T) {
	tests := []struct {
		args []string
		want domain.Operation
	}{
		{args: []string{"clone"}, want: domain.OperationClone},
		{args: []string{"sync"}, want: domain.OperationSync},
		{args: []string{"push"}, want: domain.OperationPush},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			f := newFixture()

			// Act
			err := f.execute(tt.args...)

			// Assert
			require.NoError(t, err)
			assert.Equal(t, []domain.Operation{tt.want}, f.controller.calls)
			assert.Equal(t, []domain.Trigger{domain.TriggerManual}, f.controller.triggers)
		})
	}
}

func TestOperations_WorkDirIsAbsolute(t *testing.T) {
	f := newFixture()
	dir := t.TempDir()

	require.NoError(t, f.execute("sync", dir))

	assert.Equal(t, dir, f.settings.WorkDir)
	assert.Equal(t, dir, f.configDir)

	f2 := newFixture()
	require.NoError(t, f2.execute("sync"))
	cwd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, cwd, f2.settings.WorkDir)
}

func TestOperations_FlagsOverrideSettings(t *testing.T) {
	f := newFixture()
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	err := f.execute("push",
		"--config", configPath,
		"--branch", "drafts",
		"--remote", "https://git.example.com/team/other.git",
		"--embedded",
	)

	require.NoError(t, err)
	assert.Equal(t, configPath, f.configPath)
	assert.Equal(t, "drafts", f.settings.Branch)
	assert.Equal(t, "https://git.example.com/team/other.git", f.settings.RemoteURL)
	assert.True(t, f.settings.ForceEmbedded)
	assert.Equal(t, "s3cret", f.settings.Token)
}

func TestOperations_FailedOutcomeIsNonZero(t *testing.T) {
	f := newFixture()
	f.controller.err = fmt.Errorf("%w: connection refused", domain.ErrTransport)

	err := f.execute("sync")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Contains(t, err.Error(), "sync failed")
}

func TestOperations_ConfigError(t *testing.T) {
	f := newFixture()
	f.configErr = errors.New("settings file not found")

	err := f.execute("clone")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration error")
	assert.Empty(t, f.controller.calls)
}

func TestOperations_ConfigWarningsAreLogged(t *testing.T) {
	f := newFixture()
	f.config.Warnings = []error{errors.New("vault unreachable")}

	require.NoError(t, f.execute("sync"))

	assert.Equal(t, []string{"token source unavailable"}, f.logger.warns)
}

func TestOperations_VerboseSetsDebugLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "info")
	f := newFixture()

	require.NoError(t, f.execute("sync", "-v"))

	assert.Equal(t, "debug", os.Getenv("LOG_LEVEL"))
}

func TestRun_WithoutWatch(t *testing.T) {
	f := newFixture()

	err := f.execute("run", "--interval", "5m")

	require.NoError(t, err)
	assert.True(t, f.scheduler.ran)
	assert.False(t, f.watched)
	assert.Nil(t, f.schedulerIn)
	assert.Equal(t, 5*time.Minute, f.settings.PushInterval)
}

func TestRun_WithWatch(t *testing.T) {
	f := newFixture()

	err := f.execute("run", "--watch")

	require.NoError(t, err)
	assert.True(t, f.watched)
	assert.Equal(t, f.changes, f.schedulerIn)
	assert.True(t, f.settings.Watch)
	assert.True(t, f.changes.closed)
}

func TestRun_WatchFromSettings(t *testing.T) {
	f := newFixture()
	f.config.Settings.Watch = true

	require.NoError(t, f.execute("run"))

	assert.True(t, f.watched)
}

func TestRun_WatcherFailure(t *testing.T) {
	f := newFixture()
	f.deps.WatcherFactory = func(domain.Settings, Logger) (domain.ChangeSource, error) {
		return nil, errors.New("too many open files")
	}

	err := f.execute("run", "--watch")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "watch error")
	assert.False(t, f.scheduler.ran)
}

func TestRun_TeardownFailureIsNotAnError(t *testing.T) {
	f := newFixture()
	f.scheduler.outcome = domain.Outcome{Operation: domain.OperationPush, Err: domain.ErrTransport}

	err := f.execute("run")

	require.NoError(t, err)
}

func TestToken_Set(t *testing.T) {
	f := newFixture()
	f.deps.Stdin = strings.NewReader("  ghp_example  \n")

	err := f.execute("token", "set")

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"https://git.example.com/team/notes.git": "ghp_example"}, f.tokens.tokens)
}

func TestToken_SetFailures(t *testing.T) {
	tests := []struct {
		name    string
		stdin   string
		remote  string
		store   error
		wantErr string
	}{
		{name: "empty stdin", stdin: "", remote: "https://git.example.com/team/notes.git", wantErr: "no token"},
		{name: "no remote", stdin: "tok\n", remote: "", wantErr: "remote URL not configured"},
		{name: "keyring failure", stdin: "tok\n", remote: "https://git.example.com/team/notes.git", store: errors.New("locked"), wantErr: "keyring error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.config.Settings.RemoteURL = tt.remote
			f.tokens.err = tt.store
			f.deps.Stdin = strings.NewReader(tt.stdin)

			err := f.execute("token", "set")

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestToken_Delete(t *testing.T) {
	f := newFixture()
	f.tokens.tokens["https://git.example.com/team/notes.git"] = "old"

	require.NoError(t, f.execute("token", "delete"))

	assert.Empty(t, f.tokens.tokens)
}

func TestWriteWarningf(t *testing.T) {
	var buf bytes.Buffer
	writeWarningf(&buf, "warning: %s\n", "test")
	assert.Equal(t, "warning: test\n", buf.String())
}
