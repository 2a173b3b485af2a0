package gitcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

// Result holds the captured output of one git invocation.
type Result struct {
	Stdout string
	Stderr string
}

// Runner executes git commands in a directory.
// Implementations may call the git binary or simulate it in tests.
type Runner interface {
	Run(ctx context.Context, dir string, env []string, args ...string) (Result, error)
}

// CommandError is returned when git exits unsuccessfully.
// Stderr is already scrubbed of credentials.
type CommandError struct {
	Command  string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("git %s: %s", e.Command, e.Stderr)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner executes the configured git binary.
type ExecRunner struct {
	GitBin string
}

var _ Runner = (*ExecRunner)(nil)

// NewExecRunner creates a runner for gitBin, defaulting to "git" on PATH.
func NewExecRunner(gitBin string) *ExecRunner {
	if strings.TrimSpace(gitBin) == "" {
		gitBin = "git"
	}
	return &ExecRunner{GitBin: gitBin}
}

// Available reports whether the git binary can be executed on this host.
func (r *ExecRunner) Available() bool {
	_, err := exec.LookPath(r.GitBin)
	return err == nil
}

// Run executes git with args in dir. env is appended to the process environment.
func (r *ExecRunner) Run(ctx context.Context, dir string, env []string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, r.GitBin, args...)
	if strings.TrimSpace(dir) != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(), env...)

	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	res := Result{Stdout: out.String(), Stderr: errb.String()}
	if err != nil {
		msg := strings.TrimSpace(errb.String())
		if msg == "" {
			msg = strings.TrimSpace(out.String())
		}
		if msg == "" {
			msg = err.Error()
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return res, &CommandError{
			Command:  sanitizeArgs(args),
			Stderr:   redactTokens(msg),
			ExitCode: code,
			Err:      err,
		}
	}
	return res, nil
}

var safeArgPattern = regexp.MustCompile(`^[a-z][a-z-]*$`)

// sanitizeArgs returns a minimal, non-sensitive summary of the git operation.
// Leading "-c key=value" pairs are skipped and at most two subcommand words are kept.
func sanitizeArgs(args []string) string {
	for len(args) >= 2 && args[0] == "-c" {
		args = args[2:]
	}
	if len(args) == 0 {
		return "<no-args>"
	}
	safe := make([]string, 0, 2)
	for _, a := range args {
		if !safeArgPattern.MatchString(a) {
			// stop on first non-safe token to avoid leaking paths/urls
			break
		}
		safe = append(safe, a)
		if len(safe) == 2 {
			break
		}
	}
	if len(safe) == 0 {
		return "<redacted>"
	}
	return strings.Join(safe, " ")
}

var (
	credentialURLPattern = regexp.MustCompile(`https?://[^\s@/]+@`)
	secretAssignPattern  = regexp.MustCompile(`(?i)(token|secret|password|passwd|bearer)=[^\s]+`)
)

// redactTokens removes obvious credential substrings from messages.
func redactTokens(s string) string {
	s = credentialURLPattern.ReplaceAllString(s, "https://<redacted>@")
	s = secretAssignPattern.ReplaceAllString(s, "$1=<redacted>")
	return s
}
