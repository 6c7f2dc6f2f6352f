package testrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/martinemde/codeloop/protocol"
	"github.com/martinemde/codeloop/workspace"
)

// DefaultCommand is the test command used when none is configured.
var DefaultCommand = []string{"go", "test", "-json"}

// DefaultTimeout bounds one test run.
const DefaultTimeout = 5 * time.Minute

// sensitiveEnvPatterns are case-insensitive suffixes of variables that are
// withheld from the test process.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always passed through.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "GOCACHE": true, "GOMODCACHE": true,
	"GOFLAGS": true, "GOPROXY": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

func filterEnvironment(environ []string) []string {
	var filtered []string
	for _, env := range environ {
		name, _, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, env)
		}
	}
	return filtered
}

// GoRunner runs `go test -json` (or a compatible command) in a child
// process group rooted at Dir.
type GoRunner struct {
	Dir     string
	Command []string
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewGoRunner returns a runner for the project at dir. An empty command
// means DefaultCommand.
func NewGoRunner(dir string, command []string, timeout time.Duration, logger *zap.Logger) *GoRunner {
	if len(command) == 0 {
		command = DefaultCommand
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir == "" {
		dir, _ = os.Getwd()
	}
	return &GoRunner{Dir: dir, Command: command, Timeout: timeout, Logger: logger}
}

// PackagePattern maps a run target to a package pattern: the all-tests
// sentinel becomes "./...", a file path becomes its directory.
func PackagePattern(target string) string {
	t := strings.TrimSpace(target)
	if t == "" || strings.EqualFold(t, protocol.AllTests) {
		return "./..."
	}
	p := workspace.Normalize(t)
	if strings.HasSuffix(p, "/...") {
		return "./" + p
	}
	if path.Ext(p) != "" {
		p = path.Dir(p)
	}
	if p == "." || p == "" {
		return "."
	}
	return "./" + p
}

// RunTests executes the tests selected by target. Assertion failures are
// reported in the Report; an error means the run itself failed.
func (r *GoRunner) RunTests(ctx context.Context, target string) (*Report, error) {
	if len(r.Command) == 0 {
		return nil, errors.New("no test command configured")
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	pattern := PackagePattern(target)
	args := append(append([]string(nil), r.Command[1:]...), pattern)
	cmd := exec.CommandContext(ctx, r.Command[0], args...)
	cmd.Dir = filepath.Clean(r.Dir)
	cmd.Env = filterEnvironment(os.Environ())

	// Own process group so a timeout kills the compiled test binaries too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log := r.Logger.With(zap.String("target", pattern))
	start := time.Now()
	err := cmd.Run()
	log.Debug("test run finished", zap.Duration("duration", time.Since(start)), zap.Error(err))

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, &ExecutionError{ExitCode: -1, TimedOut: true}
		}
		return nil, fmt.Errorf("run tests: %w", ctxErr)
	}

	report, seen, scanErr := ParseGoTestJSON(&stdout)
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("run tests: %w", err)
		}
		exitCode = exitErr.ExitCode()
		if !seen {
			return nil, &ExecutionError{ExitCode: exitCode, Output: stderr.String() + stdout.String()}
		}
	}
	if scanErr != nil {
		return nil, &ExecutionError{ExitCode: exitCode, Output: "read test output: " + scanErr.Error(), Err: scanErr}
	}
	log.Info("tests run", zap.Int("passed", report.NumPassed), zap.Int("failed", report.NumFailed))
	return report, nil
}
