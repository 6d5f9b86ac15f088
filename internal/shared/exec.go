package shared

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"feature-overlay/internal/logger"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxOutput = 64 * 1024

	// sandboxPath is the only environment variable a script sees.
	sandboxPath = "PATH=/usr/local/bin:/usr/bin:/bin"
)

// ExecOptions gate and bound script execution.
type ExecOptions struct {
	Enabled      bool
	Timeout      time.Duration
	MaxOutput    int
	Interpreters map[string]string // file extension -> interpreter command
}

// ExecResult describes one script run. Err is set whenever the run did not
// complete with exit code zero, including runs refused before starting.
type ExecResult struct {
	Name        string
	Interpreter string
	ExitCode    int
	Stdout      string
	Stderr      string
	Duration    time.Duration
	Err         error
}

func (r *ExecResult) OK() bool {
	return r != nil && r.Err == nil && r.ExitCode == 0
}

// Message renders the result the way the host displays it.
func (r *ExecResult) Message() string {
	if r.OK() {
		return fmt.Sprintf("Executed %s successfully.", r.Name)
	}
	reason := "unknown failure"
	if r.Err != nil {
		reason = r.Err.Error()
	}
	if stderr := strings.TrimSpace(r.Stderr); stderr != "" {
		reason += ": " + stderr
	}
	return fmt.Sprintf("Error executing %s: %s", r.Name, reason)
}

// Executor runs scripts from a Folder in a child process with an empty
// environment, the folder as working directory, and a deadline.
type Executor struct {
	folder *Folder
	opts   ExecOptions
	logger logger.Logger
}

func NewExecutor(folder *Folder, opts ExecOptions, log logger.Logger) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = DefaultMaxOutput
	}
	if log == nil {
		log = logger.NoOpLogger{}
	}
	return &Executor{folder: folder, opts: opts, logger: log}
}

// Run executes name. The returned result is never nil; err mirrors
// result.Err.
func (e *Executor) Run(ctx context.Context, name string) (*ExecResult, error) {
	res := &ExecResult{Name: name, ExitCode: -1}

	if !e.opts.Enabled {
		res.Err = ErrExecDisabled
		e.logger.Warning("Executor", "execution refused", map[string]interface{}{
			"name": name,
		})
		return res, res.Err
	}

	path, err := e.folder.Path(name)
	if err != nil {
		res.Err = err
		return res, err
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		res.Err = fmt.Errorf("%w: %s", ErrNotFound, name)
		return res, res.Err
	}

	interpreter, ok := e.opts.Interpreters[strings.ToLower(filepath.Ext(name))]
	if !ok {
		res.Err = fmt.Errorf("%w: %s", ErrInterpreter, name)
		return res, res.Err
	}
	interpreterPath, err := exec.LookPath(interpreter)
	if err != nil {
		res.Err = fmt.Errorf("%w: %s: %v", ErrInterpreter, interpreter, err)
		return res, res.Err
	}
	res.Interpreter = interpreterPath

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	stdout := &cappedBuffer{limit: e.opts.MaxOutput}
	stderr := &cappedBuffer{limit: e.opts.MaxOutput}

	// The ./ prefix keeps names such as "-c.sh" from parsing as interpreter flags.
	cmd := exec.CommandContext(ctx, interpreterPath, "./"+name)
	cmd.Dir = e.folder.Root
	cmd.Env = []string{sandboxPath}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	e.logger.Debug("Executor", "starting script", map[string]interface{}{
		"name":        name,
		"interpreter": interpreterPath,
		"timeout":     e.opts.Timeout.String(),
	})

	start := time.Now()
	runErr := cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		res.ExitCode = 0
	case ctx.Err() != nil:
		res.Err = fmt.Errorf("shared: %s: %w", name, ctx.Err())
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		res.Err = fmt.Errorf("shared: %s exited with code %d", name, res.ExitCode)
	default:
		res.Err = fmt.Errorf("shared: run %s: %w", name, runErr)
	}

	if res.Err != nil {
		e.logger.Error("Executor", res.Err, map[string]interface{}{
			"name":        name,
			"exit_code":   res.ExitCode,
			"duration_ms": res.Duration.Milliseconds(),
		})
		return res, res.Err
	}

	e.logger.Info("Executor", "script finished", map[string]interface{}{
		"name":        name,
		"duration_ms": res.Duration.Milliseconds(),
	})
	return res, nil
}

// cappedBuffer keeps the first limit bytes and silently drops the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
			c.truncated = true
		} else {
			c.buf.Write(p)
		}
	} else if len(p) > 0 {
		c.truncated = true
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	if c.truncated {
		return c.buf.String() + "\n[output truncated]"
	}
	return c.buf.String()
}
