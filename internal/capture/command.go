package capture

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/turntable-relay/internal/errors"
	"github.com/tphakala/turntable-relay/internal/logger"
)

// killTimeout is how long a process gets to exit after SIGTERM before it is killed.
const killTimeout = 5 * time.Second

// CommandSource captures PCM from the standard output of an external command.
type CommandSource struct {
	Path string
	Args []string
	// SourceName overrides Name, defaults to the command base name
	SourceName string
	log        logger.Logger
}

// NewCommandSource creates a source that runs path with args.
func NewCommandSource(path string, args []string, log logger.Logger) *CommandSource {
	if log == nil {
		log = logger.Global().Module("capture")
	}
	return &CommandSource{Path: path, Args: args, log: log}
}

// Name returns the source name
func (c *CommandSource) Name() string {
	if c.SourceName != "" {
		return c.SourceName
	}
	return c.Path
}

// Start spawns the command in its own process group. The whole group is stopped when ctx is cancelled or the
// returned stream is closed.
func (c *CommandSource) Start(ctx context.Context) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	setupProcessGroup(cmd)
	cmd.Cancel = func() error {
		return terminateProcessGroup(cmd)
	}
	cmd.WaitDelay = killTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.New(err).
			Component("capture").
			Category(errors.CategoryCommand).
			Context("operation", "stdout_pipe").
			Context("command", c.Path).
			Build()
	}
	stderr := &stderrLog{log: c.log.With(logger.String("source", c.Name()))}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, errors.New(err).
			Component("capture").
			Category(errors.CategoryCommand).
			Context("operation", "start_process").
			Context("command", c.Path).
			Context("args", strings.Join(c.Args, " ")).
			Build()
	}

	c.log.Debug("capture process started",
		logger.String("command", c.Path),
		logger.String("args", strings.Join(c.Args, " ")),
		logger.Int("pid", cmd.Process.Pid))

	return &processStream{ctx: ctx, cmd: cmd, stdout: stdout, stderr: stderr, name: c.Path}, nil
}

// processStream is the stdout of a running capture process.
type processStream struct {
	ctx    context.Context
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *stderrLog
	name   string

	eof       atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (p *processStream) Read(b []byte) (int, error) {
	n, err := p.stdout.Read(b)
	if err == io.EOF {
		p.eof.Store(true)
	}
	return n, err
}

// Close stops the process if it is still producing output, waits for it and
// reports a non-zero exit that was not caused by the stop request.
func (p *processStream) Close() error {
	p.closeOnce.Do(func() {
		requested := !p.eof.Load()
		if requested {
			_ = terminateProcessGroup(p.cmd)
		}

		done := make(chan error, 1)
		go func() { done <- p.cmd.Wait() }()

		var err error
		select {
		case err = <-done:
		case <-time.After(killTimeout):
			_ = killProcessGroup(p.cmd)
			err = <-done
		}
		// reap helpers that outlived the group leader
		_ = killProcessGroup(p.cmd)

		if err == nil || requested || p.ctx.Err() != nil {
			return
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		p.closeErr = errors.New(err).
			Component("capture").
			Category(errors.CategoryCapture).
			Context("command", p.name).
			Context("exit_code", exitCode).
			Context("stderr", p.stderr.LastLine()).
			Build()
	})
	return p.closeErr
}

// stderrLog forwards process stderr to the debug log line by line.
type stderrLog struct {
	log  logger.Logger
	mu   sync.Mutex
	buf  []byte
	last string
}

func (s *stderrLog) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, p...)
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(s.buf[:i]))
		s.buf = s.buf[i+1:]
		if line == "" {
			continue
		}
		s.last = line
		s.log.Debug("capture process stderr", logger.String("line", line))
	}
	return len(p), nil
}

// LastLine returns the most recent complete line, or the pending partial one.
func (s *stderrLog) LastLine() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pending := strings.TrimSpace(string(s.buf)); pending != "" {
		return pending
	}
	return s.last
}
