// Package process supervises a single subprocess: it streams output through
// the logging stack, reports exit, and escalates SIGINT to SIGKILL on stop.
package process

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/deskcast/deskcast/internal/logging"
)

// LogParser parses a subprocess output line and returns the log level and
// message. Used to extract structured log info from process-specific output
// formats (ffmpeg etc.).
type LogParser func(line string) (level, msg string)

// killExitCode mirrors the shell convention for SIGKILL (128+9).
const killExitCode = 137

// Handle manages the lifecycle of a supervised subprocess.
type Handle struct {
	name string
	args []string

	logger        logging.Logger
	processLogger logging.Logger // logger for process output (nil = use logger)
	logParser     LogParser      // parses process output for log level (nil = info)

	cmd        *exec.Cmd
	done       chan struct{}
	outputDone chan struct{} // receives twice, once per output stream

	mu      sync.Mutex
	waitErr error

	gracefulTimeout time.Duration // time for SIGINT to take effect before SIGKILL
	killTimeout     time.Duration // time after SIGKILL before giving up
}

// New creates a handle for the given executable and argument vector.
func New(name string, args []string, logger logging.Logger) *Handle {
	return &Handle{
		name:            name,
		args:            args,
		logger:          logger,
		done:            make(chan struct{}),
		outputDone:      make(chan struct{}, 2),
		gracefulTimeout: 5 * time.Second,
		killTimeout:     5 * time.Second,
	}
}

// SetLogParser sets a custom logger and log parser for process output.
// The logger is used for the subprocess's own lines (e.g. module="ffmpeg").
func (h *Handle) SetLogParser(logger logging.Logger, parser LogParser) {
	h.processLogger = logger
	h.logParser = parser
}

// Start launches the subprocess in its own process group and begins
// streaming its output.
func (h *Handle) Start() error {
	h.cmd = exec.Command(h.name, h.args...)
	h.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := h.cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := h.cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := h.cmd.Start(); err != nil {
		return err
	}
	h.logger.Info("Process started", "name", h.name, "pid", h.cmd.Process.Pid)

	go func() {
		h.streamOutput(stdout, "stdout")
		h.outputDone <- struct{}{}
	}()
	go func() {
		h.streamOutput(stderr, "stderr")
		h.outputDone <- struct{}{}
	}()

	go func() {
		err := h.cmd.Wait()
		h.mu.Lock()
		h.waitErr = err
		h.mu.Unlock()
		close(h.done)
	}()

	return nil
}

// Done is closed when the subprocess exits for any reason.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitCode returns the subprocess exit code. Only meaningful after Done()
// is closed.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return exitCodeFromError(h.waitErr)
}

// Pid returns the subprocess pid, or 0 before Start.
func (h *Handle) Pid() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Stop terminates the subprocess: SIGINT first, SIGKILL after the graceful
// timeout. Safe to call when the process has already exited; returns the
// exit code in every case.
func (h *Handle) Stop() int {
	select {
	case <-h.done:
		return h.ExitCode()
	default:
	}

	h.sendStopSignal()

	select {
	case <-h.done:
		code := h.ExitCode()
		h.logger.Info("Process stopped", "name", h.name, "exit_code", code)
		return code
	case <-time.After(h.gracefulTimeout):
		h.logger.Warn("Graceful shutdown timeout, forcing kill", "timeout", h.gracefulTimeout)
		if h.cmd.Process != nil {
			if err := h.cmd.Process.Kill(); err != nil {
				// Process may have exited between the timeout and the kill.
				if !errors.Is(err, os.ErrProcessDone) {
					h.logger.Error("Failed to kill process", "error", err)
				}
			}
		}
		select {
		case <-h.done:
		case <-time.After(h.killTimeout):
			h.logger.Error("Process did not exit after kill signal")
		}
		return killExitCode
	}
}

// WaitOutputDone blocks until both output streams have drained. Call after
// Done() to avoid losing trailing log lines.
func (h *Handle) WaitOutputDone() {
	<-h.outputDone
	<-h.outputDone
}

func (h *Handle) sendStopSignal() {
	if h.cmd == nil || h.cmd.Process == nil {
		return
	}
	h.logger.Info("Sending SIGINT to process", "pid", h.cmd.Process.Pid)
	if err := h.cmd.Process.Signal(syscall.SIGINT); err != nil {
		h.logger.Warn("Failed to send SIGINT", "error", err)
	}
}

// exitCodeFromError extracts the exit code from a Wait error.
// Returns 0 for nil, the exit code for ExitError, or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

// streamOutput routes subprocess output lines through the configured logger,
// using the LogParser to map process-specific levels onto slog levels.
func (h *Handle) streamOutput(reader io.Reader, source string) {
	scanner := bufio.NewScanner(reader)

	logger := h.processLogger
	if logger == nil {
		logger = h.logger
	}

	for scanner.Scan() {
		line := scanner.Text()

		level, msg := "info", line
		if h.logParser != nil {
			level, msg = h.logParser(line)
		}

		switch level {
		case "fatal", "error":
			logger.Error(msg)
		case "warning":
			logger.Warn(msg)
		case "debug", "trace":
			logger.Debug(msg)
		default:
			logger.Info(msg)
		}
	}

	if err := scanner.Err(); err != nil {
		h.logger.Warn("Error reading output", "source", source, "error", err)
	}
}
