package transcoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/doorbell/internal/events"
	"github.com/smazurov/doorbell/internal/logging"
	"github.com/smazurov/doorbell/internal/metrics"
)

var (
	// ErrAlreadyRunning is returned by Spawn when the key has a live process.
	ErrAlreadyRunning = errors.New("transcoder already running for session")
	// ErrSpawnFailed wraps launch failures.
	ErrSpawnFailed = errors.New("failed to spawn transcoder")
	// ErrNotRunning is returned by Stop for an unknown key.
	ErrNotRunning = errors.New("no transcoder running for session")
	// ErrUnexpectedExit describes a transcoder that exited without being
	// asked to.
	ErrUnexpectedExit = errors.New("transcoder exited unexpectedly")
)

// ProcessState is the lifecycle tag of a supervised process.
type ProcessState string

// Process states.
const (
	StateSpawned  ProcessState = "spawned"
	StateStopping ProcessState = "stopping"
	StateExited   ProcessState = "exited"
)

// ActiveProcess is a snapshot of one supervised process.
type ActiveProcess struct {
	Key       SessionKey   `json:"key"`
	PID       int          `json:"pid"`
	State     ProcessState `json:"state"`
	StartedAt time.Time    `json:"started_at"`
	Command   []string     `json:"command"`
}

// ExitHandler is told about every exit. expected is false for crashes.
type ExitHandler func(key SessionKey, exitCode int, expected bool)

type entry struct {
	ActiveProcess
	cmd  *exec.Cmd
	done chan struct{}
}

// Supervisor runs at most one transcoder per SessionKey.
type Supervisor struct {
	logger        *slog.Logger
	processLogger *slog.Logger
	bus           *events.Bus
	onExit        ExitHandler
	stopTimeout   time.Duration

	mu     sync.Mutex
	active map[SessionKey]*entry
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithExitHandler registers the exit callback.
func WithExitHandler(h ExitHandler) SupervisorOption {
	return func(s *Supervisor) { s.onExit = h }
}

// WithStopTimeout sets how long Stop waits after SIGINT before SIGKILL.
func WithStopTimeout(d time.Duration) SupervisorOption {
	return func(s *Supervisor) { s.stopTimeout = d }
}

// WithSupervisorEventBus publishes a TranscoderExitedEvent on every exit.
func WithSupervisorEventBus(bus *events.Bus) SupervisorOption {
	return func(s *Supervisor) { s.bus = bus }
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		logger:        logging.GetLogger("transcoder"),
		processLogger: logging.GetLogger("ffmpeg"),
		stopTimeout:   5 * time.Second,
		active:        make(map[SessionKey]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetExitHandler replaces the exit callback. Used when the handler's owner
// is built after the Supervisor.
func (s *Supervisor) SetExitHandler(h ExitHandler) {
	s.mu.Lock()
	s.onExit = h
	s.mu.Unlock()
}

// Spawn starts cmd with CommonDecodeArgs and argsTail and writes
// description to its stdin. It returns once the process has started.
func (s *Supervisor) Spawn(key SessionKey, cmd Candidate, argsTail []string, description string) error {
	argv := cmd.Argv(slices.Concat(CommonDecodeArgs, argsTail)...)
	return s.start(key, cmd.Executable, argv, strings.NewReader(description))
}

// SpawnPlayback starts cmd reading a recorded activity from url.
func (s *Supervisor) SpawnPlayback(key SessionKey, cmd Candidate, url string, argsTail []string) error {
	argv := cmd.Argv(slices.Concat(PlaybackInputArgs(url), argsTail)...)
	return s.start(key, cmd.Executable, argv, nil)
}

func (s *Supervisor) start(key SessionKey, executable string, argv []string, input io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.active[key]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, key)
	}

	c := exec.Command(executable, argv...)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdin io.WriteCloser
	if input != nil {
		var err error
		if stdin, err = c.StdinPipe(); err != nil {
			return fmt.Errorf("%w: stdin: %w", ErrSpawnFailed, err)
		}
	}
	stdout, err := c.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout: %w", ErrSpawnFailed, err)
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: stderr: %w", ErrSpawnFailed, err)
	}

	if err := c.Start(); err != nil {
		s.logger.Error("Failed to start transcoder", "session", key.String(), "error", err)
		return fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}

	e := &entry{
		ActiveProcess: ActiveProcess{
			Key:       key,
			PID:       c.Process.Pid,
			State:     StateSpawned,
			StartedAt: time.Now(),
			Command:   append([]string{executable}, argv...),
		},
		cmd:  c,
		done: make(chan struct{}),
	}
	s.active[key] = e
	metrics.TranscoderStarted()

	s.logger.Info("Transcoder started", "session", key.String(), "pid", e.PID, "command", strings.Join(e.Command, " "))

	if stdin != nil {
		go s.feed(key, stdin, input)
	}

	var progress *progressParser
	if slices.Contains(argv, "-progress") {
		progress = newProgressParser(key)
	}

	out := s.processLogger.With("device_id", key.DeviceID, "stream_type", string(key.StreamType))
	outputDone := make(chan struct{}, 2)
	go func() {
		s.streamOutput(out, stdout, "stdout", progress)
		outputDone <- struct{}{}
	}()
	go func() {
		s.streamOutput(out, stderr, "stderr", nil)
		outputDone <- struct{}{}
	}()

	// Wait closes the pipes, so both readers must reach EOF first or the
	// last lines of a crash are lost.
	go func() {
		<-outputDone
		<-outputDone
		s.handleExit(e, c.Wait())
	}()

	return nil
}

func (s *Supervisor) feed(key SessionKey, stdin io.WriteCloser, input io.Reader) {
	if _, err := io.Copy(stdin, input); err != nil {
		s.logger.Debug("Failed to write session description", "session", key.String(), "error", err)
	}
	if err := stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.logger.Debug("Failed to close transcoder stdin", "session", key.String(), "error", err)
	}
}

// handleExit classifies the exit. The process crashed if its entry is
// still registered in the spawned state; Stop removes the entry first.
func (s *Supervisor) handleExit(e *entry, waitErr error) {
	exitCode := exitCodeFromError(waitErr)

	s.mu.Lock()
	current, present := s.active[e.Key]
	expected := !(present && current == e && current.State == StateSpawned)
	if present && current == e {
		delete(s.active, e.Key)
	}
	e.State = StateExited
	onExit := s.onExit
	s.mu.Unlock()

	close(e.done)

	metrics.TranscoderExited(expected)
	metrics.DeleteTranscoderProgress(e.Key.DeviceID, string(e.Key.StreamType))

	switch {
	case expected:
		s.logger.Info("Transcoder exited", "session", e.Key.String(), "pid", e.PID, "exit_code", exitCode)
	case exitCode == 0 && e.Key.StreamType == StreamTypeRecording:
		s.logger.Info("Transcoder finished recording", "session", e.Key.String(), "pid", e.PID)
	default:
		s.logger.Error("Transcoder exited unexpectedly", "session", e.Key.String(), "pid", e.PID, "exit_code", exitCode, "error", waitErr)
	}

	s.bus.Publish(events.TranscoderExitedEvent{
		DeviceID:   e.Key.DeviceID,
		StreamType: string(e.Key.StreamType),
		ExitCode:   exitCode,
		Expected:   expected,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})

	if onExit != nil {
		onExit(e.Key, exitCode, expected)
	}
}

// Stop marks the process as stopping, removes it from the registry and
// sends SIGINT. It does not wait; SIGKILL follows if the process is still
// running after the stop timeout.
func (s *Supervisor) Stop(key SessionKey) error {
	s.mu.Lock()
	e, ok := s.active[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRunning, key)
	}
	e.State = StateStopping
	delete(s.active, key)
	s.mu.Unlock()

	s.logger.Info("Stopping transcoder", "session", key.String(), "pid", e.PID)
	if err := e.cmd.Process.Signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn("Failed to send SIGINT", "session", key.String(), "error", err)
	}

	go s.escalate(e)
	return nil
}

func (s *Supervisor) escalate(e *entry) {
	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()

	select {
	case <-e.done:
		return
	case <-timer.C:
	}

	s.logger.Warn("Graceful stop timeout, killing transcoder", "session", e.Key.String(), "pid", e.PID, "timeout", s.stopTimeout)
	// Negative pid signals the whole process group.
	if err := syscall.Kill(-e.PID, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Error("Failed to kill transcoder", "session", e.Key.String(), "error", err)
	}
}

// StopAll stops every process and waits for them to exit or ctx to end.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	keys := make([]SessionKey, 0, len(s.active))
	waits := make([]chan struct{}, 0, len(s.active))
	for k, e := range s.active {
		keys = append(keys, k)
		waits = append(waits, e.done)
	}
	s.mu.Unlock()

	for _, k := range keys {
		if err := s.Stop(k); err != nil && !errors.Is(err, ErrNotRunning) {
			s.logger.Warn("Failed to stop transcoder", "session", k.String(), "error", err)
		}
	}

	for _, done := range waits {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// List returns a snapshot of the running processes.
func (s *Supervisor) List() []ActiveProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActiveProcess, 0, len(s.active))
	for _, e := range s.active {
		p := e.ActiveProcess
		p.Command = slices.Clone(p.Command)
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b ActiveProcess) int {
		return strings.Compare(a.Key.String(), b.Key.String())
	})
	return out
}

// Running reports whether key has a registered process.
func (s *Supervisor) Running(key SessionKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[key]
	return ok
}

// streamOutput forwards process output to logger, mapping ffmpeg's level
// prefixes. Progress reports on stdout go to metrics instead.
func (s *Supervisor) streamOutput(logger *slog.Logger, reader io.Reader, source string, progress *progressParser) {
	scanner := bufio.NewScanner(reader)

	for scanner.Scan() {
		line := scanner.Text()
		if progress != nil && progress.handle(line) {
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		level, msg := ParseLogLevel(line)
		switch level {
		case "panic", "fatal", "error":
			logger.Error(msg)
		case "warning":
			logger.Warn(msg)
		case "verbose", "debug", "trace":
			logger.Debug(msg)
		default:
			logger.Info(msg)
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.logger.Warn("Error reading transcoder output", "source", source, "error", err)
	}
}

// exitCodeFromError returns 0 for nil, the exit code for an ExitError and
// 1 otherwise.
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
