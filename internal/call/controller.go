// Package call runs call sessions against doorbell devices: negotiate the
// call with the cloud, punch the firewall, then hand the media to a
// supervised transcoder until the call is stopped or the transcoder dies.
package call

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/smazurov/doorbell/internal/cloud"
	"github.com/smazurov/doorbell/internal/events"
	"github.com/smazurov/doorbell/internal/logging"
	"github.com/smazurov/doorbell/internal/metrics"
	"github.com/smazurov/doorbell/internal/sdp"
	"github.com/smazurov/doorbell/internal/sink"
	"github.com/smazurov/doorbell/internal/transcoder"
)

// CloudAPI is the part of the cloud client a call needs.
type CloudAPI interface {
	StartCall(ctx context.Context, deviceID string) (*cloud.CallEndpoints, error)
	StopCall(ctx context.Context, deviceID string) error
	ActivityVideoURL(ctx context.Context, deviceID, activityID string) (string, error)
}

// DeviceResolver looks devices up by id.
type DeviceResolver interface {
	Resolve(id string) (cloud.Device, error)
}

// Puncher opens the firewall for the incoming media ports.
type Puncher interface {
	Punch(ctx context.Context, host string, ports []uint16) error
}

// CommandResolver returns the transcoder command to run.
type CommandResolver interface {
	Resolve(ctx context.Context) (transcoder.Candidate, error)
}

// ProcessSupervisor runs transcoder processes.
type ProcessSupervisor interface {
	Spawn(key transcoder.SessionKey, cmd transcoder.Candidate, argsTail []string, description string) error
	SpawnPlayback(key transcoder.SessionKey, cmd transcoder.Candidate, url string, argsTail []string) error
	Stop(key transcoder.SessionKey) error
}

// Config tunes the controller.
type Config struct {
	// Retries is the number of negotiation attempts, at least one.
	Retries          int
	RetryDelay       time.Duration
	MaxRetryDelay    time.Duration
	NegotiateTimeout time.Duration
	HangupTimeout    time.Duration
	Output           transcoder.OutputOptions
	Sink             sink.MediaSink
}

// DefaultConfig returns the controller defaults.
func DefaultConfig() Config {
	return Config{
		Retries:          3,
		RetryDelay:       time.Second,
		MaxRetryDelay:    10 * time.Second,
		NegotiateTimeout: 15 * time.Second,
		HangupTimeout:    5 * time.Second,
		Sink:             sink.File{Path: sink.DefaultFileTarget},
	}
}

// Deps are the controller's collaborators.
type Deps struct {
	Cloud      CloudAPI
	Devices    DeviceResolver
	Puncher    Puncher
	Resolver   CommandResolver
	Supervisor ProcessSupervisor
	Bus        *events.Bus
}

// Controller owns at most one session per device.
type Controller struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewController creates a Controller. The supervisor's exit handler must
// be wired to HandleExit.
func NewController(deps Deps, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = max(def.MaxRetryDelay, cfg.RetryDelay)
	}
	if cfg.HangupTimeout <= 0 {
		cfg.HangupTimeout = def.HangupTimeout
	}
	if cfg.Sink == nil {
		cfg.Sink = def.Sink
	}
	return &Controller{
		deps:     deps,
		cfg:      cfg,
		logger:   logging.GetLogger("call"),
		sessions: make(map[string]*Session),
	}
}

// StartCameraStream starts a live call, or playback of activityID when it
// is not empty, and returns once the transcoder is running. On failure the
// returned session, if any, is in the error state and the error is a
// *CallError.
func (c *Controller) StartCameraStream(ctx context.Context, deviceID, activityID string) (*Session, error) {
	device, err := c.deps.Devices.Resolve(deviceID)
	if err != nil {
		return nil, NewCallError(ErrCodeDeviceNotFound, fmt.Sprintf("device %s not found", deviceID), err)
	}

	s, err := c.newSession(device, activityID)
	if err != nil {
		return nil, err
	}

	if err := c.fire(ctx, s, eventNegotiate, nil); err != nil {
		return s, err
	}

	if activityID != "" {
		return s, c.startPlayback(ctx, s)
	}
	return s, c.startLive(ctx, s)
}

func (c *Controller) newSession(device cloud.Device, activityID string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.sessions[device.ID]; ok && !existing.State().Terminal() {
		return nil, NewCallError(ErrCodeCallInProgress,
			fmt.Sprintf("device %s already has a %s session", device.ID, existing.State()), nil)
	}

	s := &Session{
		DeviceID:   device.ID,
		DeviceName: device.Name,
		ActivityID: activityID,
		StartedAt:  time.Now(),
		done:       make(chan struct{}),
	}
	s.machine = fsm.NewFSM(string(StateIdle), sessionEvents(), fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			c.handleStateChange(s, e)
		},
	})
	c.sessions[device.ID] = s
	return s, nil
}

func (c *Controller) startLive(ctx context.Context, s *Session) error {
	endpoints, err := retry(ctx, c, s, func(ctx context.Context) (*cloud.CallEndpoints, error) {
		return c.deps.Cloud.StartCall(ctx, s.DeviceID)
	})
	if err != nil {
		return c.fail(ctx, s, ErrCodeNegotiationFailed, "call negotiation failed", err)
	}

	video, audio := endpoints.IncomingVideo, endpoints.IncomingAudio
	desc, err := sdp.Build(video, audio, s.DeviceName)
	if err != nil {
		c.hangup(ctx, s)
		return c.fail(ctx, s, ErrCodeInvalidEndpoint, "cloud returned an unusable stream endpoint", err)
	}

	if err := c.fire(ctx, s, eventEndpoints, nil); err != nil {
		return err
	}

	if err := c.deps.Puncher.Punch(ctx, video.Server, []uint16{video.Port, audio.Port}); err != nil {
		c.hangup(ctx, s)
		return c.fail(ctx, s, ErrCodePunchFailed, "firewall punch failed", err)
	}

	if err := c.fire(ctx, s, eventPunched, nil); err != nil {
		return err
	}

	cmd, err := c.deps.Resolver.Resolve(ctx)
	if err != nil {
		c.hangup(ctx, s)
		return c.fail(ctx, s, ErrCodeNoTranscoder, "no transcoder available", err)
	}

	tail := transcoder.OutputArgs(c.cfg.Output, c.cfg.Sink)
	if err := c.deps.Supervisor.Spawn(s.Key(), cmd, tail, desc.String()); err != nil {
		c.hangup(ctx, s)
		return c.fail(ctx, s, ErrCodeSpawnFailed, "failed to start transcoder", err)
	}

	return c.fire(ctx, s, eventSpawned, nil)
}

func (c *Controller) startPlayback(ctx context.Context, s *Session) error {
	url, err := retry(ctx, c, s, func(ctx context.Context) (string, error) {
		return c.deps.Cloud.ActivityVideoURL(ctx, s.DeviceID, s.ActivityID)
	})
	if err != nil {
		return c.fail(ctx, s, ErrCodeNegotiationFailed, "activity video lookup failed", err)
	}

	if err := c.fire(ctx, s, eventPlayback, nil); err != nil {
		return err
	}

	cmd, err := c.deps.Resolver.Resolve(ctx)
	if err != nil {
		return c.fail(ctx, s, ErrCodeNoTranscoder, "no transcoder available", err)
	}

	tail := transcoder.OutputArgs(c.cfg.Output, c.cfg.Sink)
	if err := c.deps.Supervisor.SpawnPlayback(s.Key(), cmd, url, tail); err != nil {
		return c.fail(ctx, s, ErrCodeSpawnFailed, "failed to start transcoder", err)
	}

	if err := c.fire(ctx, s, eventSpawned, nil); err != nil && s.State() != StateStopped {
		return err
	}
	return nil
}

// retry runs fn up to cfg.Retries times with exponential backoff. Each
// attempt gets its own NegotiateTimeout.
func retry[T any](ctx context.Context, c *Controller, s *Session, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	delay := c.cfg.RetryDelay

	for attempt := 1; ; attempt++ {
		actx, cancel := ctx, context.CancelFunc(func() {})
		if c.cfg.NegotiateTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, c.cfg.NegotiateTimeout)
		}
		v, err := fn(actx)
		cancel()
		if err == nil {
			return v, nil
		}

		if attempt >= c.cfg.Retries {
			return zero, fmt.Errorf("after %d attempts: %w", attempt, err)
		}

		c.logger.Warn("Call negotiation failed, retrying",
			"device_id", s.DeviceID, "attempt", attempt, "max_attempts", c.cfg.Retries,
			"retry_in", delay, "error", err)
		metrics.NegotiationRetry()

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay = min(delay*2, c.cfg.MaxRetryDelay)
	}
}

// StopCameraStream stops a streaming session. The transcoder is signalled
// without waiting for it to exit. Stopping an ended session is a no-op.
func (c *Controller) StopCameraStream(ctx context.Context, deviceID string) error {
	s, ok := c.Session(deviceID)
	if !ok {
		return NewCallError(ErrCodeCallNotFound, fmt.Sprintf("no call for device %s", deviceID), nil)
	}

	state := s.State()
	if state.Terminal() {
		return nil
	}
	if state != StateStreaming {
		return NewCallError(ErrCodeInvalidState, fmt.Sprintf("call is %s, stop once it is streaming", state), nil)
	}

	if err := c.deps.Supervisor.Stop(s.Key()); err != nil {
		c.logger.Warn("Transcoder was not running", "device_id", deviceID, "error", err)
	}

	if err := c.fire(ctx, s, eventStop, nil); err != nil {
		// A crash won the race; the session already ended.
		c.logger.Debug("Session ended before stop", "device_id", deviceID, "state", s.State())
		return nil
	}

	c.hangup(ctx, s)
	return nil
}

// StopAll stops every streaming session.
func (c *Controller) StopAll(ctx context.Context) {
	for _, info := range c.Sessions() {
		if State(info.State) != StateStreaming {
			continue
		}
		if err := c.StopCameraStream(ctx, info.DeviceID); err != nil {
			c.logger.Warn("Failed to stop call", "device_id", info.DeviceID, "error", err)
		}
	}
}

// HandleExit receives transcoder exits. A crash fails the owning session;
// a playback that exits cleanly has reached the end of the recording.
func (c *Controller) HandleExit(key transcoder.SessionKey, exitCode int, expected bool) {
	if expected {
		return
	}

	s, ok := c.Session(key.DeviceID)
	if !ok || s.Key() != key {
		return
	}

	if key.StreamType == transcoder.StreamTypeRecording && exitCode == 0 {
		if err := c.fire(context.Background(), s, eventCompleted, nil); err != nil {
			c.logger.Debug("Session ended before playback finished", "device_id", s.DeviceID, "error", err)
		}
		return
	}

	ce := NewCallError(ErrCodeUnexpectedExit, "transcoder exited unexpectedly",
		fmt.Errorf("%w: exit code %d", transcoder.ErrUnexpectedExit, exitCode))
	if err := c.fire(context.Background(), s, eventFail, ce); err != nil {
		return
	}
	c.hangup(context.Background(), s)
}

// Session returns the latest session for a device, which may have ended.
func (c *Controller) Session(deviceID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[deviceID]
	return s, ok
}

// Sessions returns a snapshot of the latest session of every device.
func (c *Controller) Sessions() []Info {
	c.mu.Lock()
	list := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		list = append(list, s)
	}
	c.mu.Unlock()

	infos := make([]Info, 0, len(list))
	for _, s := range list {
		infos = append(infos, s.Info())
	}
	slices.SortFunc(infos, func(a, b Info) int { return strings.Compare(a.DeviceID, b.DeviceID) })
	return infos
}

// fail moves s to the error state and returns the CallError. The error is
// returned even if s had already ended.
func (c *Controller) fail(ctx context.Context, s *Session, code, message string, cause error) error {
	ce := NewCallError(code, message, cause)
	if err := c.fire(ctx, s, eventFail, ce); err != nil {
		c.logger.Debug("Session already ended", "device_id", s.DeviceID, "code", code)
	}
	return ce
}

// fire runs a transition. Transitions are not abandoned when the caller's
// ctx ends.
func (c *Controller) fire(ctx context.Context, s *Session, event string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	var err error
	if cause != nil {
		err = s.machine.Event(ctx, event, cause)
	} else {
		err = s.machine.Event(ctx, event)
	}
	if err == nil {
		return nil
	}
	if s.State() == StateError {
		if serr := s.Err(); serr != nil {
			return serr
		}
	}
	return fmt.Errorf("call %s: %s in state %s: %w", s.DeviceID, event, s.State(), err)
}

func (c *Controller) handleStateChange(s *Session, e *fsm.Event) {
	var cause error
	if len(e.Args) > 0 {
		cause, _ = e.Args[0].(error)
	}

	logger := c.logger.With("device_id", s.DeviceID, "stream_type", string(s.Key().StreamType))
	to := State(e.Dst)

	switch to {
	case StateStreaming:
		logger.Info("Call streaming", "from", e.Src)
		metrics.CallStarted(string(s.Key().StreamType))
	case StateStopped:
		if e.Event == eventCompleted {
			logger.Info("Playback finished")
		} else {
			logger.Info("Call stopped")
		}
		s.ended(nil)
	case StateError:
		logger.Error("Call failed", "from", e.Src, "error", cause)
		metrics.CallFailed(Code(cause))
		s.ended(cause)
	default:
		logger.Debug("Call state changed", "from", e.Src, "to", e.Dst)
	}

	ev := events.CallStateChangedEvent{
		DeviceID:   s.DeviceID,
		ActivityID: s.ActivityID,
		From:       e.Src,
		To:         e.Dst,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	c.deps.Bus.Publish(ev)
}

// hangup tells the cloud to end a live call. Failures are logged only.
func (c *Controller) hangup(ctx context.Context, s *Session) {
	if s.ActivityID != "" {
		return
	}
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.HangupTimeout)
	defer cancel()
	if err := c.deps.Cloud.StopCall(hctx, s.DeviceID); err != nil {
		c.logger.Warn("Failed to end call on the cloud", "device_id", s.DeviceID, "error", err)
	}
}

// IsNotFound reports whether err means the device or call does not exist.
func IsNotFound(err error) bool {
	code := Code(err)
	return code == ErrCodeDeviceNotFound || code == ErrCodeCallNotFound
}
