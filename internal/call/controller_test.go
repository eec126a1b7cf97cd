package call

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smazurov/doorbell/internal/cloud"
	"github.com/smazurov/doorbell/internal/devices"
	"github.com/smazurov/doorbell/internal/events"
	"github.com/smazurov/doorbell/internal/punch"
	"github.com/smazurov/doorbell/internal/sink"
	"github.com/smazurov/doorbell/internal/transcoder"
)

type fakeCloud struct {
	mu          sync.Mutex
	failures    int
	startCalls  int
	stopCalls   int
	videoURL    string
	endpoints   cloud.CallEndpoints
	startCallFn func() error
}

func (f *fakeCloud) StartCall(context.Context, string) (*cloud.CallEndpoints, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startCalls <= f.failures {
		return nil, errors.New("device busy")
	}
	ep := f.endpoints
	return &ep, nil
}

func (f *fakeCloud) StopCall(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return nil
}

func (f *fakeCloud) ActivityVideoURL(context.Context, string, string) (string, error) {
	return f.videoURL, nil
}

func (f *fakeCloud) counts() (start, stop int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls, f.stopCalls
}

type fakeDevices map[string]cloud.Device

func (f fakeDevices) Resolve(id string) (cloud.Device, error) {
	if d, ok := f[id]; ok {
		return d, nil
	}
	return cloud.Device{}, devices.ErrDeviceNotFound
}

type fakePuncher struct {
	mu    sync.Mutex
	host  string
	ports []uint16
	err   error
	calls int
}

func (f *fakePuncher) Punch(_ context.Context, host string, ports []uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.host, f.ports = host, slices.Clone(ports)
	return f.err
}

type fakeResolver struct {
	cmd transcoder.Candidate
	err error
}

func (f fakeResolver) Resolve(context.Context) (transcoder.Candidate, error) {
	return f.cmd, f.err
}

type spawnRecord struct {
	key  transcoder.SessionKey
	argv []string
	desc string
	url  string
}

type fakeSupervisor struct {
	mu      sync.Mutex
	spawned []spawnRecord
	stopped []transcoder.SessionKey
	err     error
}

func (f *fakeSupervisor) Spawn(key transcoder.SessionKey, cmd transcoder.Candidate, tail []string, desc string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	argv := cmd.Argv(slices.Concat(transcoder.CommonDecodeArgs, tail)...)
	f.spawned = append(f.spawned, spawnRecord{key: key, argv: argv, desc: desc})
	return nil
}

func (f *fakeSupervisor) SpawnPlayback(key transcoder.SessionKey, cmd transcoder.Candidate, url string, tail []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	argv := cmd.Argv(slices.Concat(transcoder.PlaybackInputArgs(url), tail)...)
	f.spawned = append(f.spawned, spawnRecord{key: key, argv: argv, url: url})
	return nil
}

func (f *fakeSupervisor) Stop(key transcoder.SessionKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, key)
	return nil
}

var ffmpegWhitelisted = transcoder.Candidate{
	Executable: "ffmpeg",
	FixedArgs:  []string{"-protocol_whitelist", "pipe,rtp,udp,srtp,file"},
}

func testEndpoints() cloud.CallEndpoints {
	return cloud.CallEndpoints{
		IncomingVideo: cloud.StreamEndpoint{
			Server: "10.0.0.5", Port: 5000, PayloadType: 99, Encoding: "H264",
			SampleRate: 90000, Key: []byte("video-key-bytes!"), SSRC: 1111,
		},
		IncomingAudio: cloud.StreamEndpoint{
			Server: "10.0.0.5", Port: 5002, PayloadType: 100, Encoding: "speex",
			SampleRate: 16000, Channels: 1, Key: []byte("audio-key-bytes!"), SSRC: 2222,
		},
	}
}

type harness struct {
	ctrl    *Controller
	cloud   *fakeCloud
	puncher *fakePuncher
	sup     *fakeSupervisor
}

func newHarness(t *testing.T, mutate func(*Deps, *Config)) *harness {
	t.Helper()
	h := &harness{
		cloud:   &fakeCloud{endpoints: testEndpoints(), videoURL: "https://media.example/act1.mp4"},
		puncher: &fakePuncher{},
		sup:     &fakeSupervisor{},
	}
	deps := Deps{
		Cloud:      h.cloud,
		Devices:    fakeDevices{"abc123": {ID: "abc123", Name: "Front Door"}},
		Puncher:    h.puncher,
		Resolver:   fakeResolver{cmd: ffmpegWhitelisted},
		Supervisor: h.sup,
	}
	cfg := Config{
		Retries:       3,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 5 * time.Millisecond,
		Sink:          sink.File{Path: "./output.mp4"},
	}
	if mutate != nil {
		mutate(&deps, &cfg)
	}
	h.ctrl = NewController(deps, cfg)
	return h
}

func TestStartCameraStream_EndToEnd(t *testing.T) {
	h := newHarness(t, nil)

	s, err := h.ctrl.StartCameraStream(context.Background(), "abc123", "")
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, s.State())

	assert.Equal(t, "10.0.0.5", h.puncher.host)
	assert.Equal(t, []uint16{5000, 5002}, h.puncher.ports)

	require.Len(t, h.sup.spawned, 1)
	rec := h.sup.spawned[0]
	assert.Equal(t, transcoder.SessionKey{DeviceID: "abc123", StreamType: transcoder.StreamTypeLive}, rec.key)
	assert.Equal(t, ffmpegWhitelisted.FixedArgs, rec.argv[:2])
	assert.Equal(t, "./output.mp4", rec.argv[len(rec.argv)-1])
	assert.Contains(t, rec.desc, "m=video 5000")
	assert.Contains(t, rec.desc, "m=audio 5002")
	assert.Contains(t, rec.desc, "s=Front Door in")

	require.NoError(t, h.ctrl.StopCameraStream(context.Background(), "abc123"))
	assert.Equal(t, StateStopped, s.State())
	assert.NoError(t, s.Err())
	assert.Equal(t, []transcoder.SessionKey{rec.key}, h.sup.stopped)
	_, stops := h.cloud.counts()
	assert.Equal(t, 1, stops)

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after stop")
	}
}

func TestStartCameraStream_PublishesTransitions(t *testing.T) {
	bus := events.New()
	var mu sync.Mutex
	var states []string
	defer bus.Subscribe(func(e events.CallStateChangedEvent) {
		mu.Lock()
		states = append(states, e.To)
		mu.Unlock()
	})()

	h := newHarness(t, func(d *Deps, _ *Config) { d.Bus = bus })
	_, err := h.ctrl.StartCameraStream(context.Background(), "abc123", "")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 4
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"negotiating", "punching", "spawning", "streaming"}, states)
}

func TestStartCameraStream_UnknownDevice(t *testing.T) {
	h := newHarness(t, nil)

	s, err := h.ctrl.StartCameraStream(context.Background(), "nope", "")
	assert.Nil(t, s)
	assert.Equal(t, ErrCodeDeviceNotFound, Code(err))
	assert.ErrorIs(t, err, devices.ErrDeviceNotFound)
	assert.True(t, IsNotFound(err))

	start, _ := h.cloud.counts()
	assert.Zero(t, start, "must not negotiate for an unknown device")
	assert.Empty(t, h.ctrl.Sessions())
}

func TestStartCameraStream_RetriesNegotiation(t *testing.T) {
	h := newHarness(t, nil)
	h.cloud.failures = 2

	s, err := h.ctrl.StartCameraStream(context.Background(), "abc123", "")
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, s.State())

	start, _ := h.cloud.counts()
	assert.Equal(t, 3, start)
}

func TestStartCameraStream_NegotiationExhausted(t *testing.T) {
	h := newHarness(t, nil)
	h.cloud.failures = 10

	s, err := h.ctrl.StartCameraStream(context.Background(), "abc123", "")
	require.Error(t, err)
	assert.Equal(t, ErrCodeNegotiationFailed, Code(err))
	assert.Equal(t, StateError, s.State())
	assert.Equal(t, ErrCodeNegotiationFailed, Code(s.Err()))

	start, _ := h.cloud.counts()
	assert.Equal(t, 3, start)
	assert.Zero(t, h.puncher.calls)
}

func TestStartCameraStream_PunchFailureNotRetried(t *testing.T) {
	h := newHarness(t, nil)
	h.puncher.err = punch.ErrPunchFailed

	s, err := h.ctrl.StartCameraStream(context.Background(), "abc123", "")
	require.Error(t, err)
	assert.Equal(t, ErrCodePunchFailed, Code(err))
	assert.ErrorIs(t, err, punch.ErrPunchFailed)
	assert.Equal(t, StateError, s.State())
	assert.Equal(t, 1, h.puncher.calls)
	assert.Empty(t, h.sup.spawned)

	start, stops := h.cloud.counts()
	assert.Equal(t, 1, start)
	assert.Equal(t, 1, stops, "a failed call is hung up")
}

func TestStartCameraStream_InvalidEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.cloud.endpoints.IncomingAudio.Key = nil

	s, err := h.ctrl.StartCameraStream(context.Background(), "abc123", "")
	assert.Equal(t, ErrCodeInvalidEndpoint, Code(err))
	assert.Equal(t, StateError, s.State())
	assert.Zero(t, h.puncher.calls, "no side effects before the description is valid")
}

func TestStartCameraStream_NoTranscoder(t *testing.T) {
	h := newHarness(t, func(d *Deps, _ *Config) {
		d.Resolver = fakeResolver{err: transcoder.ErrNoTranscoderAvailable}
	})

	s, err := h.ctrl.StartCameraStream(context.Background(), "abc123", "")
	assert.Equal(t, ErrCodeNoTranscoder, Code(err))
	assert.ErrorIs(t, err, transcoder.ErrNoTranscoderAvailable)
	assert.Equal(t, StateError, s.State())
}

func TestStartCameraStream_SpawnFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.sup.err = transcoder.ErrSpawnFailed

	s, err := h.ctrl.StartCameraStream(context.Background(), "abc123", "")
	assert.Equal(t, ErrCodeSpawnFailed, Code(err))
	assert.Equal(t, StateError, s.State())
}

func TestStartCameraStream_CallInProgress(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.ctrl.StartCameraStream(context.Background(), "abc123", "")
	require.NoError(t, err)

	_, err = h.ctrl.StartCameraStream(context.Background(), "abc123", "")
	assert.Equal(t, ErrCodeCallInProgress, Code(err))

	require.NoError(t, h.ctrl.StopCameraStream(context.Background(), "abc123"))

	s, err := h.ctrl.StartCameraStream(context.Background(), "abc123", "")
	require.NoError(t, err, "a new call may start once the previous one ended")
	assert.Equal(t, StateStreaming, s.State())
}

func TestStartCameraStream_Playback(t *testing.T) {
	h := newHarness(t, func(_ *Deps, cfg *Config) {
		cfg.Output = transcoder.OutputOptions{Width: 1280, Height: 720}
	})

	s, err := h.ctrl.StartCameraStream(context.Background(), "abc123", "act1")
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, s.State())
	assert.Zero(t, h.puncher.calls, "playback does not punch")

	require.Len(t, h.sup.spawned, 1)
	rec := h.sup.spawned[0]
	assert.Equal(t, transcoder.StreamTypeRecording, rec.key.StreamType)
	assert.Equal(t, "https://media.example/act1.mp4", rec.url)
	assert.Contains(t, strings.Join(rec.argv, " "), "-vf scale=1280:720")

	require.NoError(t, h.ctrl.StopCameraStream(context.Background(), "abc123"))
	_, stops := h.cloud.counts()
	assert.Zero(t, stops, "playback has no cloud call to end")
}

func TestHandleExit(t *testing.T) {
	h := newHarness(t, nil)
	s, err := h.ctrl.StartCameraStream(context.Background(), "abc123", "")
	require.NoError(t, err)

	// Exits after a requested stop, and for other keys, are ignored.
	h.ctrl.HandleExit(s.Key(), 0, true)
	h.ctrl.HandleExit(transcoder.SessionKey{DeviceID: "abc123", StreamType: transcoder.StreamTypeRecording}, 1, false)
	assert.Equal(t, StateStreaming, s.State())

	h.ctrl.HandleExit(s.Key(), 1, false)
	assert.Equal(t, StateError, s.State())
	assert.Equal(t, ErrCodeUnexpectedExit, Code(s.Err()))
	assert.ErrorIs(t, s.Err(), transcoder.ErrUnexpectedExit)

	info := h.ctrl.Sessions()
	require.Len(t, info, 1)
	assert.Equal(t, "error", info[0].State)
	assert.Equal(t, ErrCodeUnexpectedExit, info[0].ErrorCode)
	assert.False(t, info[0].EndedAt.IsZero())

	// Stopping a crashed call is a no-op.
	assert.NoError(t, h.ctrl.StopCameraStream(context.Background(), "abc123"))
}

func TestStopCameraStream_Errors(t *testing.T) {
	h := newHarness(t, nil)
	err := h.ctrl.StopCameraStream(context.Background(), "abc123")
	assert.Equal(t, ErrCodeCallNotFound, Code(err))
}

func TestStopAll(t *testing.T) {
	h := newHarness(t, nil)
	s, err := h.ctrl.StartCameraStream(context.Background(), "abc123", "")
	require.NoError(t, err)

	h.ctrl.StopAll(context.Background())
	assert.Equal(t, StateStopped, s.State())
}

func TestCallError(t *testing.T) {
	cause := errors.New("boom")
	err := NewCallError(ErrCodeSpawnFailed, "failed to start transcoder", cause)
	assert.Equal(t, "SPAWN_FAILED: failed to start transcoder: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "CALL_NOT_FOUND: x", NewCallError(ErrCodeCallNotFound, "x", nil).Error())
	assert.Empty(t, Code(cause))
}

// Real processes: the supervisor reports a crash and the session fails,
// while a requested stop ends the session cleanly.
func TestController_WithSupervisor(t *testing.T) {
	sup := transcoder.NewSupervisor(transcoder.WithStopTimeout(500 * time.Millisecond))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.StopAll(ctx)
	})

	script := "cat >/dev/null; trap 'exit 0' INT; while :; do sleep 0.05; done"
	h := newHarness(t, func(d *Deps, _ *Config) {
		d.Supervisor = sup
		d.Resolver = fakeResolver{cmd: transcoder.Candidate{Executable: "sh", FixedArgs: []string{"-c", script, "transcoder"}}}
	})
	sup.SetExitHandler(h.ctrl.HandleExit)

	s, err := h.ctrl.StartCameraStream(context.Background(), "abc123", "")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, h.ctrl.StopCameraStream(context.Background(), "abc123"))
	assert.Equal(t, StateStopped, s.State())
	assert.Eventually(t, func() bool { return len(sup.List()) == 0 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateStopped, s.State(), "an exit after stop is not an error")

	// Now a transcoder that dies on its own.
	h.ctrl.deps.Resolver = fakeResolver{cmd: transcoder.Candidate{Executable: "sh", FixedArgs: []string{"-c", "cat >/dev/null; exit 1", "transcoder"}}}
	s, err = h.ctrl.StartCameraStream(context.Background(), "abc123", "")
	if err != nil {
		// The crash can beat the spawned transition.
		assert.Equal(t, ErrCodeUnexpectedExit, Code(err))
	}

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after crash")
	}
	assert.Equal(t, StateError, s.State())
	assert.Equal(t, ErrCodeUnexpectedExit, Code(s.Err()))

	// A playback that reaches the end of the recording finishes cleanly.
	_, stopsBefore := h.cloud.counts()
	h.ctrl.deps.Resolver = fakeResolver{cmd: transcoder.Candidate{Executable: "sh", FixedArgs: []string{"-c", "exit 0", "transcoder"}}}
	s, err = h.ctrl.StartCameraStream(context.Background(), "abc123", "act1")
	require.NoError(t, err)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after playback")
	}
	assert.Equal(t, StateStopped, s.State())
	assert.NoError(t, s.Err())
	_, stops := h.cloud.counts()
	assert.Equal(t, stopsBefore, stops, "playback never opens a call")

	// A playback that fails part way is still a crash.
	h.ctrl.deps.Resolver = fakeResolver{cmd: transcoder.Candidate{Executable: "sh", FixedArgs: []string{"-c", "cat >/dev/null; exit 1", "transcoder"}}}
	s, err = h.ctrl.StartCameraStream(context.Background(), "abc123", "act1")
	if err != nil {
		assert.Equal(t, ErrCodeUnexpectedExit, Code(err))
	}

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after failed playback")
	}
	assert.Equal(t, StateError, s.State())
	assert.Equal(t, ErrCodeUnexpectedExit, Code(s.Err()))
}
