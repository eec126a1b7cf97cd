package call

import (
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/smazurov/doorbell/internal/transcoder"
)

// State is a call session state.
type State string

// Session states. Stopped and Error are terminal.
const (
	StateIdle        State = "idle"
	StateNegotiating State = "negotiating"
	StatePunching    State = "punching"
	StateSpawning    State = "spawning"
	StateStreaming   State = "streaming"
	StateStopped     State = "stopped"
	StateError       State = "error"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateError
}

// FSM events.
const (
	eventNegotiate = "negotiate"
	eventEndpoints = "endpoints"
	eventPlayback  = "playback"
	eventPunched   = "punched"
	eventSpawned   = "spawned"
	eventStop      = "stop"
	eventCompleted = "completed"
	eventFail      = "fail"
)

func sessionEvents() fsm.Events {
	live := []string{
		string(StateIdle), string(StateNegotiating), string(StatePunching),
		string(StateSpawning), string(StateStreaming),
	}
	return fsm.Events{
		{Name: eventNegotiate, Src: []string{string(StateIdle)}, Dst: string(StateNegotiating)},
		{Name: eventEndpoints, Src: []string{string(StateNegotiating)}, Dst: string(StatePunching)},
		{Name: eventPlayback, Src: []string{string(StateNegotiating)}, Dst: string(StateSpawning)},
		{Name: eventPunched, Src: []string{string(StatePunching)}, Dst: string(StateSpawning)},
		{Name: eventSpawned, Src: []string{string(StateSpawning)}, Dst: string(StateStreaming)},
		{Name: eventStop, Src: []string{string(StateStreaming)}, Dst: string(StateStopped)},
		{Name: eventCompleted, Src: []string{string(StateSpawning), string(StateStreaming)}, Dst: string(StateStopped)},
		{Name: eventFail, Src: live, Dst: string(StateError)},
	}
}

// Session is one call against one device: live, or playback of a recorded
// activity when ActivityID is set.
type Session struct {
	DeviceID   string
	DeviceName string
	ActivityID string
	StartedAt  time.Time

	machine *fsm.FSM
	done    chan struct{}

	mu      sync.Mutex
	err     error
	endedAt time.Time
}

// Info is a serializable snapshot of a session.
type Info struct {
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	ActivityID string    `json:"activity_id,omitempty"`
	StreamType string    `json:"stream_type"`
	State      string    `json:"state"`
	Error      string    `json:"error,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitzero"`
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.machine.Current())
}

// Err returns the failure cause once the session is in the error state.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Key identifies the session's transcoder process.
func (s *Session) Key() transcoder.SessionKey {
	st := transcoder.StreamTypeLive
	if s.ActivityID != "" {
		st = transcoder.StreamTypeRecording
	}
	return transcoder.SessionKey{DeviceID: s.DeviceID, StreamType: st}
}

// Info returns a snapshot.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		DeviceID:   s.DeviceID,
		DeviceName: s.DeviceName,
		ActivityID: s.ActivityID,
		StreamType: string(s.Key().StreamType),
		State:      s.machine.Current(),
		StartedAt:  s.StartedAt,
		EndedAt:    s.endedAt,
	}
	if s.err != nil {
		info.Error = s.err.Error()
		info.ErrorCode = Code(s.err)
	}
	return info
}

func (s *Session) ended(err error) {
	s.mu.Lock()
	if err != nil {
		s.err = err
	}
	s.endedAt = time.Now()
	s.mu.Unlock()
	close(s.done)
}
