package events

// Event type constants for kelindar/event.
const (
	TypeCallStateChanged uint32 = iota + 1
	TypeTranscoderExited
	TypeTranscoderResolved
	TypeDeviceDiscovery
	TypeTranscoderProgress
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// CallStateChangedEvent is published on every call session transition.
type CallStateChangedEvent struct {
	DeviceID   string `json:"device_id" example:"abc123" doc:"Device identifier"`
	ActivityID string `json:"activity_id,omitempty" doc:"Recorded activity, empty for live calls"`
	From       string `json:"from" example:"spawning" doc:"Previous state"`
	To         string `json:"to" example:"streaming" doc:"New state"`
	Error      string `json:"error,omitempty" doc:"Failure cause when entering the error state"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Transition timestamp"`
}

// Type returns the event type identifier for CallStateChangedEvent.
func (e CallStateChangedEvent) Type() uint32 { return TypeCallStateChanged }

// TranscoderExitedEvent reports a transcoder process exit.
type TranscoderExitedEvent struct {
	DeviceID   string `json:"device_id" example:"abc123" doc:"Device identifier"`
	StreamType string `json:"stream_type" example:"live" doc:"live or recording"`
	ExitCode   int    `json:"exit_code" doc:"Process exit code"`
	Expected   bool   `json:"expected" doc:"False when the process crashed"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Exit timestamp"`
}

// Type returns the event type identifier for TranscoderExitedEvent.
func (e TranscoderExitedEvent) Type() uint32 { return TypeTranscoderExited }

// TranscoderResolvedEvent is published once when the transcoder command is chosen.
type TranscoderResolvedEvent struct {
	Executable string   `json:"executable" example:"ffmpeg" doc:"Resolved executable"`
	FixedArgs  []string `json:"fixed_args" doc:"Arguments prepended to every invocation"`
	Timestamp  string   `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Resolution timestamp"`
}

// Type returns the event type identifier for TranscoderResolvedEvent.
func (e TranscoderResolvedEvent) Type() uint32 { return TypeTranscoderResolved }

// DeviceDiscoveryEvent reports devices appearing in or leaving the account.
type DeviceDiscoveryEvent struct {
	DeviceID  string `json:"device_id" example:"abc123" doc:"Device identifier"`
	Name      string `json:"name" example:"Front Door" doc:"Device name"`
	Action    string `json:"action" example:"added" doc:"added or removed"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceDiscoveryEvent.
func (e DeviceDiscoveryEvent) Type() uint32 { return TypeDeviceDiscovery }

// TranscoderProgressEvent carries the latest progress sample of a running
// transcoder.
type TranscoderProgressEvent struct {
	DeviceID      string `json:"device_id" example:"abc123" doc:"Device identifier"`
	StreamType    string `json:"stream_type" example:"live" doc:"live or recording"`
	FPS           string `json:"fps" example:"15.00" doc:"Output frames per second"`
	Speed         string `json:"speed" example:"1.00" doc:"Processing speed multiplier"`
	DroppedFrames string `json:"dropped_frames" example:"0" doc:"Frames dropped so far"`
}

// Type returns the event type identifier for TranscoderProgressEvent.
func (e TranscoderProgressEvent) Type() uint32 { return TypeTranscoderProgress }
