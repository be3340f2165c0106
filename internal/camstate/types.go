package camstate

import "time"

// State is the tracker-reported runtime state of a camera.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// Camera is the identity record owned by the camera-config service.
// Fetched, never mutated locally.
type Camera struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

// CameraStatus pairs a descriptor with its current runtime state.
type CameraStatus struct {
	Camera Camera `json:"camera"`
	State  State  `json:"state"`
}

// TrackerDetails carries optional runtime counters from the tracker service.
type TrackerDetails struct {
	UptimeSeconds     float64 `json:"uptime_seconds"`
	ProcessedFrames   int64   `json:"processed_frames"`
	RecognitionEvents int64   `json:"recognition_events"`
}

// TrackerStatus is the wholesale status payload returned by the tracker
// service on each poll. CameraStatuses is keyed by camera id.
type TrackerStatus struct {
	IsRunning      bool            `json:"is_running"`
	Message        string          `json:"message"`
	CameraStatuses map[int]State   `json:"camera_statuses"`
	Details        *TrackerDetails `json:"details,omitempty"`
}

// Snapshot is the merged read model published after each reconciliation
// tick: camera identities joined with runtime states plus the last
// successfully fetched settings. Single writer (the control loop),
// many readers.
type Snapshot struct {
	Cameras   []CameraStatus `json:"cameras"`
	Tracker   TrackerStatus  `json:"tracker"`
	Settings  map[string]any `json:"settings"`
	FetchedAt time.Time      `json:"fetched_at"`
}
