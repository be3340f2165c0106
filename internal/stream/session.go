package stream

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fleetcam/console/internal/metrics"
	"github.com/fleetcam/console/internal/notify"
)

// ConnState is the transport state of the current session.
type ConnState string

const (
	StateIdle         ConnState = "idle"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateClosed       ConnState = "closed"
)

// RenderOptions are overlay flags applied server-side when composing
// frames. They are baked into the connection handshake: changing them
// requires a full teardown and reconnect.
type RenderOptions struct {
	ShowBboxes    bool `json:"show_bboxes"`
	ShowTripwires bool `json:"show_tripwires"`
}

// Frame is one encoded image delivered by the transport.
type Frame struct {
	CameraID   int
	Data       []byte
	ReceivedAt time.Time
}

// FrameFunc receives delivered frames. It runs on the session's read
// loop and is never called for a superseded session. It must not call
// back into the Manager.
type FrameFunc func(Frame)

// Config holds the stream transport parameters.
type Config struct {
	BaseURL        string // ws://host:port of the tracker's stream endpoint
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
}

const optionMemorySize = 128

// session is one websocket connection attempt's state. gen ties every
// callback (frames, closure handling, reconnect timer) to the Manager
// generation that created it; anything stale is dropped.
type session struct {
	conn     *websocket.Conn
	gen      uint64
	cameraID int
	opts     RenderOptions
	done     chan struct{} // closed when the read loop exits
}

// Manager owns the single authoritative stream session for the
// currently observed camera. At most one live session exists at any
// instant; Connect tears down any predecessor before dialing.
type Manager struct {
	cfg     Config
	bus     *notify.Bus
	onFrame FrameFunc

	mu             sync.Mutex
	gen            uint64
	sess           *session
	reconnectTimer *time.Timer
	state          ConnState
	cameraID       int
	opts           RenderOptions
	lastFrameAt    time.Time
	lastErr        string

	// Remembers the last render options used per camera so switching
	// back restores the operator's overlay choices.
	optionMemory *lru.Cache[int, RenderOptions]
}

func NewManager(cfg Config, bus *notify.Bus, onFrame FrameFunc) *Manager {
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	mem, _ := lru.New[int, RenderOptions](optionMemorySize)
	return &Manager{
		cfg:          cfg,
		bus:          bus,
		onFrame:      onFrame,
		state:        StateIdle,
		optionMemory: mem,
	}
}

// Connect opens a session to the camera's stream endpoint, tearing down
// any existing session first. Returns immediately; the connection
// outcome is asynchronous.
func (m *Manager) Connect(cameraID int, opts RenderOptions) {
	m.mu.Lock()
	old, gen := m.connectLocked(cameraID, opts)
	m.mu.Unlock()

	go func() {
		// The old session must be fully resolved before the new one
		// becomes authoritative; its frames are already invalidated by
		// the generation bump. The peer gets a normal-closure frame: a
		// switch is a deliberate teardown, not a transport failure.
		closeSession(old, true)
		m.dial(gen, cameraID, opts)
	}()
}

// connectLocked performs the session transition: bumps the generation,
// detaches the current session and records the new target. Callers hold
// m.mu. Returns the detached session and the new generation.
func (m *Manager) connectLocked(cameraID int, opts RenderOptions) (*session, uint64) {
	m.gen++ // invalidates the previous session and its timers
	m.stopReconnectLocked()
	old := m.sess
	m.sess = nil
	m.cameraID = cameraID
	m.opts = opts
	m.state = StateConnecting
	m.lastErr = ""
	m.optionMemory.Add(cameraID, opts)
	return old, m.gen
}

// Disconnect closes the current session gracefully and suppresses any
// pending reconnect attempt.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.stopReconnectLocked()
	old := m.sess
	m.sess = nil
	if m.state != StateIdle {
		m.state = StateClosed
	}
	m.mu.Unlock()

	closeSession(old, true)
}

// SetOptions applies new render options for the observed camera via a
// full teardown and reconnect. No-op adjustment is not possible: the
// flags travel in the handshake.
func (m *Manager) SetOptions(opts RenderOptions) error {
	m.mu.Lock()
	if m.state == StateIdle || m.state == StateClosed {
		m.mu.Unlock()
		return fmt.Errorf("no active stream session")
	}
	id := m.cameraID
	m.mu.Unlock()

	m.Connect(id, opts)
	return nil
}

// RememberedOptions returns the render options last used for a camera.
func (m *Manager) RememberedOptions(cameraID int) (RenderOptions, bool) {
	return m.optionMemory.Get(cameraID)
}

// SessionStatus is the observable session state.
type SessionStatus struct {
	CameraID    int           `json:"camera_id,omitempty"`
	State       ConnState     `json:"state"`
	Options     RenderOptions `json:"render_options"`
	LastFrameAt time.Time     `json:"last_frame_at,omitzero"`
	LastError   string        `json:"last_error,omitempty"`
}

func (m *Manager) Status() SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return SessionStatus{
		CameraID:    m.cameraID,
		State:       m.state,
		Options:     m.opts,
		LastFrameAt: m.lastFrameAt,
		LastError:   m.lastErr,
	}
}

func (m *Manager) dial(gen uint64, cameraID int, opts RenderOptions) {
	url := fmt.Sprintf("%s/ws/video_feed/%d?show_bboxes=%t&show_tripwires=%t",
		m.cfg.BaseURL, cameraID, opts.ShowBboxes, opts.ShowTripwires)

	conn, resp, err := m.cfg.Dialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return // superseded while dialing
	}

	if err != nil {
		m.state = StateReconnecting
		m.lastErr = err.Error()
		m.scheduleReconnectLocked(cameraID, opts)
		m.mu.Unlock()
		m.bus.Error(fmt.Sprintf("Camera %d stream connect failed: %v", cameraID, err))
		return
	}

	s := &session{
		conn:     conn,
		gen:      gen,
		cameraID: cameraID,
		opts:     opts,
		done:     make(chan struct{}),
	}
	m.sess = s
	m.state = StateConnected
	m.mu.Unlock()

	go m.readLoop(s)
}

// readLoop delivers frames until the connection closes. One encoded
// image per message; no acknowledgment protocol.
func (m *Manager) readLoop(s *session) {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			m.handleClosure(s, err)
			return
		}
		m.deliver(s, data)
	}
}

func (m *Manager) deliver(s *session, data []byte) {
	m.mu.Lock()
	if s.gen != m.gen {
		m.mu.Unlock()
		return // frame from a superseded session
	}
	now := time.Now()
	m.lastFrameAt = now
	// The callback runs under the lock: once Connect/Disconnect has
	// bumped the generation, no frame from the old session can reach
	// the callback. FrameFunc must not call back into the Manager.
	if m.onFrame != nil {
		m.onFrame(Frame{CameraID: s.cameraID, Data: data, ReceivedAt: now})
	}
	m.mu.Unlock()

	metrics.FramesReceived.Inc()
}

// handleClosure decides whether a closed transport reconnects. A
// graceful closure never reconnects; an abnormal one schedules exactly
// one attempt after the configured delay.
func (m *Manager) handleClosure(s *session, err error) {
	m.mu.Lock()
	if s.gen != m.gen {
		m.mu.Unlock()
		return // torn down by Connect/Disconnect, not a transport event
	}
	m.sess = nil

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.state = StateClosed
		m.mu.Unlock()
		log.Printf("Stream: camera %d closed by peer", s.cameraID)
		return
	}

	m.state = StateReconnecting
	m.lastErr = err.Error()
	m.scheduleReconnectLocked(s.cameraID, s.opts)
	m.mu.Unlock()

	m.bus.Error(fmt.Sprintf("Camera %d stream lost: %v", s.cameraID, err))
}

// scheduleReconnectLocked arms the single reconnect timer for the
// current generation. Callers hold m.mu.
func (m *Manager) scheduleReconnectLocked(cameraID int, opts RenderOptions) {
	gen := m.gen
	metrics.StreamReconnects.Inc()
	m.reconnectTimer = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		// The staleness check and the connect transition must share one
		// critical section: a Disconnect landing between them would be
		// overridden by the reconnect, since Stop() on a fired timer is
		// a no-op.
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		old, next := m.connectLocked(cameraID, opts)
		m.mu.Unlock()

		closeSession(old, true)
		m.dial(next, cameraID, opts)
	})
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

// closeSession closes a connection and waits for its read loop to
// finish. graceful sends the normal-closure frame first so the peer
// does not treat it as a failure.
func closeSession(s *session, graceful bool) {
	if s == nil {
		return
	}
	if graceful {
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"), deadline)
	}
	s.conn.Close()

	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		log.Printf("[WARN] Stream: camera %d read loop did not exit in time", s.cameraID)
	}
}
