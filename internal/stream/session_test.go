package stream

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetcam/console/internal/notify"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamServer fakes the tracker's video feed endpoint. behavior is
// invoked per accepted connection with the camera id from the path.
type streamServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	conns    int
	lastOpts map[string]string
}

func newStreamServer(t *testing.T, behavior func(conn *websocket.Conn, cameraID int)) *streamServer {
	t.Helper()
	ss := &streamServer{}
	ss.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		id, err := strconv.Atoi(parts[len(parts)-1])
		require.NoError(t, err)

		ss.mu.Lock()
		ss.conns++
		ss.lastOpts = map[string]string{
			"show_bboxes":    r.URL.Query().Get("show_bboxes"),
			"show_tripwires": r.URL.Query().Get("show_tripwires"),
		}
		ss.mu.Unlock()

		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		behavior(conn, id)
	}))
	t.Cleanup(ss.srv.Close)
	return ss
}

func (s *streamServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *streamServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func (s *streamServer) options() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOpts
}

// frameSink collects delivered frames.
type frameSink struct {
	mu     sync.Mutex
	frames []Frame
}

func (f *frameSink) record(fr Frame) {
	f.mu.Lock()
	f.frames = append(f.frames, fr)
	f.mu.Unlock()
}

func (f *frameSink) all() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Frame, len(f.frames))
	copy(out, f.frames)
	return out
}

func (f *frameSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func sendFrames(conn *websocket.Conn, cameraID, n int, every time.Duration) {
	for i := 0; i < n; i++ {
		msg := fmt.Sprintf("cam%d-frame%d", cameraID, i)
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return
		}
		time.Sleep(every)
	}
}

func TestManager_ConnectDeliversFrames(t *testing.T) {
	ss := newStreamServer(t, func(conn *websocket.Conn, cameraID int) {
		sendFrames(conn, cameraID, 3, time.Millisecond)
		// Keep the connection open; the client disconnects.
		time.Sleep(200 * time.Millisecond)
		conn.Close()
	})

	sink := &frameSink{}
	m := NewManager(Config{BaseURL: ss.wsURL(), ReconnectDelay: 20 * time.Millisecond}, notify.NewBus(), sink.record)
	defer m.Disconnect()

	m.Connect(5, RenderOptions{ShowBboxes: true})

	assert.Eventually(t, func() bool { return sink.count() >= 3 }, time.Second, 5*time.Millisecond)

	frames := sink.all()
	assert.Equal(t, 5, frames[0].CameraID)
	assert.Equal(t, "cam5-frame0", string(frames[0].Data))

	st := m.Status()
	assert.Equal(t, StateConnected, st.State)
	assert.Equal(t, 5, st.CameraID)
	assert.False(t, st.LastFrameAt.IsZero())

	// Render options travel in the handshake.
	assert.Equal(t, map[string]string{"show_bboxes": "true", "show_tripwires": "false"}, ss.options())
}

func TestManager_DisconnectSuppressesReconnect(t *testing.T) {
	ss := newStreamServer(t, func(conn *websocket.Conn, cameraID int) {
		sendFrames(conn, cameraID, 1, 0)
		time.Sleep(300 * time.Millisecond)
		conn.Close()
	})

	sink := &frameSink{}
	m := NewManager(Config{BaseURL: ss.wsURL(), ReconnectDelay: 25 * time.Millisecond}, notify.NewBus(), sink.record)

	m.Connect(1, RenderOptions{})
	assert.Eventually(t, func() bool { return sink.count() >= 1 }, time.Second, 5*time.Millisecond)

	m.Disconnect()
	assert.Equal(t, StateClosed, m.Status().State)

	// Wait well past the reconnect delay: no new connection attempt.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, ss.connCount())
}

func TestManager_AbnormalClosureReconnects(t *testing.T) {
	ss := newStreamServer(t, func(conn *websocket.Conn, cameraID int) {
		sendFrames(conn, cameraID, 1, 0)
		conn.Close() // abrupt: no close frame
	})

	sink := &frameSink{}
	bus := notify.NewBus()
	m := NewManager(Config{BaseURL: ss.wsURL(), ReconnectDelay: 20 * time.Millisecond}, bus, sink.record)
	defer m.Disconnect()

	m.Connect(2, RenderOptions{ShowTripwires: true})

	// The reconnect policy keeps dialing indefinitely.
	assert.Eventually(t, func() bool { return ss.connCount() >= 3 }, 2*time.Second, 10*time.Millisecond)

	// Each reconnect reuses the same camera and render options.
	assert.Equal(t, "true", ss.options()["show_tripwires"])

	// Failure surfaced as a notification without halting the policy.
	assert.NotEmpty(t, bus.List())
}

func TestManager_GracefulPeerCloseDoesNotReconnect(t *testing.T) {
	ss := newStreamServer(t, func(conn *websocket.Conn, cameraID int) {
		sendFrames(conn, cameraID, 1, 0)
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "feed ended"), deadline)
		time.Sleep(50 * time.Millisecond)
		conn.Close()
	})

	sink := &frameSink{}
	m := NewManager(Config{BaseURL: ss.wsURL(), ReconnectDelay: 20 * time.Millisecond}, notify.NewBus(), sink.record)
	defer m.Disconnect()

	m.Connect(1, RenderOptions{})
	assert.Eventually(t, func() bool { return m.Status().State == StateClosed }, time.Second, 5*time.Millisecond)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, ss.connCount())
}

func TestManager_SwitchCameraNoStaleFrames(t *testing.T) {
	ss := newStreamServer(t, func(conn *websocket.Conn, cameraID int) {
		sendFrames(conn, cameraID, 1000, time.Millisecond)
	})

	sink := &frameSink{}
	m := NewManager(Config{BaseURL: ss.wsURL(), ReconnectDelay: 20 * time.Millisecond}, notify.NewBus(), sink.record)
	defer m.Disconnect()

	m.Connect(1, RenderOptions{})
	assert.Eventually(t, func() bool { return sink.count() >= 2 }, time.Second, time.Millisecond)

	m.Connect(2, RenderOptions{ShowBboxes: true})
	assert.Eventually(t, func() bool {
		frames := sink.all()
		return len(frames) > 0 && frames[len(frames)-1].CameraID == 2
	}, time.Second, time.Millisecond)

	// Once a camera-2 frame has been delivered, no camera-1 frame may
	// follow it.
	time.Sleep(50 * time.Millisecond)
	frames := sink.all()
	seenCam2 := false
	for _, fr := range frames {
		if fr.CameraID == 2 {
			seenCam2 = true
		}
		if seenCam2 {
			assert.Equal(t, 2, fr.CameraID, "stale frame delivered after camera switch")
		}
	}
	assert.Equal(t, 2, m.Status().CameraID)
}

func TestManager_SetOptionsReconnectsSameCamera(t *testing.T) {
	ss := newStreamServer(t, func(conn *websocket.Conn, cameraID int) {
		sendFrames(conn, cameraID, 1000, time.Millisecond)
	})

	m := NewManager(Config{BaseURL: ss.wsURL(), ReconnectDelay: 20 * time.Millisecond}, notify.NewBus(), nil)
	defer m.Disconnect()

	assert.Error(t, m.SetOptions(RenderOptions{}), "no session yet")

	m.Connect(3, RenderOptions{})
	assert.Eventually(t, func() bool { return m.Status().State == StateConnected }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.SetOptions(RenderOptions{ShowBboxes: true, ShowTripwires: true}))

	assert.Eventually(t, func() bool { return ss.connCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return m.Status().State == StateConnected }, time.Second, 5*time.Millisecond)

	st := m.Status()
	assert.Equal(t, 3, st.CameraID)
	assert.True(t, st.Options.ShowBboxes)
	assert.Equal(t, map[string]string{"show_bboxes": "true", "show_tripwires": "true"}, ss.options())
}

func TestManager_RemembersOptionsPerCamera(t *testing.T) {
	ss := newStreamServer(t, func(conn *websocket.Conn, cameraID int) {
		time.Sleep(100 * time.Millisecond)
		conn.Close()
	})

	m := NewManager(Config{BaseURL: ss.wsURL(), ReconnectDelay: time.Hour}, notify.NewBus(), nil)
	defer m.Disconnect()

	m.Connect(1, RenderOptions{ShowBboxes: true})
	m.Connect(2, RenderOptions{ShowTripwires: true})

	opts, ok := m.RememberedOptions(1)
	require.True(t, ok)
	assert.True(t, opts.ShowBboxes)
	assert.False(t, opts.ShowTripwires)

	opts, ok = m.RememberedOptions(2)
	require.True(t, ok)
	assert.True(t, opts.ShowTripwires)

	_, ok = m.RememberedOptions(99)
	assert.False(t, ok)
}

func TestManager_SwitchClosesOldSessionGracefully(t *testing.T) {
	var mu sync.Mutex
	closeErr := map[int]error{}
	ss := newStreamServer(t, func(conn *websocket.Conn, cameraID int) {
		sendFrames(conn, cameraID, 1, 0)
		_, _, err := conn.ReadMessage()
		mu.Lock()
		closeErr[cameraID] = err
		mu.Unlock()
	})

	sink := &frameSink{}
	m := NewManager(Config{BaseURL: ss.wsURL(), ReconnectDelay: time.Hour}, notify.NewBus(), sink.record)
	defer m.Disconnect()

	m.Connect(1, RenderOptions{})
	assert.Eventually(t, func() bool { return m.Status().State == StateConnected }, time.Second, 5*time.Millisecond)

	m.Connect(2, RenderOptions{})
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return closeErr[1] != nil
	}, time.Second, 5*time.Millisecond)

	// The superseded session's peer sees a deliberate teardown, not an
	// abnormal drop.
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, websocket.IsCloseError(closeErr[1], websocket.CloseNormalClosure),
		"expected normal closure on the old session, got %v", closeErr[1])
}

func TestManager_DisconnectBeatsFiredReconnectTimer(t *testing.T) {
	// Unreachable endpoint: a reconnect that escapes past Disconnect
	// would flip the state away from closed.
	for i := 0; i < 50; i++ {
		m := NewManager(Config{BaseURL: "ws://127.0.0.1:1", ReconnectDelay: time.Millisecond}, notify.NewBus(), nil)

		m.mu.Lock()
		m.state = StateReconnecting
		m.cameraID = 1
		m.scheduleReconnectLocked(1, RenderOptions{})
		m.mu.Unlock()

		// Land Disconnect as close to the timer firing as possible.
		time.Sleep(time.Millisecond)
		m.Disconnect()

		time.Sleep(5 * time.Millisecond)
		assert.Equal(t, StateClosed, m.Status().State, "reconnect attempt escaped past Disconnect")
		m.Disconnect()
	}
}

func TestManager_ConnectFailureSchedulesReconnect(t *testing.T) {
	// Nothing is listening on this address.
	m := NewManager(Config{BaseURL: "ws://127.0.0.1:1", ReconnectDelay: 15 * time.Millisecond}, notify.NewBus(), nil)
	defer m.Disconnect()

	m.Connect(1, RenderOptions{})

	assert.Eventually(t, func() bool {
		st := m.Status()
		return st.State == StateReconnecting && st.LastError != ""
	}, time.Second, 5*time.Millisecond)
}
