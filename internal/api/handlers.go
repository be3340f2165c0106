package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fleetcam/console/internal/notify"
	"github.com/fleetcam/console/internal/stream"
	"github.com/fleetcam/console/internal/tracker"
)

// Handler exposes the console's REST surface over the control loop,
// stream manager and notification bus.
type Handler struct {
	Loop    *tracker.Loop
	Store   *tracker.SnapshotStore
	Streams *stream.Manager
	Bus     *notify.Bus
}

func NewHandler(loop *tracker.Loop, store *tracker.SnapshotStore, streams *stream.Manager, bus *notify.Bus) *Handler {
	return &Handler{Loop: loop, Store: store, Streams: streams, Bus: bus}
}

// GetCameras serves the latest merged snapshot, fetching one
// synchronously if none has been published yet.
func (h *Handler) GetCameras(w http.ResponseWriter, r *http.Request) {
	snap := h.Store.Get()
	if snap == nil {
		fresh, err := h.Loop.Refresh(r.Context())
		if err != nil {
			http.Error(w, "tracker unreachable", http.StatusBadGateway)
			return
		}
		snap = fresh
	}

	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) GetTrackerStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.Store.Get()
	if snap == nil {
		fresh, err := h.Loop.Refresh(r.Context())
		if err != nil {
			http.Error(w, "tracker unreachable", http.StatusBadGateway)
			return
		}
		snap = fresh
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tracker":     snap.Tracker,
		"in_progress": h.Loop.InProgress(),
		"fetched_at":  snap.FetchedAt,
	})
}

func (h *Handler) StartTracker(w http.ResponseWriter, r *http.Request) {
	if err := h.Loop.StartTracker(r.Context()); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "start_accepted"})
}

func (h *Handler) StopTracker(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Confirm bool `json:"confirm"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body) // empty body means not confirmed
	}

	err := h.Loop.StopTracker(r.Context(), func() bool { return body.Confirm })
	if errors.Is(err, tracker.ErrNotConfirmed) {
		http.Error(w, "confirmation required", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stop_accepted"})
}

func (h *Handler) StartCamera(w http.ResponseWriter, r *http.Request) {
	id, ok := cameraID(w, r)
	if !ok {
		return
	}
	if err := h.Loop.StartCamera(r.Context(), id); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "camera_started"})
}

func (h *Handler) StopCamera(w http.ResponseWriter, r *http.Request) {
	id, ok := cameraID(w, r)
	if !ok {
		return
	}
	if err := h.Loop.StopCamera(r.Context(), id); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "camera_stopped"})
}

// ConnectStream selects the observed camera. Omitted overlay flags fall
// back to the options last used for that camera.
func (h *Handler) ConnectStream(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CameraID      *int  `json:"camera_id"`
		ShowBboxes    *bool `json:"show_bboxes"`
		ShowTripwires *bool `json:"show_tripwires"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CameraID == nil {
		http.Error(w, "camera_id required", http.StatusBadRequest)
		return
	}

	opts, _ := h.Streams.RememberedOptions(*body.CameraID)
	if body.ShowBboxes != nil {
		opts.ShowBboxes = *body.ShowBboxes
	}
	if body.ShowTripwires != nil {
		opts.ShowTripwires = *body.ShowTripwires
	}

	h.Streams.Connect(*body.CameraID, opts)
	writeJSON(w, http.StatusAccepted, h.Streams.Status())
}

func (h *Handler) DisconnectStream(w http.ResponseWriter, r *http.Request) {
	h.Streams.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetStream(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Streams.Status())
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Bus.List())
}

func (h *Handler) DismissNotification(w http.ResponseWriter, r *http.Request) {
	h.Bus.Remove(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func cameraID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid camera id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeCommandError(w http.ResponseWriter, err error) {
	var cmdErr *tracker.CommandError
	if errors.As(err, &cmdErr) {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":   "command failed",
			"command": cmdErr.Command,
			"detail":  cmdErr.Error(),
		})
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
