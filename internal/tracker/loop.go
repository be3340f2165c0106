package tracker

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetcam/console/internal/camstate"
	"github.com/fleetcam/console/internal/metrics"
	"github.com/fleetcam/console/internal/notify"
)

// LoopConfig bounds the reconciliation polling that follows a tracker
// start/stop command.
type LoopConfig struct {
	PollInterval time.Duration
	MaxTicks     int
}

// ConfirmFunc gates destructive commands. Returning false aborts the
// operation before any request is sent.
type ConfirmFunc func() bool

// Loop drives tracker and camera start/stop commands and converges the
// observable state afterwards via bounded polling. At most one polling
// run is active at any instant; starting a new run cancels the prior
// one.
type Loop struct {
	api   API
	store *SnapshotStore
	bus   *notify.Bus

	mu         sync.Mutex
	cfg        LoopConfig
	gen        int // polling generation; stale runs may not touch state
	cancel     context.CancelFunc
	inProgress bool
	wg         sync.WaitGroup

	inFlight atomic.Bool // one reconciliation fetch at a time
}

func NewLoop(api API, store *SnapshotStore, bus *notify.Bus, cfg LoopConfig) *Loop {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxTicks == 0 {
		cfg.MaxTicks = 15
	}
	return &Loop{
		api:   api,
		store: store,
		bus:   bus,
		cfg:   cfg,
	}
}

// UpdateConfig applies new poll tunables. Takes effect on the next
// polling run; an active run keeps the bounds it started with.
func (l *Loop) UpdateConfig(cfg LoopConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cfg.PollInterval > 0 {
		l.cfg.PollInterval = cfg.PollInterval
	}
	if cfg.MaxTicks > 0 {
		l.cfg.MaxTicks = cfg.MaxTicks
	}
}

// InProgress reports whether a command's reconciliation is still
// running.
func (l *Loop) InProgress() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inProgress
}

func (l *Loop) setInProgress(v bool) {
	l.mu.Lock()
	l.inProgress = v
	l.mu.Unlock()
}

// StartTracker issues the start command. On acceptance it launches
// bounded polling; on command failure no polling is started.
func (l *Loop) StartTracker(ctx context.Context) error {
	return l.trackerCommand(ctx, "tracker.start", l.api.StartTracker,
		"Tracking service start requested")
}

// StopTracker issues the stop command after the caller-supplied
// confirmation gate passes.
func (l *Loop) StopTracker(ctx context.Context, confirm ConfirmFunc) error {
	if confirm != nil && !confirm() {
		return ErrNotConfirmed
	}
	return l.trackerCommand(ctx, "tracker.stop", l.api.StopTracker,
		"Tracking service stop requested")
}

func (l *Loop) trackerCommand(ctx context.Context, name string, cmd func(context.Context) error, okMsg string) error {
	l.setInProgress(true)

	if err := cmd(ctx); err != nil {
		l.setInProgress(false)
		metrics.CommandsTotal.WithLabelValues(name, "fail").Inc()
		l.bus.Error("Command failed: " + err.Error())
		return err
	}

	metrics.CommandsTotal.WithLabelValues(name, "ok").Inc()
	l.bus.Info(okMsg)
	l.startPolling()
	return nil
}

// StartCamera issues a single start command for one camera and performs
// exactly one synchronous full refresh afterwards, whether or not the
// command succeeded.
func (l *Loop) StartCamera(ctx context.Context, id int) error {
	return l.cameraCommand(ctx, "camera.start", id, l.api.StartCamera)
}

// StopCamera is the stop counterpart of StartCamera.
func (l *Loop) StopCamera(ctx context.Context, id int) error {
	return l.cameraCommand(ctx, "camera.stop", id, l.api.StopCamera)
}

func (l *Loop) cameraCommand(ctx context.Context, name string, id int, cmd func(context.Context, int) error) error {
	err := cmd(ctx, id)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(name, "fail").Inc()
		l.bus.Error("Camera command failed: " + err.Error())
	} else {
		metrics.CommandsTotal.WithLabelValues(name, "ok").Inc()
	}

	if _, rerr := l.Refresh(ctx); rerr != nil {
		log.Printf("[WARN] Loop: refresh after %s: %v", name, rerr)
	}
	return err
}

// startPolling begins a new bounded polling run, cancelling any run
// already active so a single timer exists at any instant.
func (l *Loop) startPolling() {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.gen++
	gen := l.gen
	interval := l.cfg.PollInterval
	maxTicks := l.cfg.MaxTicks
	l.inProgress = true
	l.mu.Unlock()

	l.wg.Add(1)
	go l.run(ctx, gen, interval, maxTicks)
}

func (l *Loop) run(ctx context.Context, gen int, interval time.Duration, maxTicks int) {
	defer l.wg.Done()
	defer func() {
		// Clear the in-progress indicator unconditionally at
		// termination, but only if no newer run superseded this one.
		l.mu.Lock()
		if gen == l.gen {
			l.inProgress = false
			if l.cancel != nil {
				l.cancel()
				l.cancel = nil
			}
		}
		l.mu.Unlock()
	}()

	// The cap-reaching tick's fetch must be allowed to publish before
	// the run context is torn down; this waits for it ahead of the
	// deferred cancel.
	var fetches sync.WaitGroup
	defer fetches.Wait()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for tick := 0; tick < maxTicks; {
		select {
		case <-ctx.Done():
			metrics.PollRunsTotal.WithLabelValues("cancelled").Inc()
			return
		case <-ticker.C:
			tick++
			metrics.PollTicksTotal.Inc()

			// The previous tick's fetch may still be running. Skip
			// this tick rather than queue behind it.
			if !l.inFlight.CompareAndSwap(false, true) {
				metrics.PollTicksSkipped.Inc()
				continue
			}
			l.wg.Add(1)
			fetches.Add(1)
			go func() {
				defer l.wg.Done()
				defer fetches.Done()
				defer l.inFlight.Store(false)
				if _, err := l.Refresh(ctx); err != nil && ctx.Err() == nil {
					log.Printf("[WARN] Loop: reconciliation tick: %v", err)
				}
			}()
		}
	}
	// Cap reached: terminate regardless of whether the expected end
	// state was ever observed.
	metrics.PollRunsTotal.WithLabelValues("completed").Inc()
}

// Refresh performs the three fetches concurrently, merges them and
// publishes the snapshot. A settings failure is absorbed with an empty
// mapping; status or camera-list failure aborts the refresh and keeps
// the previous snapshot.
func (l *Loop) Refresh(ctx context.Context) (*camstate.Snapshot, error) {
	var (
		wg       sync.WaitGroup
		status   camstate.TrackerStatus
		cams     []camstate.Camera
		settings map[string]any

		statusErr, camsErr, settingsErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		status, statusErr = l.api.Status(ctx)
	}()
	go func() {
		defer wg.Done()
		cams, camsErr = l.api.ListCameras(ctx)
	}()
	go func() {
		defer wg.Done()
		settings, settingsErr = l.api.Settings(ctx)
	}()
	wg.Wait()

	if statusErr != nil {
		metrics.RefreshFailures.WithLabelValues("status").Inc()
		return nil, statusErr
	}
	if camsErr != nil {
		metrics.RefreshFailures.WithLabelValues("cameras").Inc()
		return nil, camsErr
	}
	if settingsErr != nil {
		// Best-effort field: substitute the default and carry on.
		metrics.RefreshFailures.WithLabelValues("settings").Inc()
		log.Printf("[WARN] Loop: settings fetch failed, using empty map: %v", settingsErr)
		l.bus.Warning("Settings unavailable; some fields show defaults")
		settings = map[string]any{}
	}
	if settings == nil {
		settings = map[string]any{}
	}

	snap := camstate.Snapshot{
		Cameras:   camstate.Synchronize(cams, status.CameraStatuses),
		Tracker:   status,
		Settings:  settings,
		FetchedAt: time.Now(),
	}
	l.store.Set(ctx, snap)
	return &snap, nil
}

// Stop cancels any active polling run and waits for in-flight work.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.mu.Unlock()
	l.wg.Wait()
}
