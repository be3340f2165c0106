package tracker

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fleetcam/console/internal/camstate"
)

const (
	snapshotKey = "console:snapshot:latest"
	snapshotTTL = 30 * time.Second
)

// SnapshotStore holds the latest merged snapshot. Single writer (the
// control loop), many readers. When a redis client is configured the
// latest snapshot is also cached there so sibling console replicas can
// serve reads; cache failures are logged, never fatal.
type SnapshotStore struct {
	mu   sync.RWMutex
	snap *camstate.Snapshot

	rdb *redis.Client
	pub *EventPublisher
}

func NewSnapshotStore(rdb *redis.Client, pub *EventPublisher) *SnapshotStore {
	return &SnapshotStore{rdb: rdb, pub: pub}
}

// Set replaces the current snapshot and fans it out.
func (s *SnapshotStore) Set(ctx context.Context, snap camstate.Snapshot) {
	s.mu.Lock()
	s.snap = &snap
	s.mu.Unlock()

	if s.rdb != nil {
		data, err := json.Marshal(snap)
		if err == nil {
			err = s.rdb.Set(ctx, snapshotKey, data, snapshotTTL).Err()
		}
		if err != nil {
			log.Printf("[WARN] SnapshotStore: cache write failed: %v", err)
		}
	}

	ids := make([]int, 0, len(snap.Cameras))
	for _, cs := range snap.Cameras {
		ids = append(ids, cs.Camera.ID)
	}
	if err := s.pub.Publish(Event{Type: "snapshot.updated", CameraIDs: ids}); err != nil {
		log.Printf("[WARN] SnapshotStore: event publish failed: %v", err)
	}
}

// Get returns a copy of the latest snapshot, or nil before the first
// successful refresh.
func (s *SnapshotStore) Get() *camstate.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil
	}
	cp := *s.snap
	cp.Cameras = make([]camstate.CameraStatus, len(s.snap.Cameras))
	copy(cp.Cameras, s.snap.Cameras)
	return &cp
}

// Cached reads the latest snapshot from redis. Used by replicas that do
// not run the control loop themselves.
func (s *SnapshotStore) Cached(ctx context.Context) (*camstate.Snapshot, error) {
	if s.rdb == nil {
		return nil, nil
	}
	data, err := s.rdb.Get(ctx, snapshotKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap camstate.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
