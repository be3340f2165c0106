package tracker

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/fleetcam/console/internal/camstate"
)

type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) ListCameras(ctx context.Context) ([]camstate.Camera, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]camstate.Camera), args.Error(1)
}

func (m *MockAPI) Status(ctx context.Context) (camstate.TrackerStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(camstate.TrackerStatus), args.Error(1)
}

func (m *MockAPI) Settings(ctx context.Context) (map[string]any, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

func (m *MockAPI) StartTracker(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockAPI) StopTracker(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockAPI) StartCamera(ctx context.Context, id int) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockAPI) StopCamera(ctx context.Context, id int) error {
	return m.Called(ctx, id).Error(0)
}

// fakeAPI is a hand-rolled stub for timing-sensitive tests where
// per-call hooks are easier than mock expectations.
type fakeAPI struct {
	listCameras func(ctx context.Context) ([]camstate.Camera, error)
	status      func(ctx context.Context) (camstate.TrackerStatus, error)
	settings    func(ctx context.Context) (map[string]any, error)
}

func (f *fakeAPI) ListCameras(ctx context.Context) ([]camstate.Camera, error) {
	if f.listCameras != nil {
		return f.listCameras(ctx)
	}
	return []camstate.Camera{}, nil
}

func (f *fakeAPI) Status(ctx context.Context) (camstate.TrackerStatus, error) {
	if f.status != nil {
		return f.status(ctx)
	}
	return camstate.TrackerStatus{}, nil
}

func (f *fakeAPI) Settings(ctx context.Context) (map[string]any, error) {
	if f.settings != nil {
		return f.settings(ctx)
	}
	return map[string]any{}, nil
}

func (f *fakeAPI) StartTracker(ctx context.Context) error        { return nil }
func (f *fakeAPI) StopTracker(ctx context.Context) error         { return nil }
func (f *fakeAPI) StartCamera(ctx context.Context, id int) error { return nil }
func (f *fakeAPI) StopCamera(ctx context.Context, id int) error  { return nil }
