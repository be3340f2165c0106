package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PollTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "console_poll_ticks_total",
		Help: "Total number of reconciliation ticks executed",
	})

	PollTicksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "console_poll_ticks_skipped_total",
		Help: "Ticks skipped because the previous reconciliation fetch was still in flight",
	})

	PollRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_poll_runs_total",
		Help: "Total number of bounded polling runs by outcome",
	}, []string{"result"}) // completed | cancelled

	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_tracker_commands_total",
		Help: "Total tracker/camera commands issued",
	}, []string{"command", "result"})

	RefreshFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_refresh_failures_total",
		Help: "Failed fetches during a reconciliation refresh",
	}, []string{"source"}) // status | cameras | settings

	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "console_stream_reconnects_total",
		Help: "Reconnect attempts scheduled after abnormal transport closures",
	})

	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "console_stream_frames_total",
		Help: "Total video frames delivered by the stream transport",
	})
)

// RegisterNotificationGauge exposes the active notification count. Wired
// from main with the bus's Count method.
func RegisterNotificationGauge(count func() int) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "console_notifications_active",
		Help: "Current number of active notifications",
	}, func() float64 { return float64(count()) })
}
