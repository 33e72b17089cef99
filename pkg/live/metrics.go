package live

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_connect_attempts_total",
		Help: "Connection attempts by outcome",
	}, []string{"outcome"})

	SessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "live_session_state",
		Help: "1 for the current session state, 0 otherwise",
	}, []string{"state"})

	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_capture_frames_sent_total",
		Help: "Microphone frames handed to the writer",
	})

	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_capture_frames_dropped_total",
		Help: "Microphone frames dropped because the outbound queue was full or the write failed",
	})

	ChunksScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_playback_chunks_scheduled_total",
		Help: "Assistant audio chunks scheduled for playback",
	})

	Interruptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_interruptions_total",
		Help: "Server-signalled barge-in events",
	})

	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_tool_calls_total",
		Help: "Tool invocations by reply status",
	}, []string{"status"})

	ToolDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "live_tool_duration_seconds",
		Help:    "Tool handler latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	})
)

func recordState(s State) {
	for _, st := range []State{StateDisconnected, StateConnecting, StateConnected, StateError} {
		v := 0.0
		if st == s {
			v = 1
		}
		SessionState.WithLabelValues(string(st)).Set(v)
	}
}
