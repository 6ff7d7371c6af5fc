package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "deskcast_session_state",
		Help: "Current session state (1 for the active state, 0 otherwise).",
	}, []string{"state"})

	encoderRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deskcast_encoder_restarts_total",
		Help: "Number of encode process restarts triggered by config reloads.",
	})

	receiverSignalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deskcast_receiver_signals_total",
		Help: "Number of start signals received from the receiver app.",
	})

	playbackWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deskcast_playback_wait_seconds",
		Help:    "Time from media load until the receiver reported playback.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
	})
)

// recordState flips the state gauge so exactly one state reads 1.
func recordState(current State) {
	for s := StateIdle; s <= StateStopped; s++ {
		value := 0.0
		if s == current {
			value = 1.0
		}
		stateGauge.WithLabelValues(s.String()).Set(value)
	}
}
