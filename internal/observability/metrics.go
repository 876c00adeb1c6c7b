package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attend",
		Name:      "frames_processed_total",
		Help:      "Total number of frames run through face detection",
	}, []string{"mode"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attend",
		Name:      "faces_detected_total",
		Help:      "Total number of face regions detected",
	}, []string{"mode"})

	DebounceTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attend",
		Name:      "debounce_trips_total",
		Help:      "Number of times the consecutive-face gate tripped",
	}, []string{"mode"})

	MatchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attend",
		Name:      "match_attempts_total",
		Help:      "Match attempts by result",
	}, []string{"mode", "result"})

	CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attend",
		Name:      "checkins_total",
		Help:      "Check-in writes by day part, split into new and repeated",
	}, []string{"day_part", "changed"})

	AuthOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attend",
		Name:      "auth_outcomes_total",
		Help:      "Terminal gated authorization outcomes",
	}, []string{"result"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "attend",
		Name:      "inference_duration_seconds",
		Help:      "Duration of detect/encode/match stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "attend",
		Name:      "active_sessions",
		Help:      "Number of running scan sessions",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attend",
		Name:      "events_dropped_total",
		Help:      "Session events dropped because a subscriber was full",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "attend",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "attend",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
