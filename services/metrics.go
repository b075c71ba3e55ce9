package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ErrNoIdentity          = errors.New("no resolvable user identity")
	ErrInvalidParticipants = errors.New("conversation needs two distinct participants")
	ErrEmptyMessage        = errors.New("message text is empty")
	ErrPostNotLoaded       = errors.New("post is not in the loaded feed")
	ErrDownloadCanceled    = errors.New("download canceled")
	ErrSessionClosed       = errors.New("session closed")
)

var (
	messagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "school_connect",
		Subsystem: "chat",
		Name:      "messages_sent_total",
		Help:      "Messages written, by type.",
	}, []string{"type"})

	messageSendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "school_connect",
		Subsystem: "chat",
		Name:      "message_send_failures_total",
		Help:      "Message sends that failed before or during the write, by stage.",
	}, []string{"stage"})

	likeToggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "school_connect",
		Subsystem: "feed",
		Name:      "like_toggles_total",
		Help:      "Optimistic like toggles, by direction.",
	}, []string{"direction"})

	likeRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "school_connect",
		Subsystem: "feed",
		Name:      "like_rollbacks_total",
		Help:      "Like toggles reverted by re-fetching the post after a failed write.",
	})

	bestEffortFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "school_connect",
		Name:      "best_effort_failures_total",
		Help:      "Fire-and-forget side effects that failed, by operation.",
	}, []string{"op"})

	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "school_connect",
		Subsystem: "library",
		Name:      "downloads_total",
		Help:      "Chapter downloads, by result.",
	}, []string{"result"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "school_connect",
		Name:      "active_sessions",
		Help:      "Viewer sessions held in memory.",
	})
)

const bestEffortTimeout = 10 * time.Second

// bestEffort runs fn in the background. Failures are logged and counted, never retried.
func bestEffort(op string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), bestEffortTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			bestEffortFailures.WithLabelValues(op).Inc()
			log.Printf("Warning: %s failed: %v", op, err)
		}
	}()
}
