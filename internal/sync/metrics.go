package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordingsDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sidekick",
		Subsystem: "sync",
		Name:      "recordings_downloaded_total",
		Help:      "Recordings pulled off devices into local storage.",
	})
	eventsDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sidekick",
		Subsystem: "sync",
		Name:      "events_downloaded_total",
		Help:      "Events pulled off devices into local storage.",
	})
	recordingsUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sidekick",
		Subsystem: "sync",
		Name:      "recordings_uploaded_total",
		Help:      "Recordings confirmed by the cloud.",
	})
	eventsUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sidekick",
		Subsystem: "sync",
		Name:      "events_uploaded_total",
		Help:      "Events confirmed by the cloud.",
	})
	syncFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sidekick",
		Subsystem: "sync",
		Name:      "failures_total",
		Help:      "Per-item sync failures by phase.",
	}, []string{"phase"})
)
