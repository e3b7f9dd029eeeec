package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики ядра сессии чтения. Регистрируются в DefaultRegisterer,
// /metrics отдаёт их через gin-prometheus в cmd/reader-service.
var (
	unlockCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reader_chapter_unlocks_total",
		Help: "Chapter unlock transactions by outcome (success, failed, compensated).",
	}, []string{"outcome"})

	choiceCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reader_choices_total",
		Help: "Decision choices recorded in reading sessions.",
	})

	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reader_progress_persist_failures_total",
		Help: "Failed remote progress writes deferred for retry.",
	})
)
