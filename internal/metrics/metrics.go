package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	UpdatesTotal       prometheus.Counter
	DuplicateUpdates   prometheus.Counter
	MessagesRouted     *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	TokensTotal        *prometheus.CounterVec
	ProcessedJobs      prometheus.Counter
	FailedJobs         prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			UpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "personabot",
				Name:      "telegram_updates_total",
				Help:      "Total telegram updates received",
			}),
			DuplicateUpdates: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "personabot",
				Name:      "telegram_duplicate_updates_total",
				Help:      "Telegram updates dropped as re-deliveries",
			}),
			MessagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "personabot",
				Name:      "messages_routed_total",
				Help:      "Inbound messages by routing outcome",
			}, []string{"outcome"}),
			GenerationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "personabot",
				Name:      "generation_duration_seconds",
				Help:      "LLM generation latency",
				Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
			}, []string{"provider", "status"}),
			TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "personabot",
				Name:      "llm_tokens_total",
				Help:      "Tokens reported by providers",
			}, []string{"provider", "kind"}),
			ProcessedJobs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "personabot",
				Name:      "lane_processed_total",
				Help:      "Total lane jobs successfully processed",
			}),
			FailedJobs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "personabot",
				Name:      "lane_failed_total",
				Help:      "Total lane jobs that returned an error",
			}),
		}
		prometheus.MustRegister(
			global.UpdatesTotal,
			global.DuplicateUpdates,
			global.MessagesRouted,
			global.GenerationDuration,
			global.TokensTotal,
			global.ProcessedJobs,
			global.FailedJobs,
		)
	})
	return global
}
