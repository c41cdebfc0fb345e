package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RemindersSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reminder_notifications_sent_total",
		Help: "Reminders delivered by scan ticks",
	})

	RemindersFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reminder_notifications_failed_total",
		Help: "Due reminders that could not be delivered or had no resolvable owner",
	})

	RecurringCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reminder_recurring_occurrences_created_total",
		Help: "Successor occurrences spawned from recurring tasks",
	})

	RemindersRestored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reminder_restored_total",
		Help: "Reminders re-established by the daily restoration job",
	})

	// 10ms to ~40s
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reminder_job_duration_seconds",
			Help:    "Scheduled job run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"job", "outcome"}, // outcome: ok, error, locked
	)
)

func recordScan(res ScanResult) {
	RemindersSent.Add(float64(res.Sent))
	RemindersFailed.Add(float64(res.Failed))
	RecurringCreated.Add(float64(res.RecurringCreated))
}

func recordJob(job, outcome string, duration time.Duration) {
	JobDuration.WithLabelValues(job, outcome).Observe(duration.Seconds())
}
