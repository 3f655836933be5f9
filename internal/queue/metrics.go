package queue

import (
	"github.com/prometheus/client_golang/prometheus"

	"example.com/tilehunt/internal/domain"
)

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tilehunt",
		Subsystem: "queue",
		Name:      "jobs_processed_total",
		Help:      "Number of jobs successfully handled.",
	}, []string{"topic", "job_type"})

	jobErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tilehunt",
		Subsystem: "queue",
		Name:      "job_errors_total",
		Help:      "Number of job handler errors grouped by topic and type.",
	}, []string{"topic", "job_type"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tilehunt",
		Subsystem: "queue",
		Name:      "decode_errors_total",
		Help:      "Number of decode failures per topic.",
	}, []string{"topic"})

	enqueuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tilehunt",
		Subsystem: "queue",
		Name:      "jobs_enqueued_total",
		Help:      "Number of jobs enqueued, split by immediate or delayed.",
	}, []string{"job_type", "delayed"})

	dispatchedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tilehunt",
		Subsystem: "queue",
		Name:      "delayed_jobs_dispatched_total",
		Help:      "Number of delayed jobs published once due.",
	}, []string{"job_type"})

	lastJobGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tilehunt",
		Subsystem: "queue",
		Name:      "last_job_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successfully processed job per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(processedCounter, jobErrorCounter, decodeErrorCounter, enqueuedCounter, dispatchedCounter, lastJobGauge)
}

func recordProcessed(job Job) {
	processedCounter.WithLabelValues(job.Topic, string(job.Type)).Inc()
	if !job.Timestamp.IsZero() {
		lastJobGauge.WithLabelValues(job.Topic).Set(float64(job.Timestamp.Unix()))
	}
}

func recordJobError(job Job) {
	jobErrorCounter.WithLabelValues(job.Topic, string(job.Type)).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}

func recordEnqueued(jobType domain.JobType, delayed bool) {
	label := "false"
	if delayed {
		label = "true"
	}
	enqueuedCounter.WithLabelValues(string(jobType), label).Inc()
}

func recordDispatched(jobType domain.JobType) {
	dispatchedCounter.WithLabelValues(string(jobType)).Inc()
}
