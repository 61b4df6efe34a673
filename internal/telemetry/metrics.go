package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "triviapot"

var (
	SessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_started_total",
		Help:      "Sessions started, by mode and whether an existing session was resumed.",
	}, []string{"mode", "resumed"})

	AnswersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "answers_submitted_total",
		Help:      "Accepted answers, by mode and outcome (correct, incorrect, expired, duplicate).",
	}, []string{"mode", "outcome"})

	AnswerPoints = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "answer_points",
		Help:      "Points awarded per accepted answer.",
		Buckets:   []float64{0, 100, 250, 400, 550, 700, 850, 1000},
	}, []string{"mode"})

	IndexMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "question_index_mismatches_total",
		Help:      "Submissions rejected because the client cursor was out of sync.",
	})

	SessionsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_completed_total",
		Help:      "Completed sessions, by mode.",
	}, []string{"mode"})

	RoundsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rounds_settled_total",
		Help:      "Settled rounds, by outcome (finalized, refund).",
	}, []string{"outcome"})

	VaultInstructions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "vault_instructions_total",
		Help:      "Vault program instructions, by instruction and result.",
	}, []string{"instruction", "result"})
)
