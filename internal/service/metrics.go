package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transactionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_transactions_started_total",
		Help: "Transactions admitted for execution",
	}, []string{"type"})

	transactionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_transactions_finished_total",
		Help: "Transactions that finished executing, by final status",
	}, []string{"type", "status"})

	transactionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "saga_transactions_active",
		Help: "Transactions currently registered with the coordinator",
	})

	admissionRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saga_admission_rejected_total",
		Help: "Transactions rejected because the concurrency limit was reached",
	})

	executionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "saga_execution_duration_seconds",
		Help:    "Wall-clock time of saga execution including compensation",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"type", "status"})

	compensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_compensations_total",
		Help: "Compensating actions run, by result",
	}, []string{"result"})
)
