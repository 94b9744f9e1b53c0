package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pipelines"

// Метрики планировщика. Регистрируются в prometheus.DefaultRegisterer
// и отдаются через promhttp.Handler на /metrics.
var (
	// AdmissionAttempts — попытки допуска operation runs по решению launcher.
	AdmissionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admission_attempts_total",
		Help:      "Admission attempts by launcher decision.",
	}, []string{"decision"})

	// ConsumedMessages — обработанные сообщения по очереди и исходу (ack, requeue, dead).
	ConsumedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consumed_messages_total",
		Help:      "Messages consumed from RabbitMQ by queue and outcome.",
	}, []string{"queue", "outcome"})

	// AdmissionReschedules — повторные вызовы цикла допуска.
	AdmissionReschedules = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admission_reschedules_total",
		Help:      "Admission loop self-reschedules by reason.",
	}, []string{"reason"})

	// PropagatedTransitions — переходы operation runs при stop/skip.
	PropagatedTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "propagated_transitions_total",
		Help:      "Operation run transitions caused by stop/skip propagation.",
	}, []string{"status"})

	// OperationStatusTransitions — переходы operation runs по целевому статусу.
	OperationStatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operation_status_transitions_total",
		Help:      "Operation run status transitions by target status.",
	}, []string{"status"})

	// PipelineStatusTransitions — переходы pipeline runs по целевому статусу.
	PipelineStatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_status_transitions_total",
		Help:      "Pipeline run status transitions by target status.",
	}, []string{"status"})

	// SweepTriggered — pipeline runs, перезапущенные sweeper.
	SweepTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_triggered_total",
		Help:      "Pipeline runs re-triggered by the sweeper.",
	})
)
