package consumer

import "github.com/prometheus/client_golang/prometheus"

// Message outcomes.
const (
	outcomeHandled     = "handled"
	outcomeFailed      = "handler_error"
	outcomeUndecodable = "undecodable"
)

var (
	messagesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "couples_service",
		Subsystem: "consumer",
		Name:      "messages_total",
		Help:      "Kafka messages seen by the consumer, by outcome. Undecodable messages carry an empty event_type.",
	}, []string{"topic", "event_type", "outcome"})

	lastHandledGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "couples_service",
		Subsystem: "consumer",
		Name:      "last_handled_timestamp_seconds",
		Help:      "Broker timestamp of the last handled message per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(messagesCounter, lastHandledGauge)
}

func recordProcessed(msg Message) {
	messagesCounter.WithLabelValues(msg.Topic, msg.EventType, outcomeHandled).Inc()
	if !msg.Timestamp.IsZero() {
		lastHandledGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
	}
}

func recordHandlerError(msg Message) {
	messagesCounter.WithLabelValues(msg.Topic, msg.EventType, outcomeFailed).Inc()
}

func recordDecodeError(topic string) {
	messagesCounter.WithLabelValues(topic, "", outcomeUndecodable).Inc()
}
