package chat

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connected_clients",
		Help: "Number of clients holding a registered identity",
	})

	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_sessions_active",
		Help: "Number of open connections, registered or not",
	})

	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total inbound frames processed by type",
	}, []string{"type"})

	BroadcastDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_broadcast_deliveries_total",
		Help: "Broadcast frames handed to recipients by result",
	}, []string{"result"})

	EventProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_event_processing_seconds",
		Help:    "Time to process each inbound frame type",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(BroadcastDeliveries)
	prometheus.MustRegister(EventProcessingDuration)
}
