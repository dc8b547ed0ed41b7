package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Disconnect reasons used as label values.
const (
	ReasonConnLost   = "conn_lost"
	ReasonAckTimeout = "ack_timeout"
	ReasonBadPayload = "bad_payload"
	ReasonIdle       = "idle_timeout"
	ReasonShutdown   = "shutdown"
)

var (
	// Connection metrics
	ConnectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drover_connections_active",
			Help: "Currently open connections by peer role",
		},
		[]string{"role"},
	)

	ConnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_connections_total",
			Help: "Total accepted or established connections by peer role",
		},
		[]string{"role"},
	)

	DisconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_disconnects_total",
			Help: "Total dropped connections by peer role and reason",
		},
		[]string{"role", "reason"},
	)

	ReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_reconnects_total",
			Help: "Total reconnect attempts by local role",
		},
		[]string{"role"},
	)

	// Transfer metrics
	SamplesMergedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_samples_merged_total",
			Help: "Samples merged from worker buffers into the relay buffer",
		},
	)

	BatchesForwardedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_batches_forwarded_total",
			Help: "Aggregated batches forwarded to trainers",
		},
	)

	SamplesForwardedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_samples_forwarded_total",
			Help: "Samples forwarded to trainers",
		},
	)

	BytesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_bytes_sent_total",
			Help: "Payload bytes sent by peer role",
		},
		[]string{"role"},
	)

	BytesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_bytes_received_total",
			Help: "Payload bytes received by peer role",
		},
		[]string{"role"},
	)

	AckRoundtripSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drover_ack_roundtrip_seconds",
			Help:    "Delay between sending a payload and receiving its ack",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"role"},
	)

	// Weights metrics
	WeightsVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drover_weights_version",
			Help: "Version of the newest weights held locally",
		},
	)

	WeightsStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_weights_stored_total",
			Help: "Weights updates received from trainers",
		},
	)

	WeightsBroadcastsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_weights_broadcasts_total",
			Help: "Weights payloads sent downstream toward workers",
		},
	)

	WeightsAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_weights_applied_total",
			Help: "Weights updates applied to the live policy",
		},
	)

	// Buffer metrics
	BufferDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drover_buffer_depth",
			Help: "Samples currently held in a buffer by owner",
		},
		[]string{"owner"},
	)

	// Training metrics
	TrainingRoundSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drover_training_round_seconds",
			Help:    "Duration of one training round",
			Buckets: prometheus.DefBuckets,
		},
	)

	EpisodesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_episodes_total",
			Help: "Episodes completed by mode (train or test)",
		},
		[]string{"mode"},
	)

	EpisodeReturn = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drover_episode_return",
			Help: "Return of the most recent episode by mode",
		},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(ConnectionsActive)
	prometheus.MustRegister(ConnectsTotal)
	prometheus.MustRegister(DisconnectsTotal)
	prometheus.MustRegister(ReconnectsTotal)
	prometheus.MustRegister(SamplesMergedTotal)
	prometheus.MustRegister(BatchesForwardedTotal)
	prometheus.MustRegister(SamplesForwardedTotal)
	prometheus.MustRegister(BytesSentTotal)
	prometheus.MustRegister(BytesReceivedTotal)
	prometheus.MustRegister(AckRoundtripSeconds)
	prometheus.MustRegister(WeightsVersion)
	prometheus.MustRegister(WeightsStoredTotal)
	prometheus.MustRegister(WeightsBroadcastsTotal)
	prometheus.MustRegister(WeightsAppliedTotal)
	prometheus.MustRegister(BufferDepth)
	prometheus.MustRegister(TrainingRoundSeconds)
	prometheus.MustRegister(EpisodesTotal)
	prometheus.MustRegister(EpisodeReturn)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
