package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Broadcast kinds used as label values
const (
	KindFull       = "full"
	KindCoordinate = "coordinate"
	KindData       = "data"
	KindPing       = "ping"
	KindSaveTime   = "save_time"
	KindServerLog  = "serverlog"
)

// Metrics holds all Prometheus metrics for the hub.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Connection metrics
	activeConnections prometheus.Gauge
	connectionsOpened prometheus.Counter
	connectionsClosed prometheus.Counter
	presenceRecords   prometheus.Gauge

	// Broadcast metrics
	broadcasts      *prometheus.CounterVec
	broadcastFanout *prometheus.HistogramVec
	framesDropped   *prometheus.CounterVec

	// Inbound metrics
	messagesReceived *prometheus.CounterVec
	messagesRejected *prometheus.CounterVec

	// Persistence metrics
	snapshotSaves    *prometheus.CounterVec
	snapshotDuration prometheus.Histogram
}

// New registers the hub metrics on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		activeConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "goatspace_active_connections",
			Help: "Current number of registered connections",
		}),
		connectionsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "goatspace_connections_opened_total",
			Help: "Total number of connections accepted",
		}),
		connectionsClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "goatspace_connections_closed_total",
			Help: "Total number of connections closed",
		}),
		presenceRecords: f.NewGauge(prometheus.GaugeOpts{
			Name: "goatspace_presence_records",
			Help: "Number of records in the presence store (numUsers)",
		}),
		broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "goatspace_broadcasts_total",
			Help: "Total number of broadcasts by kind",
		}, []string{"kind"}),
		broadcastFanout: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "goatspace_broadcast_fanout",
			Help:    "Number of connections that received each broadcast",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"kind"}),
		framesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "goatspace_frames_dropped_total",
			Help: "Outbound frames dropped because a connection was closed or its buffer was full",
		}, []string{"reason"}),
		messagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "goatspace_messages_received_total",
			Help: "Inbound frames accepted by type",
		}, []string{"type"}),
		messagesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "goatspace_messages_rejected_total",
			Help: "Inbound frames rejected by reason",
		}, []string{"reason"}),
		snapshotSaves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "goatspace_snapshot_saves_total",
			Help: "Snapshot saves by result",
		}, []string{"result"}),
		snapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "goatspace_snapshot_save_duration_seconds",
			Help:    "Time taken to write a snapshot",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// RecordConnectionOpened counts an accepted connection
func (m *Metrics) RecordConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsOpened.Inc()
	m.activeConnections.Inc()
}

// RecordConnectionClosed counts a closed connection
func (m *Metrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsClosed.Inc()
	m.activeConnections.Dec()
}

// RecordPresenceRecords sets the store size
func (m *Metrics) RecordPresenceRecords(n int) {
	if m == nil {
		return
	}
	m.presenceRecords.Set(float64(n))
}

// RecordBroadcast records one broadcast of kind reaching recipients connections
func (m *Metrics) RecordBroadcast(kind string, recipients int) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(kind).Inc()
	m.broadcastFanout.WithLabelValues(kind).Observe(float64(recipients))
}

// RecordFrameDropped counts an outbound frame that was not queued
func (m *Metrics) RecordFrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

// RecordMessageReceived counts an accepted inbound frame
func (m *Metrics) RecordMessageReceived(messageType string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(messageType).Inc()
}

// RecordMessageRejected counts a dropped inbound frame
func (m *Metrics) RecordMessageRejected(reason string) {
	if m == nil {
		return
	}
	m.messagesRejected.WithLabelValues(reason).Inc()
}

// RecordSnapshotSave records the outcome and duration of a save
func (m *Metrics) RecordSnapshotSave(err error, seconds float64) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.snapshotSaves.WithLabelValues(result).Inc()
	m.snapshotDuration.Observe(seconds)
}
