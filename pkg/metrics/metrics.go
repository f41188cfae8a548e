// Package metrics implements the Prometheus collector from SPEC_FULL.md
// §4.10: per-peer counters and gauges exported for observability.
//
// Grounded on runZeroInc-sockstats's and runZeroInc-conniver's
// pkg/exporter/exporter.go: a custom prometheus.Collector holding a
// protected map of tracked entries, describing/collecting them on demand
// rather than using promauto's package-level registration style.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rn-go/raknet/pkg/raknet"
)

type peerStats struct {
	labels          []string
	framesSent      uint64
	framesReceived  uint64
	bytesSent       uint64
	bytesReceived   uint64
	resendQueueLen  int
	retransmits     uint64
	duplicatesDropped uint64
}

// Collector tracks per-peer counters and exposes them as a
// prometheus.Collector. One Collector is shared by every peer in a
// process.
type Collector struct {
	mu    sync.Mutex
	peers map[raknet.PeerID]*peerStats

	framesSentDesc        *prometheus.Desc
	framesReceivedDesc    *prometheus.Desc
	bytesSentDesc         *prometheus.Desc
	bytesReceivedDesc     *prometheus.Desc
	resendQueueLenDesc    *prometheus.Desc
	retransmitsDesc       *prometheus.Desc
	duplicatesDroppedDesc *prometheus.Desc
}

// New creates an empty Collector. Register it with a prometheus.Registry
// before peers start reporting.
func New() *Collector {
	const ns = "raknet"
	labels := []string{"peer_id"}
	return &Collector{
		peers:                 make(map[raknet.PeerID]*peerStats),
		framesSentDesc:        prometheus.NewDesc(ns+"_frames_sent_total", "Frames sent to this peer.", labels, nil),
		framesReceivedDesc:    prometheus.NewDesc(ns+"_frames_received_total", "Frames received from this peer.", labels, nil),
		bytesSentDesc:         prometheus.NewDesc(ns+"_bytes_sent_total", "Datagram bytes sent to this peer.", labels, nil),
		bytesReceivedDesc:     prometheus.NewDesc(ns+"_bytes_received_total", "Datagram bytes received from this peer.", labels, nil),
		resendQueueLenDesc:    prometheus.NewDesc(ns+"_resend_queue_length", "In-flight unacknowledged frame sets.", labels, nil),
		retransmitsDesc:       prometheus.NewDesc(ns+"_retransmits_total", "Frames retransmitted after RTO or NACK.", labels, nil),
		duplicatesDroppedDesc: prometheus.NewDesc(ns+"_duplicates_dropped_total", "Duplicate or stale frames dropped.", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.framesSentDesc
	ch <- c.framesReceivedDesc
	ch <- c.bytesSentDesc
	ch <- c.bytesReceivedDesc
	ch <- c.resendQueueLenDesc
	ch <- c.retransmitsDesc
	ch <- c.duplicatesDroppedDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.peers {
		ch <- prometheus.MustNewConstMetric(c.framesSentDesc, prometheus.CounterValue, float64(s.framesSent), s.labels...)
		ch <- prometheus.MustNewConstMetric(c.framesReceivedDesc, prometheus.CounterValue, float64(s.framesReceived), s.labels...)
		ch <- prometheus.MustNewConstMetric(c.bytesSentDesc, prometheus.CounterValue, float64(s.bytesSent), s.labels...)
		ch <- prometheus.MustNewConstMetric(c.bytesReceivedDesc, prometheus.CounterValue, float64(s.bytesReceived), s.labels...)
		ch <- prometheus.MustNewConstMetric(c.resendQueueLenDesc, prometheus.GaugeValue, float64(s.resendQueueLen), s.labels...)
		ch <- prometheus.MustNewConstMetric(c.retransmitsDesc, prometheus.CounterValue, float64(s.retransmits), s.labels...)
		ch <- prometheus.MustNewConstMetric(c.duplicatesDroppedDesc, prometheus.CounterValue, float64(s.duplicatesDropped), s.labels...)
	}
}

// Track registers peerID so it appears in subsequent Collect calls.
func (c *Collector) Track(peerID raknet.PeerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.peers[peerID]; ok {
		return
	}
	c.peers[peerID] = &peerStats{labels: []string{string(peerID)}}
}

// Untrack removes peerID, e.g. on disconnect.
func (c *Collector) Untrack(peerID raknet.PeerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.peers, peerID)
}

// AddFramesSent adds n to peerID's sent-frame counter.
func (c *Collector) AddFramesSent(peerID raknet.PeerID, n uint64, bytes uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.peers[peerID]; ok {
		s.framesSent += n
		s.bytesSent += bytes
	}
}

// AddFramesReceived adds n to peerID's received-frame counter.
func (c *Collector) AddFramesReceived(peerID raknet.PeerID, n uint64, bytes uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.peers[peerID]; ok {
		s.framesReceived += n
		s.bytesReceived += bytes
	}
}

// SetResendQueueLen records the current ResendMap.Len() for peerID.
func (c *Collector) SetResendQueueLen(peerID raknet.PeerID, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.peers[peerID]; ok {
		s.resendQueueLen = n
	}
}

// AddRetransmits adds n to peerID's retransmit counter.
func (c *Collector) AddRetransmits(peerID raknet.PeerID, n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.peers[peerID]; ok {
		s.retransmits += n
	}
}

// AddDuplicatesDropped adds n to peerID's duplicate-drop counter.
func (c *Collector) AddDuplicatesDropped(peerID raknet.PeerID, n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.peers[peerID]; ok {
		s.duplicatesDropped += n
	}
}
