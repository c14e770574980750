// Package metrics registers the mesh's Prometheus collectors and mirrors
// each measurement into an OpenTelemetry meter, following the node repo's
// dual-export pattern in p2p/metrics.go and observability/metrics.go.
package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var (
	initOnce sync.Once
	shared   *Registry
)

// Registry holds every metric the node exposes: connection/peer gauges,
// per-error-kind counters (spec.md section 7's "metrics counters expose
// every error kind"), routing table size, and CRL/certificate freshness.
type Registry struct {
	peerCount      prometheus.Gauge
	peerScore      *prometheus.GaugeVec
	peerRTT        *prometheus.GaugeVec
	handshakes     *prometheus.CounterVec
	errorsByKind   *prometheus.CounterVec
	routeCount     prometheus.Gauge
	crlSequence    prometheus.Gauge
	certExpirySecs prometheus.Gauge
	messagesDrop   prometheus.Counter

	meter                metric.Meter
	handshakeCounter     metric.Int64Counter
	errorCounter         metric.Int64Counter
	messagesDropCounter  metric.Int64Counter
}

// Get returns the process-wide Registry, constructing and registering it
// with the default Prometheus registerer on first call.
func Get() *Registry {
	initOnce.Do(func() {
		r := &Registry{
			peerCount: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "genesismesh_peer_count",
				Help: "Number of established peer connections.",
			}),
			peerScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "genesismesh_peer_reputation",
				Help: "Reputation score per peer, in [0,1].",
			}, []string{"peer"}),
			peerRTT: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "genesismesh_peer_rtt_seconds",
				Help: "Most recently observed ping/pong round trip per peer.",
			}, []string{"peer"}),
			handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "genesismesh_handshakes_total",
				Help: "Handshake outcomes by result.",
			}, []string{"result"}),
			errorsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "genesismesh_errors_total",
				Help: "Errors by taxonomy kind (spec section 7).",
			}, []string{"kind"}),
			routeCount: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "genesismesh_routes",
				Help: "Number of live entries in the routing table.",
			}),
			crlSequence: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "genesismesh_crl_sequence",
				Help: "Sequence number of the currently held CRL.",
			}),
			certExpirySecs: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "genesismesh_cert_expiry_seconds",
				Help: "Seconds remaining until this node's own certificate expires.",
			}),
			messagesDrop: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "genesismesh_messages_dropped_total",
				Help: "Non-control messages dropped due to send-queue backpressure.",
			}),
		}
		prometheus.MustRegister(r.peerCount, r.peerScore, r.peerRTT, r.handshakes, r.errorsByKind,
			r.routeCount, r.crlSequence, r.certExpirySecs, r.messagesDrop)
		r.initMeter()
		shared = r
	})
	return shared
}

func (r *Registry) initMeter() {
	meter := otel.GetMeterProvider().Meter("genesismesh")
	handshakeCounter, err := meter.Int64Counter("genesismesh.handshakes")
	if err != nil {
		meter = noop.NewMeterProvider().Meter("genesismesh")
		handshakeCounter, _ = meter.Int64Counter("genesismesh.handshakes")
	}
	errorCounter, err := meter.Int64Counter("genesismesh.errors")
	if err != nil {
		fallback := noop.NewMeterProvider().Meter("genesismesh")
		errorCounter, _ = fallback.Int64Counter("genesismesh.errors")
	}
	dropCounter, err := meter.Int64Counter("genesismesh.messages_dropped")
	if err != nil {
		fallback := noop.NewMeterProvider().Meter("genesismesh")
		dropCounter, _ = fallback.Int64Counter("genesismesh.messages_dropped")
	}
	r.meter = meter
	r.handshakeCounter = handshakeCounter
	r.errorCounter = errorCounter
	r.messagesDropCounter = dropCounter
}

// SetPeerCount records the current number of established peers.
func (r *Registry) SetPeerCount(n int) {
	r.peerCount.Set(float64(n))
}

// ObservePeerScore records peerID's current reputation score.
func (r *Registry) ObservePeerScore(peerID string, score float64) {
	r.peerScore.WithLabelValues(peerID).Set(score)
}

// ObservePeerRTT records peerID's most recently observed ping/pong round
// trip, in seconds.
func (r *Registry) ObservePeerRTT(peerID string, seconds float64) {
	r.peerRTT.WithLabelValues(peerID).Set(seconds)
}

// RemovePeer clears any per-peer series for a disconnected peer, avoiding
// unbounded label cardinality growth over a long-running process.
func (r *Registry) RemovePeer(peerID string) {
	r.peerScore.DeleteLabelValues(peerID)
	r.peerRTT.DeleteLabelValues(peerID)
}

// RecordHandshake tags a completed handshake attempt with its outcome.
func (r *Registry) RecordHandshake(result string) {
	if result == "" {
		result = "unknown"
	}
	r.handshakes.WithLabelValues(result).Inc()
	if r.handshakeCounter != nil {
		r.handshakeCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
	}
}

// RecordError increments the counter for a spec.md section 7 error kind.
func (r *Registry) RecordError(kind string) {
	if kind == "" {
		kind = "Unknown"
	}
	r.errorsByKind.WithLabelValues(kind).Inc()
	if r.errorCounter != nil {
		r.errorCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// SetRouteCount records the routing table's current entry count.
func (r *Registry) SetRouteCount(n int) {
	r.routeCount.Set(float64(n))
}

// SetCrlSequence records the sequence number of the currently held CRL.
func (r *Registry) SetCrlSequence(seq uint64) {
	r.crlSequence.Set(float64(seq))
}

// SetCertExpirySeconds records how long until this node's own certificate
// expires; a negative value indicates it has already lapsed.
func (r *Registry) SetCertExpirySeconds(secs float64) {
	r.certExpirySecs.Set(secs)
}

// RecordMessageDropped increments the backpressure-drop counter.
func (r *Registry) RecordMessageDropped() {
	r.messagesDrop.Inc()
	if r.messagesDropCounter != nil {
		r.messagesDropCounter.Add(context.Background(), 1)
	}
}
