// Package metrics provides observability for the codec and tunnel.
package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cylance/MarkovObfuscate/internal/codec"
)

// Collector gathers performance metrics.
type Collector struct {
	// Codec metrics
	EncodeCalls       int64
	EncodeLatencySum  int64 // nanoseconds
	EncodeLatencyMax  int64
	AlgorithmRetries  int64
	EncodeFailures    int64
	DecodeCalls       int64
	DecodeLatencySum  int64
	DecodeLatencyMax  int64
	DecodeErrUnknown  int64
	DecodeErrBadDigit int64

	// Store metrics
	ModelsPersisted int64
	StoreWriteErrs  int64

	// Tunnel metrics
	TunnelConnsActive int64
	TunnelBytesIn     int64
	TunnelBytesOut    int64
	TunnelErrors      int64

	// Admin feed metrics
	AdminClientsActive int64
	AdminMessagesOut   int64

	// System
	StartTime time.Time
	mu        sync.RWMutex
}

// Global collector instance
var collector = &Collector{
	StartTime: time.Now(),
}

// Get returns the global collector.
func Get() *Collector {
	return collector
}

// RecordEncode records one Obfuscate call, including how many restarts the
// retry-on-AlgorithmFail loop burned through.
func (c *Collector) RecordEncode(latency time.Duration, retries int, err error) {
	atomic.AddInt64(&c.EncodeCalls, 1)
	atomic.AddInt64(&c.EncodeLatencySum, int64(latency))
	atomic.AddInt64(&c.AlgorithmRetries, int64(retries))

	if int64(latency) > atomic.LoadInt64(&c.EncodeLatencyMax) {
		atomic.StoreInt64(&c.EncodeLatencyMax, int64(latency))
	}
	if err != nil {
		atomic.AddInt64(&c.EncodeFailures, 1)
	}
}

// RecordDecode records one Deobfuscate call and, on failure, which error
// kind it failed with.
func (c *Collector) RecordDecode(latency time.Duration, err error) {
	atomic.AddInt64(&c.DecodeCalls, 1)
	atomic.AddInt64(&c.DecodeLatencySum, int64(latency))

	if int64(latency) > atomic.LoadInt64(&c.DecodeLatencyMax) {
		atomic.StoreInt64(&c.DecodeLatencyMax, int64(latency))
	}

	if err == nil {
		return
	}
	var unk *codec.ErrUnknownToken
	if errors.As(err, &unk) {
		atomic.AddInt64(&c.DecodeErrUnknown, 1)
	} else {
		atomic.AddInt64(&c.DecodeErrBadDigit, 1)
	}
}

// RecordModelPersisted records a trained model being written to the store.
func (c *Collector) RecordModelPersisted(err error) {
	atomic.AddInt64(&c.ModelsPersisted, 1)
	if err != nil {
		atomic.AddInt64(&c.StoreWriteErrs, 1)
	}
}

// RecordTunnelConnection records tunnel connection changes.
func (c *Collector) RecordTunnelConnection(delta int64) {
	atomic.AddInt64(&c.TunnelConnsActive, delta)
}

// RecordTunnelBytes records bytes relayed through a tunnel leg.
func (c *Collector) RecordTunnelBytes(in, out int64) {
	atomic.AddInt64(&c.TunnelBytesIn, in)
	atomic.AddInt64(&c.TunnelBytesOut, out)
}

// RecordTunnelError records a tunnel-side error (handshake, framing, relay).
func (c *Collector) RecordTunnelError() {
	atomic.AddInt64(&c.TunnelErrors, 1)
}

// RecordAdminConnection records admin feed client connection changes.
func (c *Collector) RecordAdminConnection(delta int64) {
	atomic.AddInt64(&c.AdminClientsActive, delta)
}

// RecordAdminMessage records one broadcast to admin feed clients.
func (c *Collector) RecordAdminMessage() {
	atomic.AddInt64(&c.AdminMessagesOut, 1)
}

// Snapshot returns current metrics as a map.
func (c *Collector) Snapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	encodeCalls := atomic.LoadInt64(&c.EncodeCalls)
	decodeCalls := atomic.LoadInt64(&c.DecodeCalls)

	var encodeAvg, decodeAvg float64
	if encodeCalls > 0 {
		encodeAvg = float64(atomic.LoadInt64(&c.EncodeLatencySum)) / float64(encodeCalls) / 1e6 // ms
	}
	if decodeCalls > 0 {
		decodeAvg = float64(atomic.LoadInt64(&c.DecodeLatencySum)) / float64(decodeCalls) / 1e6
	}

	return map[string]interface{}{
		"uptime_seconds": time.Since(c.StartTime).Seconds(),

		"encode": map[string]interface{}{
			"calls":          encodeCalls,
			"avg_latency_ms": encodeAvg,
			"max_latency_ms": float64(atomic.LoadInt64(&c.EncodeLatencyMax)) / 1e6,
			"algorithm_retries": atomic.LoadInt64(&c.AlgorithmRetries),
			"failures":          atomic.LoadInt64(&c.EncodeFailures),
		},

		"decode": map[string]interface{}{
			"calls":              decodeCalls,
			"avg_latency_ms":     decodeAvg,
			"max_latency_ms":     float64(atomic.LoadInt64(&c.DecodeLatencyMax)) / 1e6,
			"unknown_token_errs": atomic.LoadInt64(&c.DecodeErrUnknown),
			"bad_digit_errs":     atomic.LoadInt64(&c.DecodeErrBadDigit),
		},

		"store": map[string]interface{}{
			"models_persisted": atomic.LoadInt64(&c.ModelsPersisted),
			"write_errors":     atomic.LoadInt64(&c.StoreWriteErrs),
		},

		"tunnel": map[string]interface{}{
			"active_connections": atomic.LoadInt64(&c.TunnelConnsActive),
			"bytes_in":           atomic.LoadInt64(&c.TunnelBytesIn),
			"bytes_out":          atomic.LoadInt64(&c.TunnelBytesOut),
			"errors":             atomic.LoadInt64(&c.TunnelErrors),
		},

		"admin": map[string]interface{}{
			"active_clients": atomic.LoadInt64(&c.AdminClientsActive),
			"messages_out":   atomic.LoadInt64(&c.AdminMessagesOut),
		},
	}
}

// Handler returns an HTTP handler serving the JSON snapshot (mounted at
// /metrics/json by cmd/mtunnel; /metrics there serves PrometheusHandler).
func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")

		snapshot := collector.Snapshot()
		json.NewEncoder(w).Encode(snapshot)
	}
}

// PrometheusHandler returns metrics in Prometheus text format.
func PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		c := collector

		fmt.Fprintf(w, "# HELP markov_encode_calls Total Obfuscate calls\n")
		fmt.Fprintf(w, "# TYPE markov_encode_calls counter\n")
		fmt.Fprintf(w, "markov_encode_calls %d\n\n", atomic.LoadInt64(&c.EncodeCalls))

		fmt.Fprintf(w, "# HELP markov_algorithm_retries Total AlgorithmFail restarts\n")
		fmt.Fprintf(w, "# TYPE markov_algorithm_retries counter\n")
		fmt.Fprintf(w, "markov_algorithm_retries %d\n\n", atomic.LoadInt64(&c.AlgorithmRetries))

		fmt.Fprintf(w, "# HELP markov_encode_failures Total exhausted encode attempts\n")
		fmt.Fprintf(w, "# TYPE markov_encode_failures counter\n")
		fmt.Fprintf(w, "markov_encode_failures %d\n\n", atomic.LoadInt64(&c.EncodeFailures))

		fmt.Fprintf(w, "# HELP markov_decode_calls Total Deobfuscate calls\n")
		fmt.Fprintf(w, "# TYPE markov_decode_calls counter\n")
		fmt.Fprintf(w, "markov_decode_calls %d\n\n", atomic.LoadInt64(&c.DecodeCalls))

		fmt.Fprintf(w, "# HELP markov_decode_errors_total Total decode errors\n")
		fmt.Fprintf(w, "# TYPE markov_decode_errors_total counter\n")
		fmt.Fprintf(w, "markov_decode_errors_total{kind=\"unknown_token\"} %d\n", atomic.LoadInt64(&c.DecodeErrUnknown))
		fmt.Fprintf(w, "markov_decode_errors_total{kind=\"bad_digit\"} %d\n\n", atomic.LoadInt64(&c.DecodeErrBadDigit))

		fmt.Fprintf(w, "# HELP markov_tunnel_connections Active tunnel connections\n")
		fmt.Fprintf(w, "# TYPE markov_tunnel_connections gauge\n")
		fmt.Fprintf(w, "markov_tunnel_connections %d\n\n", atomic.LoadInt64(&c.TunnelConnsActive))

		fmt.Fprintf(w, "# HELP markov_tunnel_bytes_total Total bytes relayed\n")
		fmt.Fprintf(w, "# TYPE markov_tunnel_bytes_total counter\n")
		fmt.Fprintf(w, "markov_tunnel_bytes_total{direction=\"in\"} %d\n", atomic.LoadInt64(&c.TunnelBytesIn))
		fmt.Fprintf(w, "markov_tunnel_bytes_total{direction=\"out\"} %d\n\n", atomic.LoadInt64(&c.TunnelBytesOut))

		fmt.Fprintf(w, "# HELP markov_store_models_persisted Total trained models written to the store\n")
		fmt.Fprintf(w, "# TYPE markov_store_models_persisted counter\n")
		fmt.Fprintf(w, "markov_store_models_persisted %d\n", atomic.LoadInt64(&c.ModelsPersisted))
	}
}
