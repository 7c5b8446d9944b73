// Package metrics exposes Prometheus instrumentation for the ingestion pipeline.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "diagcap"

// Drop reasons recorded by Collector.ChunksDropped.
const (
	ReasonCorrupt         = "corrupt"
	ReasonCatalogMismatch = "catalog_mismatch"
	ReasonDuplicate       = "duplicate"
)

// Collector groups the ingestion metrics.
type Collector struct {
	ChunksDecoded prometheus.Counter
	ChunksDropped *prometheus.CounterVec
	DecodeSeconds prometheus.Histogram
	QueueDepth    prometheus.Gauge
	FilesRead     prometheus.Counter
	RecordsRead   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
//
// A nil reg leaves them unregistered, which still lets them count. Collectors already
// registered on reg by an earlier call are reused, so several readers can share a registry.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		ChunksDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_decoded_total",
			Help:      "Chunks that passed decoding and were added to a dataset.",
		}),
		ChunksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Chunks discarded during ingestion, by reason.",
		}, []string{"reason"}),
		DecodeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_decode_seconds",
			Help:      "Time spent decoding a single chunk.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "decode_queue_depth",
			Help:      "Chunk payloads waiting for a decode worker.",
		}),
		FilesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_read_total",
			Help:      "Capture files fully ingested.",
		}),
		RecordsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_read_total",
			Help:      "Capture file records read, by kind.",
		}, []string{"kind"}),
	}

	if reg == nil {
		return c, nil
	}

	var err error
	c.ChunksDecoded, err = register(reg, c.ChunksDecoded)
	if err != nil {
		return nil, err
	}
	c.ChunksDropped, err = register(reg, c.ChunksDropped)
	if err != nil {
		return nil, err
	}
	c.DecodeSeconds, err = register(reg, c.DecodeSeconds)
	if err != nil {
		return nil, err
	}
	c.QueueDepth, err = register(reg, c.QueueDepth)
	if err != nil {
		return nil, err
	}
	c.FilesRead, err = register(reg, c.FilesRead)
	if err != nil {
		return nil, err
	}
	c.RecordsRead, err = register(reg, c.RecordsRead)
	if err != nil {
		return nil, err
	}

	return c, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}

		return c, err
	}

	return c, nil
}
