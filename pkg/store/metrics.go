package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lookupsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kissml_store_lookups_total",
		Help: "The total number of cache lookups by outcome",
	}, []string{"status"}) // hit or miss.
	writesMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kissml_store_writes_total",
		Help: "The total number of entries written to cache stores",
	})
	evictionsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kissml_store_evictions_total",
		Help: "The total number of entries evicted by policy",
	}, []string{"policy"})
	corruptionsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kissml_store_corruptions_total",
		Help: "The total number of stored entries that failed to decode",
	})
	entryCacheLookupsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kissml_entry_cache_lookups_total",
		Help: "The total number of in-memory entry cache lookups by outcome",
	}, []string{"status"})
	bloomSkipsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kissml_bloom_skips_total",
		Help: "The total number of lookups answered as misses by the bloom filter without reading disk",
	})
)
