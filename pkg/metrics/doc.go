// Package metrics provides Prometheus instrumentation for bufstream components.
//
// # Overview
//
// The metrics package instruments:
//   - Chunk producers (started, active, finished, canceled, chunks, bytes)
//   - HTTP response sinks (transport write errors, pacing wait time)
//   - Body stores (lookups by backend and result)
//
// # Quick Start
//
// Components accept a *Registry in their Config:
//
//	reg := metrics.NewRegistry(prometheus.NewRegistry())
//	p, _ := producer.NewWithConfig(producer.Config{
//		Name:    "downloads",
//		Metrics: reg,
//	})
//
// Then expose metrics via HTTP:
//
//	http.Handle("/metrics", promhttp.Handler())
//
// # Available Metrics
//
//   - bufstream_producer_started_total
//   - bufstream_producer_active
//   - bufstream_producer_finished_total
//   - bufstream_producer_canceled_total
//   - bufstream_producer_chunks_written_total
//   - bufstream_producer_bytes_written_total
//   - bufstream_sink_write_errors_total
//   - bufstream_sink_pacing_wait_seconds
//   - bufstream_store_fetches_total
//
// # Labels
//
//   - producer_name: Config.Name of the producer
//   - sink_name: Config.Name of the sink
//   - backend: "memory" or "redis"
//   - result: "hit", "miss" or "error"
package metrics
