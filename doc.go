/*
Package bufstream streams in-memory byte buffers to pull-driven consumers in
fixed-size chunks.

Streaming (pkg/streaming):
  - producer: Chunked pull producer with re-entrancy safe delivery
  - httpsink: HTTP response consumer with rate pacing and eager pulling

Storage (pkg/storage):
  - body: Keyed body stores backed by memory or Redis

Supporting packages:
  - metrics: Prometheus collectors for producers, sinks and stores
  - common/errors, common/validation: Shared error types and config checks

The bufstreamd daemon (cmd/bufstreamd) serves stored bodies over HTTP.

Example usage:

	import (
		"github.com/vnykmshr/bufstream/pkg/streaming/producer"
	)

	p := producer.New() // 64 KiB chunks
	if err := p.Start(sink, body); err != nil {
		return err
	}
	// the sink now calls p.ResumeProducing() whenever it wants more
*/
package bufstream
