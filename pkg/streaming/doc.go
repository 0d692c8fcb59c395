/*
Package streaming delivers in-memory buffers to consumers in bounded chunks,
driven by the consumer's readiness rather than by the producer.

This package groups two components:

  - producer: ChunkProducer, a pull producer that hands out zero-copy views
    of a byte buffer one chunk at a time
  - httpsink: ResponseSink, a consumer that pulls chunks into an
    http.ResponseWriter with optional rate pacing

Basic usage:

	err := httpsink.Stream(ctx, w, body, httpsink.DefaultStreamConfig())

Both components run on the goroutine that drives them. A producer must not be
shared between goroutines.
*/
package streaming
