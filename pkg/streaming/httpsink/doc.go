/*
Package httpsink delivers a producer.ChunkProducer's chunks to an HTTP
response.

ResponseSink plays the transport's part of the pull contract: it accepts the
producer's registration, writes and flushes each chunk, and calls
ResumeProducing again only when the previous chunk has been handed to the
connection and the optional byte-rate limiter allows it.

# Quick Start

	func handler(w http.ResponseWriter, r *http.Request) {
		body := render()
		if err := httpsink.Stream(r.Context(), w, body, httpsink.DefaultStreamConfig()); err != nil {
			logger.Warn("stream failed", zap.Error(err))
		}
	}

# Pacing

	config := httpsink.DefaultStreamConfig()
	config.Sink.RateBytesPerSec = 512 * 1024
	config.Sink.BurstBytes = 64 * 1024

# Eager mode

With Eager set, Write pulls the next chunk before returning whenever the
limiter has tokens, up to MaxEagerDepth nested pulls. This is the
re-entrant path producers must tolerate.

# Cancellation

Serve stops the producer when ctx is done, which for a server handler is
the request context closing on client disconnect. A failed write stops the
producer at once and Serve returns an *errors.OperationError wrapping the
transport error.
*/
package httpsink
