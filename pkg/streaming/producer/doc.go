/*
Package producer streams a fully materialized byte buffer to a
flow-controlled sink, one chunk per pull.

A ChunkProducer owns its buffer from Start until it stops. The sink's
scheduler calls ResumeProducing whenever the transport can take more data;
each call hands exactly one chunk of at most ChunkSize bytes to Sink.Write.
Once the buffer is exhausted the next ResumeProducing unregisters the
producer and calls Sink.Finish exactly once.

# Quick Start

	p := producer.New()
	if err := p.Start(sink, body); err != nil {
		return err
	}
	// sink now calls p.ResumeProducing() at its own pace

# Configuration

	p, err := producer.NewWithConfig(producer.Config{
		ChunkSize: 16 * 1024,
		Name:      "downloads",
		Logger:    logger,
		Metrics:   metrics.DefaultRegistry,
		OnFinish: func(total int) {
			logger.Info("delivered", zap.Int("bytes", total))
		},
	})

# Re-entrancy

Sink.Write may drive the transport and call ResumeProducing again before
returning. The producer advances its offset before every Write, so a nested
call always sees the next chunk boundary and no byte is sent twice.

# Cancellation

StopProducing may be called at any time, any number of times. The unsent
tail is dropped, the buffer reference is released once and OnStop reports
how far delivery got. Calls that arrive after the producer stopped are
ignored.

Chunks are sub-slices of the buffer, not copies. A sink that keeps a chunk
past Write must copy it.
*/
package producer
