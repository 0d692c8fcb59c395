package producer

import (
	"go.uber.org/zap"

	bserrors "github.com/vnykmshr/bufstream/pkg/common/errors"
	"github.com/vnykmshr/bufstream/pkg/common/validation"
	"github.com/vnykmshr/bufstream/pkg/metrics"
)

// DefaultChunkSize is the chunk size used when Config.ChunkSize is zero.
const DefaultChunkSize = 64 * 1024

// PullProducer is a data source that only supplies data when its consumer
// asks for it.
type PullProducer interface {
	// ResumeProducing asks the producer for the next chunk, or to finish.
	ResumeProducing()

	// StopProducing tells the producer to abandon delivery and release
	// its resources.
	StopProducing()
}

// Sink is the flow-controlled consumer a ChunkProducer delivers to.
// Write may synchronously call ResumeProducing on the registered producer
// before it returns.
type Sink interface {
	RegisterProducer(p PullProducer, streaming bool)
	UnregisterProducer()
	Write(chunk []byte)
	Finish()
}

// Config holds configuration options for ChunkProducer.
type Config struct {
	// ChunkSize is the maximum number of bytes handed to the sink per Write.
	// Default: 64KB
	ChunkSize int

	// Name labels log lines and metrics.
	Name string

	// Logger receives lifecycle events at debug level. Nil disables logging.
	Logger *zap.Logger

	// Metrics receives producer metrics. Nil disables metrics.
	Metrics *metrics.Registry

	// OnChunk is called with the size of each chunk before it is written.
	OnChunk func(n int)

	// OnFinish is called once when the whole buffer has been delivered,
	// after the sink's Finish returns.
	OnFinish func(total int)

	// OnStop is called once when streaming is abandoned before completion.
	// remaining is 0 when the stop arrives after the last chunk was written
	// but before the resume that would have finished the stream.
	OnStop func(delivered, remaining int)
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize: DefaultChunkSize,
		Name:      "default",
	}
}

// Stats is a snapshot of a producer's progress.
type Stats struct {
	Length   int
	Offset   int
	Chunks   int
	Active   bool
	Finished bool
	Canceled bool
}

// ChunkProducer streams an in-memory buffer to a Sink in fixed-size chunks,
// one chunk per ResumeProducing call.
//
// A ChunkProducer is driven entirely by its sink's scheduler and is not safe
// for concurrent use. Re-entrant calls from within Sink.Write are supported:
// all state is updated before the sink is called.
type ChunkProducer struct {
	config Config
	logger *zap.Logger

	buf    []byte
	sink   Sink
	offset int
	length int
	chunks int

	started  bool
	active   bool
	released bool
	finished bool
	canceled bool
}

// New creates a ChunkProducer with default configuration.
func New() *ChunkProducer {
	p, _ := NewWithConfig(DefaultConfig())
	return p
}

// NewWithConfig creates a ChunkProducer with the specified configuration.
func NewWithConfig(config Config) (*ChunkProducer, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if err := validation.ValidatePositive("producer", "chunk_size", config.ChunkSize); err != nil {
		return nil, err
	}
	if config.Name == "" {
		config.Name = DefaultConfig().Name
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ChunkProducer{
		config: config,
		logger: logger.With(zap.String("producer", config.Name)),
	}, nil
}

// Start takes ownership of buf and registers the producer with sink as a
// pull producer. The caller must not modify buf afterwards.
//
// Start may only be called once; later calls return ErrAlreadyStarted and
// have no effect.
func (p *ChunkProducer) Start(sink Sink, buf []byte) error {
	if p.started {
		return bserrors.ErrAlreadyStarted
	}
	if p.released {
		return bserrors.ErrClosed
	}
	if err := validation.ValidateNotNil("producer", "sink", sink); err != nil {
		return err
	}

	p.started = true
	p.active = true
	p.sink = sink
	p.buf = buf
	p.length = len(buf)

	if m := p.config.Metrics; m != nil {
		m.ProducersStarted.WithLabelValues(p.config.Name).Inc()
		m.ProducersActive.WithLabelValues(p.config.Name).Inc()
	}
	p.logger.Debug("producer started",
		zap.Int("length", p.length),
		zap.Int("chunk_size", p.config.ChunkSize))

	sink.RegisterProducer(p, false)
	return nil
}

// ResumeProducing hands the next chunk to the sink, or unregisters and
// finishes once the buffer is exhausted. It is a no-op once stopped.
func (p *ChunkProducer) ResumeProducing() {
	if !p.active {
		return
	}

	offset := p.offset
	sink := p.sink

	if offset >= len(p.buf) {
		// Released before the sink is told, so re-entrant calls from
		// UnregisterProducer or Finish fall into the guard above.
		p.finished = true
		p.release()

		sink.UnregisterProducer()
		sink.Finish()
		p.reportFinished()
		return
	}

	end := len(p.buf)
	if end-offset > p.config.ChunkSize {
		end = offset + p.config.ChunkSize
	}
	chunk := p.buf[offset:end:end]

	p.offset = end
	p.chunks++

	n := len(chunk)
	if m := p.config.Metrics; m != nil {
		m.ChunksWritten.WithLabelValues(p.config.Name).Inc()
		m.BytesWritten.WithLabelValues(p.config.Name).Add(float64(n))
	}
	if p.config.OnChunk != nil {
		p.config.OnChunk(n)
	}

	// Write may call back into ResumeProducing before returning.
	sink.Write(chunk)
}

// StopProducing abandons delivery and releases the buffer. It is idempotent
// and safe to call at any point, including after natural completion.
func (p *ChunkProducer) StopProducing() {
	if !p.started {
		p.released = true
		return
	}
	if !p.release() {
		return
	}

	p.canceled = true
	if m := p.config.Metrics; m != nil {
		m.ProducersCanceled.WithLabelValues(p.config.Name).Inc()
	}
	p.logger.Debug("producer stopped",
		zap.Int("length", p.length),
		zap.Int("offset", p.offset))
	if p.config.OnStop != nil {
		p.config.OnStop(p.offset, p.length-p.offset)
	}
}

// release drops the buffer and sink and reports whether this call did so.
func (p *ChunkProducer) release() bool {
	if p.released {
		return false
	}
	p.released = true
	p.active = false
	p.buf = nil
	p.sink = nil

	if m := p.config.Metrics; m != nil {
		m.ProducersActive.WithLabelValues(p.config.Name).Dec()
	}
	return true
}

func (p *ChunkProducer) reportFinished() {
	if m := p.config.Metrics; m != nil {
		m.ProducersFinished.WithLabelValues(p.config.Name).Inc()
	}
	p.logger.Debug("producer finished",
		zap.Int("length", p.length),
		zap.Int("chunks", p.chunks))
	if p.config.OnFinish != nil {
		p.config.OnFinish(p.offset)
	}
}

// Offset returns the number of bytes already handed to the sink.
func (p *ChunkProducer) Offset() int { return p.offset }

// Len returns the length of the buffer passed to Start.
func (p *ChunkProducer) Len() int { return p.length }

// Remaining returns the number of bytes not yet handed to the sink.
func (p *ChunkProducer) Remaining() int { return p.length - p.offset }

// ChunkSize returns the configured chunk size.
func (p *ChunkProducer) ChunkSize() int { return p.config.ChunkSize }

// IsActive reports whether the producer still accepts ResumeProducing calls.
func (p *ChunkProducer) IsActive() bool { return p.active }

// Stats returns a snapshot of the producer's progress.
func (p *ChunkProducer) Stats() Stats {
	return Stats{
		Length:   p.length,
		Offset:   p.offset,
		Chunks:   p.chunks,
		Active:   p.active,
		Finished: p.finished,
		Canceled: p.canceled,
	}
}
