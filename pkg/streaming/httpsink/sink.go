package httpsink

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	bserrors "github.com/vnykmshr/bufstream/pkg/common/errors"
	"github.com/vnykmshr/bufstream/pkg/common/validation"
	"github.com/vnykmshr/bufstream/pkg/metrics"
	"github.com/vnykmshr/bufstream/pkg/streaming/producer"
)

// DefaultMaxEagerDepth bounds how deeply Write re-enters the producer in eager mode.
const DefaultMaxEagerDepth = 8

// Config holds configuration options for ResponseSink.
type Config struct {
	// Name labels log lines and metrics.
	Name string

	// RateBytesPerSec caps the delivery rate. Zero disables pacing.
	RateBytesPerSec int

	// BurstBytes is the limiter bucket size.
	// Default: producer.DefaultChunkSize
	BurstBytes int

	// Eager makes Write pull the next chunk immediately when the transport
	// accepted the previous one, instead of returning to Serve.
	Eager bool

	// MaxEagerDepth bounds eager re-entrant pulls.
	// Default: 8
	MaxEagerDepth int

	// Logger receives transport failures. Nil disables logging.
	Logger *zap.Logger

	// Metrics receives sink metrics. Nil disables metrics.
	Metrics *metrics.Registry
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Name:          "http",
		BurstBytes:    producer.DefaultChunkSize,
		MaxEagerDepth: DefaultMaxEagerDepth,
	}
}

// Stats holds statistics about a sink's deliveries.
type Stats struct {
	// BytesWritten is the number of bytes accepted by the response writer.
	BytesWritten int64

	// Writes is the number of Write calls that reached the response writer.
	Writes int

	// WriteErrors is the number of failed transport writes.
	WriteErrors int

	// EagerResumes is the number of pulls issued from inside Write.
	EagerResumes int

	// PacingWait is the total time spent waiting on the rate limiter.
	PacingWait time.Duration

	// Finished is true once the producer signalled completion.
	Finished bool
}

// ResponseSink adapts an http.ResponseWriter to the producer.Sink contract
// and drives the registered pull producer from Serve.
//
// A ResponseSink and its producer run on the goroutine that calls Serve.
type ResponseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	config  Config
	logger  *zap.Logger
	limiter *rate.Limiter

	producer producer.PullProducer
	finished bool
	err      error
	pending  int
	depth    int
	stats    Stats
}

// New creates a ResponseSink with default configuration.
func New(w http.ResponseWriter) *ResponseSink {
	s, _ := NewWithConfig(w, DefaultConfig())
	return s
}

// NewWithConfig creates a ResponseSink with the specified configuration.
func NewWithConfig(w http.ResponseWriter, config Config) (*ResponseSink, error) {
	if err := validation.ValidateNotNil("httpsink", "response_writer", w); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("httpsink", "rate_bytes_per_sec", config.RateBytesPerSec); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("httpsink", "burst_bytes", config.BurstBytes); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("httpsink", "max_eager_depth", config.MaxEagerDepth); err != nil {
		return nil, err
	}

	if config.Name == "" {
		config.Name = DefaultConfig().Name
	}
	if config.BurstBytes == 0 {
		config.BurstBytes = DefaultConfig().BurstBytes
	}
	if config.MaxEagerDepth == 0 {
		config.MaxEagerDepth = DefaultMaxEagerDepth
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &ResponseSink{
		w:      w,
		config: config,
		logger: logger.With(zap.String("sink", config.Name)),
	}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	if config.RateBytesPerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(config.RateBytesPerSec), config.BurstBytes)
	}
	return s, nil
}

// RegisterProducer implements producer.Sink. Only pull producers are
// supported; a streaming producer, or a second producer while one is
// registered, is stopped immediately.
func (s *ResponseSink) RegisterProducer(p producer.PullProducer, streaming bool) {
	if streaming {
		s.logger.Warn("push producers are not supported")
		p.StopProducing()
		return
	}
	if s.producer != nil && s.producer != p {
		s.logger.Warn("producer already registered")
		p.StopProducing()
		return
	}
	s.producer = p
}

// UnregisterProducer implements producer.Sink.
func (s *ResponseSink) UnregisterProducer() {
	s.producer = nil
}

// Write implements producer.Sink. A transport failure stops the producer;
// Serve reports the error.
func (s *ResponseSink) Write(chunk []byte) {
	if s.err != nil || s.finished {
		return
	}

	n, err := s.w.Write(chunk)
	s.stats.Writes++
	s.stats.BytesWritten += int64(n)
	s.pending += n

	if err != nil {
		s.err = err
		s.stats.WriteErrors++
		if m := s.config.Metrics; m != nil {
			m.SinkWriteErrors.WithLabelValues(s.config.Name).Inc()
		}
		s.logger.Warn("response write failed",
			zap.Error(err),
			zap.Int64("bytes_written", s.stats.BytesWritten))
		if p := s.producer; p != nil {
			p.StopProducing()
		}
		return
	}

	if s.flusher != nil {
		s.flusher.Flush()
	}

	if s.config.Eager {
		s.pullEagerly()
	}
}

// pullEagerly re-enters the producer while depth and the rate limiter allow.
func (s *ResponseSink) pullEagerly() {
	p := s.producer
	if p == nil || s.depth >= s.config.MaxEagerDepth {
		return
	}
	if s.limiter != nil {
		if s.pending > s.config.BurstBytes || !s.limiter.AllowN(time.Now(), s.pending) {
			return
		}
		s.pending = 0
	}

	s.depth++
	s.stats.EagerResumes++
	p.ResumeProducing()
	s.depth--
}

// Finish implements producer.Sink.
func (s *ResponseSink) Finish() {
	if s.finished {
		return
	}
	s.finished = true
	s.stats.Finished = true
}

// Serve pulls chunks from the registered producer until it finishes, the
// transport fails, or ctx is done. On cancellation the producer is stopped
// and ctx.Err() is returned. A pacing wait that would overrun ctx's deadline
// stops the producer and returns an error wrapping errors.ErrRateLimited.
func (s *ResponseSink) Serve(ctx context.Context) error {
	for {
		if s.err != nil {
			return bserrors.NewOperationError("httpsink", "Write", s.err).
				WithContext("after " + strconv.FormatInt(s.stats.BytesWritten, 10) + " bytes")
		}
		if s.finished {
			return nil
		}

		p := s.producer
		if p == nil {
			return bserrors.NewOperationError("httpsink", "Serve", bserrors.ErrClosed).
				WithContext("no producer registered")
		}

		if err := ctx.Err(); err != nil {
			s.abort(p, err)
			return err
		}
		if err := s.pace(ctx); err != nil {
			s.abort(p, err)
			return err
		}

		p.ResumeProducing()
	}
}

func (s *ResponseSink) abort(p producer.PullProducer, cause error) {
	s.logger.Debug("stream aborted",
		zap.Error(cause),
		zap.Int64("bytes_written", s.stats.BytesWritten))
	s.producer = nil
	p.StopProducing()
}

// pace blocks until the limiter has admitted every byte written since the
// last call. If the wait cannot finish before ctx's deadline it fails at
// once with an error wrapping errors.ErrRateLimited.
func (s *ResponseSink) pace(ctx context.Context) error {
	if s.limiter == nil || s.pending == 0 {
		s.pending = 0
		return nil
	}

	start := time.Now()
	for s.pending > 0 {
		n := s.pending
		if n > s.config.BurstBytes {
			n = s.config.BurstBytes
		}
		if err := s.limiter.WaitN(ctx, n); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("pacing: %w", ctxErr)
			}
			// the wait would outlive ctx's deadline
			return fmt.Errorf("pacing: %w: %w", bserrors.ErrRateLimited, err)
		}
		s.pending -= n
	}

	waited := time.Since(start)
	s.stats.PacingWait += waited
	if m := s.config.Metrics; m != nil {
		m.SinkPacingWait.WithLabelValues(s.config.Name).Observe(waited.Seconds())
	}
	return nil
}

// Err returns the transport error that ended the stream, if any.
func (s *ResponseSink) Err() error {
	return s.err
}

// Stats returns delivery statistics.
func (s *ResponseSink) Stats() Stats {
	return s.stats
}

var _ producer.Sink = (*ResponseSink)(nil)
