package httpsink

import (
	"context"
	"net/http"
	"strconv"

	"github.com/vnykmshr/bufstream/pkg/streaming/producer"
)

// StreamConfig configures both ends of a Stream call.
type StreamConfig struct {
	Producer producer.Config
	Sink     Config
}

// DefaultStreamConfig returns the default producer and sink configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Producer: producer.DefaultConfig(),
		Sink:     DefaultConfig(),
	}
}

// Stream writes buf to w through a ChunkProducer, pulling one chunk at a
// time on the calling goroutine. Content-Length is set unless the caller
// already set it. Stream returns when the body is delivered, the client
// write fails, or ctx is done.
func Stream(ctx context.Context, w http.ResponseWriter, buf []byte, config StreamConfig) error {
	sink, err := NewWithConfig(w, config.Sink)
	if err != nil {
		return err
	}
	p, err := producer.NewWithConfig(config.Producer)
	if err != nil {
		return err
	}

	if w.Header().Get("Content-Length") == "" {
		w.Header().Set("Content-Length", strconv.Itoa(len(buf)))
	}

	if err := p.Start(sink, buf); err != nil {
		return err
	}
	return sink.Serve(ctx)
}
