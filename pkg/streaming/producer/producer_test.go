package producer_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vnykmshr/bufstream/internal/testutil"
	bserrors "github.com/vnykmshr/bufstream/pkg/common/errors"
	"github.com/vnykmshr/bufstream/pkg/metrics"
	"github.com/vnykmshr/bufstream/pkg/streaming/producer"
)

func pattern(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	return buf
}

func chunkLens(chunks [][]byte) []int {
	lens := make([]int, len(chunks))
	for i, c := range chunks {
		lens[i] = len(c)
	}
	return lens
}

func newProducer(t *testing.T, config producer.Config) *producer.ChunkProducer {
	t.Helper()
	p, err := producer.NewWithConfig(config)
	testutil.AssertNoError(t, err)
	return p
}

// outcomes counts how a producer terminated.
type outcomes struct {
	finishes int
	stops    int
}

func (o *outcomes) config(config producer.Config) producer.Config {
	config.OnFinish = func(int) { o.finishes++ }
	config.OnStop = func(int, int) { o.stops++ }
	return config
}

func TestNew(t *testing.T) {
	p := producer.New()

	testutil.AssertEqual(t, p.ChunkSize(), producer.DefaultChunkSize)
	testutil.AssertEqual(t, p.IsActive(), false)
	testutil.AssertEqual(t, p.Offset(), 0)
}

func TestNewWithConfig(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		want      int
		wantError bool
	}{
		{"default on zero", 0, producer.DefaultChunkSize, false},
		{"custom", 1024, 1024, false},
		{"one byte", 1, 1, false},
		{"negative", -1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := producer.NewWithConfig(producer.Config{ChunkSize: tt.chunkSize})
			if tt.wantError {
				testutil.AssertEqual(t, bserrors.IsValidationError(err), true)
				testutil.AssertEqual(t, errors.Is(err, bserrors.ErrInvalidConfiguration), true)
				return
			}
			testutil.AssertNoError(t, err)
			testutil.AssertEqual(t, p.ChunkSize(), tt.want)
		})
	}
}

func TestStartRegistersPullProducer(t *testing.T) {
	sink := testutil.NewRecordingSink()
	p := producer.New()

	testutil.AssertNoError(t, p.Start(sink, pattern(10)))

	testutil.AssertEqual(t, sink.Producer, producer.PullProducer(p))
	testutil.AssertEqual(t, sink.Streaming, false)
	testutil.AssertEqual(t, p.IsActive(), true)
	testutil.AssertEqual(t, p.Len(), 10)
	testutil.AssertEqual(t, sink.Count("write"), 0)
}

func TestStartTwice(t *testing.T) {
	sink := testutil.NewRecordingSink()
	p := producer.New()
	testutil.AssertNoError(t, p.Start(sink, pattern(10)))

	other := testutil.NewRecordingSink()
	err := p.Start(other, pattern(20))

	testutil.AssertEqual(t, errors.Is(err, bserrors.ErrAlreadyStarted), true)
	testutil.AssertEqual(t, other.Count("register"), 0)
	testutil.AssertEqual(t, p.Len(), 10)
}

func TestStartNilSink(t *testing.T) {
	p := producer.New()
	err := p.Start(nil, pattern(10))

	testutil.AssertEqual(t, bserrors.IsValidationError(err), true)
	testutil.AssertEqual(t, p.IsActive(), false)
}

func TestStartAfterStop(t *testing.T) {
	p := producer.New()
	p.StopProducing()

	err := p.Start(testutil.NewRecordingSink(), pattern(10))
	testutil.AssertEqual(t, errors.Is(err, bserrors.ErrClosed), true)
}

func TestScenarios(t *testing.T) {
	tests := []struct {
		name       string
		length     int
		resumes    int
		wantChunks []int
	}{
		{"empty buffer", 0, 1, []int{}},
		{"exactly one chunk", 65536, 2, []int{65536}},
		{"two chunks", 100000, 3, []int{65536, 34464}},
		{"shorter than a chunk", 10, 2, []int{10}},
		{"exact multiple", 3 * 65536, 4, []int{65536, 65536, 65536}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var o outcomes
			sink := testutil.NewRecordingSink()
			p := newProducer(t, o.config(producer.Config{}))
			buf := pattern(tt.length)
			testutil.AssertNoError(t, p.Start(sink, buf))

			for i := 0; i < tt.resumes; i++ {
				testutil.AssertEqual(t, sink.Count("finish"), 0)
				p.ResumeProducing()
			}

			got := chunkLens(sink.Chunks)
			testutil.AssertEqual(t, len(got), len(tt.wantChunks))
			for i := range got {
				testutil.AssertEqual(t, got[i], tt.wantChunks[i])
			}
			testutil.AssertEqual(t, bytes.Equal(sink.Bytes(), buf), true)
			testutil.AssertEqual(t, sink.Count("unregister"), 1)
			testutil.AssertEqual(t, sink.Count("finish"), 1)
			testutil.AssertEqual(t, sink.Events[len(sink.Events)-2], "unregister")
			testutil.AssertEqual(t, sink.Events[len(sink.Events)-1], "finish")
			testutil.AssertEqual(t, p.IsActive(), false)
			testutil.AssertEqual(t, o.finishes, 1)
			testutil.AssertEqual(t, o.stops, 0)
			testutil.AssertEqual(t, producer.Buffered(p), false)
		})
	}
}

func TestExactMultipleHasNoTrailingEmptyWrite(t *testing.T) {
	sink := testutil.NewRecordingSink()
	p := newProducer(t, producer.Config{ChunkSize: 4})
	testutil.AssertNoError(t, p.Start(sink, pattern(8)))

	p.ResumeProducing()
	p.ResumeProducing()
	testutil.AssertEqual(t, sink.Count("finish"), 0)
	testutil.AssertEqual(t, p.Remaining(), 0)

	p.ResumeProducing()
	testutil.AssertEqual(t, sink.Count("write"), 2)
	testutil.AssertEqual(t, sink.Count("finish"), 1)
}

func TestStopAfterFirstChunk(t *testing.T) {
	var delivered, remaining, stops int
	finished := false

	sink := testutil.NewRecordingSink()
	p := newProducer(t, producer.Config{
		ChunkSize: 4,
		OnStop: func(d, r int) {
			stops++
			delivered, remaining = d, r
		},
		OnFinish: func(int) { finished = true },
	})
	testutil.AssertNoError(t, p.Start(sink, pattern(12)))

	p.ResumeProducing()
	p.StopProducing()
	p.ResumeProducing()
	p.ResumeProducing()
	p.StopProducing()

	testutil.AssertEqual(t, sink.Count("write"), 1)
	testutil.AssertEqual(t, sink.Count("finish"), 0)
	testutil.AssertEqual(t, sink.Count("unregister"), 0)
	testutil.AssertEqual(t, producer.Buffered(p), false)
	testutil.AssertEqual(t, stops, 1)
	testutil.AssertEqual(t, delivered, 4)
	testutil.AssertEqual(t, remaining, 8)
	testutil.AssertEqual(t, finished, false)
	testutil.AssertEqual(t, p.Stats().Canceled, true)
	testutil.AssertEqual(t, p.Offset(), 4)
}

func TestStopBeforeAnyChunk(t *testing.T) {
	var o outcomes
	sink := testutil.NewRecordingSink()
	p := newProducer(t, o.config(producer.Config{}))
	testutil.AssertNoError(t, p.Start(sink, pattern(0)))

	p.StopProducing()
	p.ResumeProducing()
	p.StopProducing()

	testutil.AssertEqual(t, len(sink.Events), 1)
	testutil.AssertEqual(t, o.stops, 1)
	testutil.AssertEqual(t, o.finishes, 0)
	testutil.AssertEqual(t, producer.Buffered(p), false)
}

func TestStopAfterCompletion(t *testing.T) {
	var o outcomes
	sink := testutil.NewRecordingSink()
	p := newProducer(t, o.config(producer.Config{ChunkSize: 8}))
	testutil.AssertNoError(t, p.Start(sink, pattern(5)))
	sink.Pump(10)

	for i := 0; i < 3; i++ {
		p.StopProducing()
	}

	testutil.AssertEqual(t, o.finishes, 1)
	testutil.AssertEqual(t, o.stops, 0)
	testutil.AssertEqual(t, p.Stats().Finished, true)
	testutil.AssertEqual(t, p.Stats().Canceled, false)
}

func TestReentrantWrite(t *testing.T) {
	sink := testutil.NewRecordingSink()
	sink.Reentrant = true

	p := newProducer(t, producer.Config{ChunkSize: 3})
	buf := pattern(10)

	sink.OnWrite = func(chunk []byte) {
		// the offset already covers the chunk being written
		testutil.AssertEqual(t, p.Offset(), len(sink.Bytes()))
	}
	testutil.AssertNoError(t, p.Start(sink, buf))

	p.ResumeProducing()

	testutil.AssertEqual(t, bytes.Equal(sink.Bytes(), buf), true)
	lens := chunkLens(sink.Chunks)
	testutil.AssertEqual(t, len(lens), 4)
	testutil.AssertEqual(t, lens[3], 1)
	testutil.AssertEqual(t, sink.Count("finish"), 1)
	testutil.AssertEqual(t, sink.MaxReentrantDepth(), 4)

	// late callbacks after completion are ignored
	p.ResumeProducing()
	testutil.AssertEqual(t, sink.Count("finish"), 1)
}

func TestStopFromWithinWrite(t *testing.T) {
	sink := testutil.NewRecordingSink()
	sink.Reentrant = true

	var o outcomes
	p := newProducer(t, o.config(producer.Config{ChunkSize: 2}))
	sink.OnWrite = func([]byte) {
		if sink.Count("write") == 2 {
			p.StopProducing()
		}
	}
	testutil.AssertNoError(t, p.Start(sink, pattern(10)))

	p.ResumeProducing()

	testutil.AssertEqual(t, sink.Count("write"), 2)
	testutil.AssertEqual(t, sink.Count("finish"), 0)
	testutil.AssertEqual(t, p.Offset(), 4)
	testutil.AssertEqual(t, o.stops, 1)
	testutil.AssertEqual(t, o.finishes, 0)
}

// finishReentrantSink calls back into the producer while being finished.
type finishReentrantSink struct {
	testutil.RecordingSink
	p *producer.ChunkProducer
}

func (s *finishReentrantSink) UnregisterProducer() {
	s.RecordingSink.UnregisterProducer()
	s.p.ResumeProducing()
}

func (s *finishReentrantSink) Finish() {
	s.RecordingSink.Finish()
	s.p.ResumeProducing()
	s.p.StopProducing()
}

func TestFinishIsSignalledOnce(t *testing.T) {
	var o outcomes
	p := newProducer(t, o.config(producer.Config{}))
	sink := &finishReentrantSink{p: p}
	testutil.AssertNoError(t, p.Start(sink, pattern(3)))

	p.ResumeProducing()
	p.ResumeProducing()
	p.ResumeProducing()

	testutil.AssertEqual(t, sink.Count("unregister"), 1)
	testutil.AssertEqual(t, sink.Count("finish"), 1)
	testutil.AssertEqual(t, o.finishes, 1)
	testutil.AssertEqual(t, o.stops, 0)
}

func TestFinishCallbackFollowsSink(t *testing.T) {
	sink := testutil.NewRecordingSink()
	p := newProducer(t, producer.Config{
		ChunkSize: 4,
		OnFinish: func(int) {
			sink.Events = append(sink.Events, "on_finish")
		},
	})
	testutil.AssertNoError(t, p.Start(sink, pattern(4)))
	sink.Pump(10)

	n := len(sink.Events)
	testutil.AssertEqual(t, sink.Events[n-3], "unregister")
	testutil.AssertEqual(t, sink.Events[n-2], "finish")
	testutil.AssertEqual(t, sink.Events[n-1], "on_finish")
}

func TestStopAfterLastChunkReportsNothingRemaining(t *testing.T) {
	remaining := -1
	sink := testutil.NewRecordingSink()
	p := newProducer(t, producer.Config{
		ChunkSize: 4,
		OnStop:    func(_, r int) { remaining = r },
	})
	testutil.AssertNoError(t, p.Start(sink, pattern(8)))

	p.ResumeProducing()
	p.ResumeProducing()
	p.StopProducing()

	testutil.AssertEqual(t, remaining, 0)
	testutil.AssertEqual(t, sink.Count("finish"), 0)
	testutil.AssertEqual(t, p.Stats().Canceled, true)
}

func TestChunksAreViews(t *testing.T) {
	var seen []byte
	buf := pattern(8)

	sink := testutil.NewRecordingSink()
	sink.OnWrite = func(chunk []byte) {
		seen = chunk
	}
	p := newProducer(t, producer.Config{ChunkSize: 4})
	testutil.AssertNoError(t, p.Start(sink, buf))
	p.ResumeProducing()

	testutil.AssertEqual(t, &seen[0], &buf[0])
	testutil.AssertEqual(t, cap(seen), 4)
}

func TestCallbacksAndStats(t *testing.T) {
	var chunks []int
	total := -1

	sink := testutil.NewRecordingSink()
	p := newProducer(t, producer.Config{
		ChunkSize: 4,
		OnChunk:   func(n int) { chunks = append(chunks, n) },
		OnFinish:  func(n int) { total = n },
	})
	testutil.AssertNoError(t, p.Start(sink, pattern(10)))

	p.ResumeProducing()
	stats := p.Stats()
	testutil.AssertEqual(t, stats, producer.Stats{Length: 10, Offset: 4, Chunks: 1, Active: true})

	sink.Pump(10)

	testutil.AssertEqual(t, len(chunks), 3)
	testutil.AssertEqual(t, chunks[2], 2)
	testutil.AssertEqual(t, total, 10)
	testutil.AssertEqual(t, p.Stats(), producer.Stats{Length: 10, Offset: 10, Chunks: 3, Finished: true})
}

func TestMetrics(t *testing.T) {
	registry := metrics.NewRegistry(prometheus.NewRegistry())

	finished := newProducer(t, producer.Config{ChunkSize: 4, Name: "assets", Metrics: registry})
	sink := testutil.NewRecordingSink()
	testutil.AssertNoError(t, finished.Start(sink, pattern(10)))
	sink.Pump(10)

	canceled := newProducer(t, producer.Config{ChunkSize: 4, Name: "assets", Metrics: registry})
	testutil.AssertNoError(t, canceled.Start(testutil.NewRecordingSink(), pattern(10)))
	canceled.ResumeProducing()
	canceled.StopProducing()
	canceled.StopProducing()

	testutil.AssertEqual(t, promtest.ToFloat64(registry.ProducersStarted.WithLabelValues("assets")), 2.0)
	testutil.AssertEqual(t, promtest.ToFloat64(registry.ProducersActive.WithLabelValues("assets")), 0.0)
	testutil.AssertEqual(t, promtest.ToFloat64(registry.ProducersFinished.WithLabelValues("assets")), 1.0)
	testutil.AssertEqual(t, promtest.ToFloat64(registry.ProducersCanceled.WithLabelValues("assets")), 1.0)
	testutil.AssertEqual(t, promtest.ToFloat64(registry.ChunksWritten.WithLabelValues("assets")), 4.0)
	testutil.AssertEqual(t, promtest.ToFloat64(registry.BytesWritten.WithLabelValues("assets")), 14.0)
}
