package playback

import (
	"errors"
	"slices"
	"sync"
	"testing"
)

func newTestPipeline(opts ...Option) *Pipeline {
	return New(append([]Option{WithOutputSampleRate(16000)}, opts...)...)
}

func pull(p *Pipeline, n int) []float32 {
	out := make([]float32, n)
	p.Pull(out)
	return out
}

func TestPullReturnsConcatenationOfPushedChunks(t *testing.T) {
	p := newTestPipeline()
	c1 := []float32{0.1, 0.2, 0.3}
	c2 := []float32{-0.1, -0.2}

	p.Push(c1, 16000)
	p.Push(c2, 16000)

	got := pull(p, len(c1)+len(c2))
	expected := append(slices.Clone(c1), c2...)
	if !slices.Equal(got, expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}

func TestPullPadsWithSilenceOnceExhausted(t *testing.T) {
	p := newTestPipeline()
	p.Push([]float32{0.5, 0.5}, 16000)

	out := make([]float32, 5)
	for i := range out {
		out[i] = 9
	}
	if n := p.Pull(out); n != 2 {
		t.Fatalf("expected 2 samples from queue, got %d", n)
	}
	expected := []float32{0.5, 0.5, 0, 0, 0}
	if !slices.Equal(out, expected) {
		t.Fatalf("expected %v, got %v", expected, out)
	}
}

func TestPullAcrossChunkBoundariesKeepsOrder(t *testing.T) {
	p := newTestPipeline()
	var expected []float32
	for chunk := range 5 {
		samples := []float32{float32(chunk) + 0.1, float32(chunk) + 0.2, float32(chunk) + 0.3}
		expected = append(expected, samples...)
		p.Push(samples, 16000)
	}

	var got []float32
	for range 8 {
		got = append(got, pull(p, 2)...)
	}

	expected = append(expected, 0)
	if !slices.Equal(got, expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}

func TestClearDiscardsPendingSamples(t *testing.T) {
	p := newTestPipeline()
	p.Push([]float32{0.1, 0.2, 0.3, 0.4}, 16000)
	_ = pull(p, 1)

	p.Clear()

	for _, sample := range pull(p, 4) {
		if sample != 0 {
			t.Fatalf("expected silence after clear, got %v", sample)
		}
	}
	if p.Active() {
		t.Fatalf("expected pipeline to be inactive after clear")
	}

	p.Push([]float32{0.7}, 16000)
	if got := pull(p, 2); !slices.Equal(got, []float32{0.7, 0}) {
		t.Fatalf("expected new audio after clear to play from the start, got %v", got)
	}
}

func TestActiveFollowsStreamLifecycle(t *testing.T) {
	p := newTestPipeline()
	if p.Active() {
		t.Fatalf("expected new pipeline to be inactive")
	}

	p.Push([]float32{0.1, 0.2}, 16000)
	_ = pull(p, 2)
	if !p.Active() {
		t.Fatalf("expected pipeline to stay active while the stream is open")
	}

	p.EndStream()
	if p.Active() {
		t.Fatalf("expected drained pipeline with ended stream to be inactive")
	}

	p.Push([]float32{0.1}, 16000)
	p.EndStream()
	if !p.Active() {
		t.Fatalf("expected queued audio to keep the pipeline active")
	}
}

func TestPushResamplesToOutputRate(t *testing.T) {
	p := newTestPipeline(WithOutputSampleRate(32000))
	p.Push([]float32{0, 1}, 16000)

	if got := p.Buffered(); got != 4 {
		t.Fatalf("expected 4 resampled samples, got %d", got)
	}
	expected := []float32{0, 0.5, 1, 1}
	if got := pull(p, 4); !slices.Equal(got, expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}

type fakeSink struct {
	mu      sync.Mutex
	source  Source
	started int
	stopped int
}

func (s *fakeSink) Start(source Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = source
	s.started++
	return nil
}

func (s *fakeSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

func TestSinkIsOpenedLazilyAndRetried(t *testing.T) {
	sink := &fakeSink{}
	attempts := 0
	p := newTestPipeline(WithSink(func() (Sink, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("device busy")
		}
		return sink, nil
	}))

	if attempts != 0 {
		t.Fatalf("expected sink not to be opened before first use, got %d attempts", attempts)
	}

	p.Push([]float32{0.1}, 16000)
	if got := p.Buffered(); got != 0 {
		t.Fatalf("expected chunk to be dropped while sink is unavailable, got %d buffered", got)
	}

	p.Push([]float32{0.2}, 16000)
	if attempts != 2 {
		t.Fatalf("expected sink open to be retried, got %d attempts", attempts)
	}
	if got := p.Buffered(); got != 1 {
		t.Fatalf("expected chunk to be queued once sink is open, got %d buffered", got)
	}
	if sink.source != p {
		t.Fatalf("expected sink to pull from the pipeline")
	}

	p.Push([]float32{0.3}, 16000)
	if attempts != 2 || sink.started != 1 {
		t.Fatalf("expected sink to be opened once, got %d attempts and %d starts", attempts, sink.started)
	}
}

func TestCloseStopsSinkOnce(t *testing.T) {
	sink := &fakeSink{}
	p := newTestPipeline(WithSink(func() (Sink, error) { return sink, nil }))
	p.Warm()
	p.Push([]float32{0.1}, 16000)

	if err := p.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("unexpected second close error: %v", err)
	}
	if sink.stopped != 1 {
		t.Fatalf("expected sink to be stopped once, got %d", sink.stopped)
	}
	if p.Buffered() != 0 {
		t.Fatalf("expected queue to be cleared on close")
	}

	p.Push([]float32{0.1}, 16000)
	if p.Buffered() != 0 {
		t.Fatalf("expected closed pipeline to drop pushed audio")
	}
}
