package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dj-oyu/traffic-sign-alert/internal/source"
	"github.com/dj-oyu/traffic-sign-alert/pkg/types"
)

func rgbFrame(index uint64) types.Frame {
	f := types.FrameFromRGB(make([]byte, 16*12*3), 16, 12)
	f.Index = index
	return f
}

// scriptSource yields the given frames, then either ends or blocks until closed
type scriptSource struct {
	kind   types.SourceKind
	frames []types.Frame
	block  bool

	mu     sync.Mutex
	pos    int
	closes atomic.Int32
	closed chan struct{}
	once   sync.Once
}

func newScriptSource(kind types.SourceKind, n int) *scriptSource {
	s := &scriptSource{kind: kind, closed: make(chan struct{})}
	for i := 1; i <= n; i++ {
		s.frames = append(s.frames, rgbFrame(uint64(i)))
	}
	return s
}

func (s *scriptSource) Next(ctx context.Context) (types.Frame, error) {
	s.mu.Lock()
	if s.pos < len(s.frames) {
		f := s.frames[s.pos]
		s.pos++
		s.mu.Unlock()
		return f, nil
	}
	s.mu.Unlock()

	if !s.block {
		return types.Frame{}, source.ErrSourceExhausted
	}
	select {
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()
	case <-s.closed:
		return types.Frame{}, source.ErrSourceExhausted
	}
}

func (s *scriptSource) Kind() types.SourceKind { return s.kind }

func (s *scriptSource) Close() error {
	s.closes.Add(1)
	s.once.Do(func() { close(s.closed) })
	return nil
}

type recordingPresenter struct {
	mu      sync.Mutex
	updates []Update
	idles   int
}

func (p *recordingPresenter) Publish(u Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
}

func (p *recordingPresenter) Idle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idles++
}

func (p *recordingPresenter) snapshot() ([]Update, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Update(nil), p.updates...), p.idles
}

type recordingSpeaker struct {
	mu   sync.Mutex
	said []string
}

func (s *recordingSpeaker) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.said = append(s.said, text)
	return nil
}

func (s *recordingSpeaker) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.said...)
}
