package conversation_test

import (
	"context"
	"io"
	"sync"

	"github.com/zhouzirui/novachat/backend/internal/model/tier"
	"github.com/zhouzirui/novachat/backend/internal/service/ai"
)

// script describes what one OpenStream call produces.
type script struct {
	fragments []string
	openErr   error
	failErr   error
	// gate, when set, is received from before every Recv.
	gate chan struct{}
	// onRecv, when set, runs at the start of every Recv.
	onRecv func()
}

type openCall struct {
	Message string
	Tier    tier.Tier
}

// fakeStreamer replays scripts in order; the last script repeats.
type fakeStreamer struct {
	mu      sync.Mutex
	scripts []script
	calls   []openCall
	opened  chan struct{}
}

func newFakeStreamer(scripts ...script) *fakeStreamer {
	return &fakeStreamer{scripts: scripts, opened: make(chan struct{}, 16)}
}

func (f *fakeStreamer) OpenStream(_ context.Context, message string, t tier.Tier) (ai.Stream, error) {
	f.mu.Lock()
	f.calls = append(f.calls, openCall{Message: message, Tier: t})
	sc := f.scripts[0]
	if len(f.scripts) > 1 {
		f.scripts = f.scripts[1:]
	}
	f.mu.Unlock()

	f.opened <- struct{}{}
	if sc.openErr != nil {
		return nil, sc.openErr
	}
	return &fakeStream{script: sc}, nil
}

func (f *fakeStreamer) Calls() []openCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]openCall(nil), f.calls...)
}

type fakeStream struct {
	script script
	pos    int
	closed bool
}

func (s *fakeStream) Recv() (string, error) {
	if s.script.onRecv != nil {
		s.script.onRecv()
	}
	if s.script.gate != nil {
		<-s.script.gate
	}
	if s.pos < len(s.script.fragments) {
		s.pos++
		return s.script.fragments[s.pos-1], nil
	}
	if s.script.failErr != nil {
		return "", s.script.failErr
	}
	return "", io.EOF
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}
