package app

import (
	"errors"
	"sync"

	"github.com/dkeye/SupportChat/internal/core"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) Frames() []core.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Frame, len(f.frames))
	copy(out, f.frames)
	return out
}
