package gdaldriver

import (
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/pkg/errors"
)

var errReaderClosed = errors.New("reader closed")

// handlePool keeps up to size idle handle sets. Sets released after close
// are closed instead of pooled.
type handlePool struct {
	open      func() ([]*godal.Dataset, error)
	closeFunc func([]*godal.Dataset)

	mu     sync.Mutex
	idle   [][]*godal.Dataset
	size   int
	closed bool
}

func newHandlePool(size int, open func() ([]*godal.Dataset, error), closeFunc func([]*godal.Dataset)) *handlePool {
	return &handlePool{open: open, closeFunc: closeFunc, size: size}
}

func (p *handlePool) acquire() ([]*godal.Dataset, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errReaderClosed
	}
	if n := len(p.idle); n > 0 {
		h := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return h, nil
	}
	p.mu.Unlock()
	return p.open()
}

func (p *handlePool) release(h []*godal.Dataset) {
	p.mu.Lock()
	if !p.closed && len(p.idle) < p.size {
		p.idle = append(p.idle, h)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.closeFunc(h)
}

func (p *handlePool) close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()

	for _, h := range idle {
		p.closeFunc(h)
	}
}
