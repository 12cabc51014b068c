package utils

import (
	"sync"
)

// ConcLimiter bounds the number of goroutines running at once and lets
// the caller wait for all of them.
type ConcLimiter struct {
	*sync.WaitGroup
	Pool chan struct{}
}

func (c *ConcLimiter) Increase() {
	c.Add(1)
	c.Pool <- struct{}{}
}

// TryIncrease acquires a slot without blocking.
func (c *ConcLimiter) TryIncrease() bool {
	select {
	case c.Pool <- struct{}{}:
		c.Add(1)
		return true
	default:
		return false
	}
}

func (c *ConcLimiter) Decrease() {
	select {
	case <-c.Pool:
		c.Done()
	default:
	}
}

func NewConcLimiter(cLevel int) *ConcLimiter {
	if cLevel < 1 {
		cLevel = 1
	}
	var wg sync.WaitGroup
	return &ConcLimiter{&wg, make(chan struct{}, cLevel)}
}
