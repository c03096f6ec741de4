package rate

import (
	"context"
	"errors"

	"go.uber.org/ratelimit"
)

var ErrStopped = errors.New("rate limiter stopped")

// Jitter hands out at most limit tokens per second with a small buffered burst (10% of limit).
// The provider goroutine exits and closes the channel when ctx is done.
type Jitter struct {
	ch    chan struct{}
	l     ratelimit.Limiter
	limit int
}

func NewJitter(ctx context.Context, limit int) *Jitter {
	if limit < 1 {
		limit = 1
	}
	brst := int(float64(limit) * 0.1)
	if brst < 1 {
		brst = 1
	}
	jitter := &Jitter{
		limit: limit,
		ch:    make(chan struct{}, brst),
		l:     ratelimit.New(limit),
	}
	go jitter.provider(ctx)
	return jitter
}

func (l *Jitter) provider(ctx context.Context) {
	defer close(l.ch)
	for {
		l.l.Take()
		select {
		case <-ctx.Done():
			return
		case l.ch <- struct{}{}:
		}
	}
}

// Wait blocks until a token is available or ctx is done.
func (l *Jitter) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case _, ok := <-l.ch:
		if !ok {
			return ErrStopped
		}
		return nil
	}
}

func (l *Jitter) Chan() <-chan struct{} {
	return l.ch
}

func (l *Jitter) Limit() int { return l.limit }
