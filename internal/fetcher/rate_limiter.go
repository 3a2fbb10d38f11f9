package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter ограничивает параллельные запросы к хосту и, при необходимости,
// число запросов в минуту
type HostLimiter struct {
	maxConcurrent  int
	rpm            int
	hostSemaphores map[string]*hostLimiter
	mu             sync.Mutex
	now            func() time.Time
}

type hostLimiter struct {
	sem  chan struct{}
	rate *rate.Limiter
}

// NewHostLimiter создаёт лимитер. rpm <= 0 отключает поминутный лимит
func NewHostLimiter(maxConcurrent, rpm int) *HostLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &HostLimiter{
		maxConcurrent:  maxConcurrent,
		rpm:            rpm,
		hostSemaphores: make(map[string]*hostLimiter),
		now:            time.Now,
	}
}

// Acquire блокируется, пока запрос к host не разрешён. Возвращённый release
// нужно вызвать после завершения запроса
func (rl *HostLimiter) Acquire(ctx context.Context, host string) (func(), error) {
	rl.mu.Lock()
	limiter, exists := rl.hostSemaphores[host]
	if !exists {
		limiter = &hostLimiter{
			sem: make(chan struct{}, rl.maxConcurrent),
		}
		if rl.rpm > 0 {
			limiter.rate = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.rpm)), rl.rpm)
		}
		rl.hostSemaphores[host] = limiter
	}
	rl.mu.Unlock()

	// Семафор на параллельность
	select {
	case limiter.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	release := func() { <-limiter.sem }

	// Поминутный лимит
	if err := rl.throttle(ctx, limiter); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

func (rl *HostLimiter) throttle(ctx context.Context, limiter *hostLimiter) error {
	if limiter.rate == nil {
		return nil
	}

	now := rl.now()
	reservation := limiter.rate.ReserveN(now, 1)
	if !reservation.OK() {
		return fmt.Errorf("rate limit of %d rpm cannot admit a request", rl.rpm)
	}
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		reservation.CancelAt(rl.now())
		return ctx.Err()
	}
}
