package throttle

import (
	"context"
	"sync"
	"time"
)

// HostThrottle 按上游主机限流：同一主机同时只放行一个请求，
// 且相邻两次请求的启动间隔不小于 minInterval。
// 不同主机之间互不影响，保证跨主机并行度。
type HostThrottle struct {
	mu          sync.Mutex
	minInterval time.Duration
	hosts       map[string]*hostGate
}

type hostGate struct {
	slot      chan struct{} // 容量 1，同一主机串行
	mu        sync.Mutex
	lastStart time.Time
}

func NewHostThrottle(minInterval time.Duration) *HostThrottle {
	return &HostThrottle{
		minInterval: minInterval,
		hosts:       make(map[string]*hostGate),
	}
}

// Acquire 阻塞到该主机可以发起下一个请求，或 ctx 取消。
// 成功后必须调用 Release(host)。
func (t *HostThrottle) Acquire(ctx context.Context, host string) error {
	g := t.gate(host)

	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	g.mu.Lock()
	wait := t.minInterval - time.Since(g.lastStart)
	g.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			<-g.slot
			return ctx.Err()
		}
	}

	g.mu.Lock()
	g.lastStart = time.Now()
	g.mu.Unlock()
	return nil
}

func (t *HostThrottle) Release(host string) {
	g := t.gate(host)
	select {
	case <-g.slot:
	default:
		// Release 多调了一次，忽略
	}
}

func (t *HostThrottle) gate(host string) *hostGate {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.hosts[host]
	if !ok {
		g = &hostGate{slot: make(chan struct{}, 1)}
		t.hosts[host] = g
	}
	return g
}
