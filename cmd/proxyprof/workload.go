package main

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/getsentry/proxyprof/internal/proxy"
)

// demo is a toy class whose calls exercise nesting, recursion into other
// methods and random durations.
type demo struct {
	mu    sync.Mutex
	rand  *rand.Rand
	scale float64
	self  *proxy.Proxy[*demo]
	x     int
}

func newDemo(x int, scale float64, seed int64, opts ...proxy.Option) *demo {
	d := &demo{
		rand:  rand.New(rand.NewSource(seed)),
		scale: scale,
		x:     x,
	}
	d.self = proxy.New(d, opts...)
	return d
}

// A calls B and D ten times each.
func (d *demo) A(ctx context.Context) error {
	for i := 0; i < 10; i++ {
		if err := d.self.Call(ctx, "B", d.B); err != nil {
			return err
		}
		if err := d.self.Call(ctx, "D", d.D); err != nil {
			return err
		}
	}
	return nil
}

func (d *demo) B(ctx context.Context) error {
	d.mu.Lock()
	d.x += 2
	d.mu.Unlock()
	return d.sleep(ctx, 100*time.Millisecond)
}

// C sleeps for a random time up to 300ms.
func (d *demo) C(ctx context.Context) error {
	return d.sleep(ctx, time.Duration(d.float()*float64(300*time.Millisecond)))
}

// D sleeps for 50ms two times out of five, calls B one time out of five and
// returns right away otherwise.
func (d *demo) D(ctx context.Context) error {
	switch ch := d.intn(5) + 1; {
	case ch < 3:
		return d.sleep(ctx, 50*time.Millisecond)
	case ch == 5:
		return d.self.Call(ctx, "B", d.B)
	}
	return nil
}

func (d *demo) X() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.x
}

func (d *demo) intn(n int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rand.Intn(n)
}

func (d *demo) float() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rand.Float64()
}

func (d *demo) sleep(ctx context.Context, t time.Duration) error {
	t = time.Duration(float64(t) * d.scale)
	if t <= 0 {
		return nil
	}
	timer := time.NewTimer(t)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// runWorkload drives two demo instances sharing one class profile: both run
// A, then both run C.
func runWorkload(ctx context.Context, scale float64, opts ...proxy.Option) error {
	seed := time.Now().UnixNano()
	o := newDemo(3, scale, seed, opts...)
	p := newDemo(12, scale, seed+1, opts...)

	for _, d := range []*demo{o, p} {
		if _, err := d.self.Invoke(ctx, "A"); err != nil {
			return err
		}
	}
	for _, d := range []*demo{o, p} {
		if _, err := d.self.Invoke(ctx, "C"); err != nil {
			return err
		}
	}
	log.Debug().Int("x", o.X()).Int("y", p.X()).Msg("workload done")
	return nil
}

// loopWorkload runs the workload every interval until ctx is done.
func loopWorkload(ctx context.Context, interval time.Duration, scale float64, opts ...proxy.Option) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := runWorkload(ctx, scale, opts...); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("workload failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
