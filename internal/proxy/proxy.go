// Package proxy wraps arbitrary values so that calls made through the
// wrapper are timed and accumulated in the profile of the value's class.
package proxy

import (
	"context"
	"reflect"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/proxyprof/internal/callstack"
	"github.com/getsentry/proxyprof/internal/classprofile"
	"github.com/getsentry/proxyprof/internal/timeutil"
)

type (
	options struct {
		className         string
		clock             timeutil.Clock
		logger            *zerolog.Logger
		observers         []Observer
		registry          *classprofile.Registry
		slowCallThreshold time.Duration
	}

	Option func(*options)

	// dispatcher is the part of a proxy that does not depend on the type of
	// the wrapped value.
	dispatcher struct {
		class             string
		clock             timeutil.Clock
		logger            zerolog.Logger
		observers         []Observer
		profile           *classprofile.ClassProfile
		slowCallThreshold time.Duration
	}

	// Proxy times the calls made through it. All proxies of the same class
	// share one profile.
	Proxy[T any] struct {
		*dispatcher
		subject T
	}
)

// WithClassName overrides the class name derived from the subject's type.
func WithClassName(name string) Option {
	return func(o *options) {
		o.className = name
	}
}

// WithRegistry keeps the class profile in r instead of the default registry.
func WithRegistry(r *classprofile.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

func WithClock(c timeutil.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &l
	}
}

// WithSlowCallThreshold logs calls taking at least d at warn level. Zero
// disables it.
func WithSlowCallThreshold(d time.Duration) Option {
	return func(o *options) {
		o.slowCallThreshold = d
	}
}

func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, obs)
	}
}

// New wraps subject. Its profile is looked up, or created, in the registry
// under the name of the subject's type.
func New[T any](subject T, opts ...Option) *Proxy[T] {
	o := options{
		clock:    timeutil.System,
		registry: classprofile.DefaultRegistry,
	}
	for _, opt := range opts {
		opt(&o)
	}

	class := o.className
	if class == "" {
		class = ClassName(subject)
	}
	logger := log.Logger
	if o.logger != nil {
		logger = *o.logger
	}

	return &Proxy[T]{
		dispatcher: &dispatcher{
			class:             class,
			clock:             o.clock,
			logger:            logger.With().Str("class", class).Logger(),
			observers:         o.observers,
			profile:           o.registry.ForClass(class),
			slowCallThreshold: o.slowCallThreshold,
		},
		subject: subject,
	}
}

// ClassName returns the name of the dynamic type of v, pointers dereferenced.
func ClassName(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return "nil"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

func (p *Proxy[T]) Subject() T {
	return p.subject
}

func (p *Proxy[T]) Profile() *classprofile.ClassProfile {
	return p.profile
}

func (p *Proxy[T]) ClassName() string {
	return p.class
}

// Begin opens a timed call of method. The returned context carries the call
// and must be used for calls nested in this one, including those made from
// other goroutines. Release on the guard has to run on every exit path,
// typically with defer.
func (d *dispatcher) Begin(ctx context.Context, method string) (context.Context, *Guard) {
	stack, ok := callstack.FromContext(ctx)
	if !ok {
		stack = callstack.NewStack(d.clock)
		ctx = callstack.WithStack(ctx, stack)
	}
	ctx, frame := stack.Enter(ctx, d.profile, method)
	g := &Guard{
		ctx:        ctx,
		dispatcher: d,
		frame:      frame,
		method:     method,
		outcome:    OutcomePanic,
	}
	return ctx, g
}

// Call times fn as a call of method. Whatever fn returns, or panics with,
// reaches the caller untouched.
func (p *Proxy[T]) Call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	ctx, g := p.Begin(ctx, method)
	defer g.Release()
	err := fn(ctx)
	g.Done(err)
	return err
}

// CallValue is Call for functions returning a value.
func CallValue[T, R any](ctx context.Context, p *Proxy[T], method string, fn func(ctx context.Context) (R, error)) (R, error) {
	ctx, g := p.Begin(ctx, method)
	defer g.Release()
	v, err := fn(ctx)
	g.Done(err)
	return v, err
}

func (d *dispatcher) fault(ctx context.Context, err error) {
	d.logger.Error().Err(err).Msg("profiler fault")
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.CaptureException(err)
}
