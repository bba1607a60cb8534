package proxy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/getsentry/proxyprof/internal/callstack"
)

type Outcome string

const (
	OutcomeOK    Outcome = "ok"
	OutcomeError Outcome = "error"
	// OutcomePanic marks calls released without Done being called first.
	OutcomePanic Outcome = "panic"
)

type (
	// Event is handed to observers for every completed call.
	Event struct {
		callstack.CallEvent
		Class   string
		Outcome Outcome
		Err     error
	}

	Observer interface {
		ObserveCall(e Event)
	}

	ObserverFunc func(e Event)

	// Guard is an open call. It belongs to the goroutine that opened it,
	// while the context returned with it may be shared.
	Guard struct {
		*dispatcher

		ctx      context.Context
		err      error
		frame    *callstack.Frame
		method   string
		outcome  Outcome
		released bool
	}
)

func (f ObserverFunc) ObserveCall(e Event) {
	f(e)
}

// LogObserver logs every call at debug level.
func LogObserver(logger zerolog.Logger) Observer {
	return ObserverFunc(func(e Event) {
		logger.Debug().
			Str("class", e.Class).
			Str("method", e.Method).
			Strs("path", e.Path).
			Dur("elapsed", e.Elapsed).
			Dur("self", e.SelfTime).
			Str("outcome", string(e.Outcome)).
			AnErr("call_error", e.Err).
			Msg("call")
	})
}

// Done records how the call ended. Calls released without Done are treated
// as having panicked.
func (g *Guard) Done(err error) {
	if err != nil {
		g.outcome = OutcomeError
		g.err = err
		return
	}
	g.outcome = OutcomeOK
}

// Release closes the call and records its time. Only the first call has an
// effect.
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true

	ev, err := g.frame.Exit(g.method)
	if err != nil {
		g.fault(g.ctx, err)
		return
	}

	if g.slowCallThreshold > 0 && ev.Elapsed >= g.slowCallThreshold {
		g.logger.Warn().
			Str("method", ev.Method).
			Strs("path", ev.Path).
			Dur("elapsed", ev.Elapsed).
			Dur("threshold", g.slowCallThreshold).
			Msg("slow call")
	}

	if len(g.observers) == 0 {
		return
	}
	e := Event{
		CallEvent: ev,
		Class:     g.class,
		Outcome:   g.outcome,
		Err:       g.err,
	}
	for _, obs := range g.observers {
		g.notify(obs, e)
	}
}

func (g *Guard) notify(obs Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			g.fault(g.ctx, fmt.Errorf("proxy: observer panicked: %v", r))
		}
	}()
	obs.ObserveCall(e)
}
