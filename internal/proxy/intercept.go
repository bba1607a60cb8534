package proxy

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrNoSuchMethod = errors.New("no such method")
	ErrBadArguments = errors.New("bad arguments")

	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

type (
	// TimedCall invokes an intercepted method. A trailing error result of the
	// method is returned as the error, the other results as values.
	TimedCall func(ctx context.Context, args ...any) ([]any, error)

	// Interceptor resolves method names to timed calls.
	Interceptor interface {
		Intercept(method string) (TimedCall, error)
	}
)

var _ Interceptor = (*Proxy[any])(nil)

// Intercept looks up an exported method of the subject by name. If the
// method takes a context.Context as its first parameter, it receives the
// context of the call, which lets the method make nested calls through the
// proxy.
func (p *Proxy[T]) Intercept(method string) (TimedCall, error) {
	m := reflect.ValueOf(p.subject).MethodByName(method)
	if !m.IsValid() {
		return nil, fmt.Errorf("proxy: %w: %s.%s", ErrNoSuchMethod, p.class, method)
	}
	mt := m.Type()
	takesContext := mt.NumIn() > 0 && mt.In(0) == contextType

	return func(ctx context.Context, args ...any) ([]any, error) {
		in, err := arguments(mt, takesContext, args)
		if err != nil {
			return nil, fmt.Errorf("proxy: %w: %s.%s: %s", ErrBadArguments, p.class, method, err.Error())
		}

		ctx, g := p.Begin(ctx, method)
		defer g.Release()
		if takesContext {
			in[0] = reflect.ValueOf(&ctx).Elem()
		}
		values, err := splitResults(mt, m.Call(in))
		g.Done(err)
		return values, err
	}, nil
}

// Invoke calls method on the subject through the proxy.
func (p *Proxy[T]) Invoke(ctx context.Context, method string, args ...any) ([]any, error) {
	call, err := p.Intercept(method)
	if err != nil {
		return nil, err
	}
	return call(ctx, args...)
}

// arguments converts args to call values. When the method takes a context,
// the first slot is left for it.
func arguments(mt reflect.Type, takesContext bool, args []any) ([]reflect.Value, error) {
	offset := 0
	if takesContext {
		offset = 1
	}
	fixed := mt.NumIn() - offset
	if mt.IsVariadic() {
		fixed--
		if len(args) < fixed {
			return nil, fmt.Errorf("expected at least %d arguments, got %d", fixed, len(args))
		}
	} else if len(args) != fixed {
		return nil, fmt.Errorf("expected %d arguments, got %d", fixed, len(args))
	}

	in := make([]reflect.Value, offset, offset+len(args))
	for i, a := range args {
		var pt reflect.Type
		if i >= fixed {
			pt = mt.In(mt.NumIn() - 1).Elem()
		} else {
			pt = mt.In(i + offset)
		}
		if a == nil {
			switch pt.Kind() {
			case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
				in = append(in, reflect.Zero(pt))
				continue
			}
			return nil, fmt.Errorf("argument %d: nil is not a valid %s", i, pt)
		}
		v := reflect.ValueOf(a)
		if !v.Type().AssignableTo(pt) {
			return nil, fmt.Errorf("argument %d: %s is not assignable to %s", i, v.Type(), pt)
		}
		in = append(in, v)
	}
	return in, nil
}

func splitResults(mt reflect.Type, out []reflect.Value) ([]any, error) {
	var err error
	if n := mt.NumOut(); n > 0 && mt.Out(n-1) == errorType {
		if e := out[n-1]; !e.IsNil() {
			err = e.Interface().(error)
		}
		out = out[:n-1]
	}
	values := make([]any, 0, len(out))
	for _, v := range out {
		values = append(values, v.Interface())
	}
	return values, err
}
