package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/livecall/pkg/provider/live"
)

var _ live.Provider = (*Failover)(nil)

// ErrAllFailed is returned by [Failover.Connect] when no transport could open
// a session.
var ErrAllFailed = errors.New("resilience: every live transport failed")

type transport struct {
	name     string
	provider live.Provider
	breaker  *Breaker
}

// Failover opens sessions on the first healthy transport in registration
// order. It only acts at connect time: an open session that later fails is
// not moved to another transport.
type Failover struct {
	transports []transport
	opts       []BreakerOption
}

// NewFailover creates a Failover with primary as its first transport. opts
// configure the breaker of every transport.
func NewFailover(name string, primary live.Provider, opts ...BreakerOption) *Failover {
	f := &Failover{opts: opts}
	f.Add(name, primary)
	return f
}

// Add appends a fallback transport. Call it before the first Connect.
func (f *Failover) Add(name string, p live.Provider) {
	f.transports = append(f.transports, transport{
		name:     name,
		provider: p,
		breaker:  NewBreaker(name, f.opts...),
	})
}

// Connect tries each transport whose breaker admits the call. Failures caused
// by ctx ending are returned at once and are not held against the transport.
func (f *Failover) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	var errs []error
	for _, t := range f.transports {
		var sess live.Session
		err := t.breaker.Do(func() error {
			var err error
			sess, err = t.provider.Connect(ctx, cfg)
			return err
		}, func(error) bool { return ctx.Err() == nil })
		if err == nil {
			if len(errs) > 0 {
				slog.Info("live session opened on fallback transport", "transport", t.name)
			}
			return sess, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping live transport, circuit open", "transport", t.name)
		} else {
			slog.Warn("live transport failed, trying next", "transport", t.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
	}
	return nil, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

// Ping fails while every transport's breaker is open. It does not dial.
func (f *Failover) Ping(context.Context) error {
	for _, t := range f.transports {
		if t.breaker.State() != StateOpen {
			return nil
		}
	}
	return ErrOpen
}

// States reports the breaker state of each transport by name.
func (f *Failover) States() map[string]State {
	out := make(map[string]State, len(f.transports))
	for _, t := range f.transports {
		out[t.name] = t.breaker.State()
	}
	return out
}
