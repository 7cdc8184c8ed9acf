// Package pipeline wires sources, preprocessing, rendering and transports
// into rate-limited loops.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/svanichkin/termfeed/logs"
)

// State is the lifecycle of a Loop.
type State int32

const (
	Running State = iota
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// errSkip ends the current iteration without ending the loop.
var errSkip = errors.New("skip iteration")

// Loop runs Step once per limiter slot until ctx ends or Step fails.
// A Loop runs once; build a new one to start over.
type Loop struct {
	Name    string
	Limiter *Limiter
	// Step does one unit of work. Returning errSkip continues, io.EOF stops
	// cleanly, any other error stops the loop and is returned from Run.
	Step func(ctx context.Context) error
	// Cleanup runs while Stopping, on every exit path.
	Cleanup func() error

	state   atomic.Int32
	started atomic.Bool
}

// State returns the current state. A loop that has not run yet reports Running.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Run drives the loop. The end of ctx is a clean stop and returns nil.
func (l *Loop) Run(ctx context.Context) (err error) {
	if !l.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: loop already ran", l.Name)
	}
	l.state.Store(int32(Running))
	defer func() {
		l.state.Store(int32(Stopping))
		if l.Cleanup != nil {
			if cerr := l.Cleanup(); cerr != nil {
				logs.Warnf("[%s] cleanup: %v", l.Name, cerr)
				if err == nil {
					err = cerr
				}
			}
		}
		l.state.Store(int32(Stopped))
		logs.LogV("[%s] stopped: %v", l.Name, err)
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if l.Limiter != nil {
			if werr := l.Limiter.Wait(ctx); werr != nil {
				// rate.Limiter refuses waits that would outlive the deadline
				if _, ok := ctx.Deadline(); ok || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%s: limiter: %w", l.Name, werr)
			}
		}
		serr := l.Step(ctx)
		switch {
		case serr == nil, errors.Is(serr, errSkip):
			continue
		case errors.Is(serr, io.EOF):
			return nil
		case ctx.Err() != nil && errors.Is(serr, ctx.Err()):
			return nil
		default:
			return fmt.Errorf("%s: %w", l.Name, serr)
		}
	}
}
