// Package fsm validates tenant status changes with looplab/fsm.
package fsm

import (
	"context"
	"errors"
	"slices"

	loopfsm "github.com/looplab/fsm"

	"github.com/neomorfeo/pgkeeper/internal/domain"
)

// Compile-time check: Validator implements domain.TransitionValidator.
var _ domain.TransitionValidator = (*Validator)(nil)

// events groups domain.Transitions by event and destination, so "remove"
// becomes one EventDesc with both ACTIVE and INACTIVE as sources.
var events = buildEvents()

func buildEvents() []loopfsm.EventDesc {
	type key struct {
		event string
		dst   string
	}
	grouped := make(map[key][]string)
	order := make([]key, 0)

	for _, t := range domain.Transitions {
		k := key{event: string(t.Event), dst: string(t.Dst)}
		if _, exists := grouped[k]; !exists {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], string(t.Src))
	}

	out := make([]loopfsm.EventDesc, 0, len(order))
	for _, k := range order {
		out = append(out, loopfsm.EventDesc{
			Name: k.event,
			Src:  grouped[k],
			Dst:  k.dst,
		})
	}
	return out
}

// Validator implements domain.TransitionValidator. looplab/fsm machines are
// stateful, so each Apply call builds one seeded with the tenant's status.
type Validator struct{}

// New creates a new FSM-backed transition validator.
func New() *Validator {
	return &Validator{}
}

// Apply returns the status event leads to from current, or a
// *domain.TransitionError listing the events current does accept.
func (v *Validator) Apply(ctx context.Context, current domain.TenantStatus, event domain.Event) (domain.TenantStatus, error) {
	machine := loopfsm.NewFSM(string(current), events, nil)

	err := machine.Event(ctx, string(event))
	if err == nil {
		return domain.TenantStatus(machine.Current()), nil
	}

	var invalidEvent loopfsm.InvalidEventError
	var unknownEvent loopfsm.UnknownEventError
	var noTransition loopfsm.NoTransitionError
	if !errors.As(err, &invalidEvent) && !errors.As(err, &unknownEvent) && !errors.As(err, &noTransition) {
		return "", err
	}

	return "", &domain.TransitionError{
		Event:   event,
		Current: current,
		Allowed: Allowed(current),
	}
}

// Allowed returns the events accepted from status, sorted by name.
func Allowed(status domain.TenantStatus) []domain.Event {
	machine := loopfsm.NewFSM(string(status), events, nil)

	names := machine.AvailableTransitions()
	slices.Sort(names)

	out := make([]domain.Event, len(names))
	for i, name := range names {
		out[i] = domain.Event(name)
	}
	return out
}
