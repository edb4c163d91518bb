package checkout

import "context"

// Gate serializes submissions through the attempt store so two concurrent
// requests for the same key cannot both reach the processor. The gateway
// uses it keyed by order id in front of the settlement endpoints.
type Gate struct {
	Store AttemptStore
}

// Acquire claims the submission slot for key. It returns ErrStateConflict
// when another submission is already in flight. The release func must be
// called once the submission finishes, whatever the outcome.
func (g *Gate) Acquire(ctx context.Context, key string) (func(), error) {
	attempt := Attempt{SessionID: key, State: StateSubmitting}
	if err := g.Store.Transition(ctx, attempt, StateIdle); err != nil {
		return nil, err
	}
	release := func() {
		_ = g.Store.Reset(context.WithoutCancel(ctx), key)
	}
	return release, nil
}
