package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"microk8s-operator/pkg/cluster"
)

// StateKey is where the unit's cluster state is kept.
const StateKey = "cluster/state"

// StateStore persists cluster.State as a single JSON document so a save is
// atomic with respect to the backend.
type StateStore struct {
	s Storage
}

func NewStateStore(s Storage) *StateStore {
	return &StateStore{s: s}
}

// Load returns the saved state, or a fresh state if none was saved yet.
func (st *StateStore) Load(ctx context.Context) (cluster.State, error) {
	raw, ok, err := st.s.Get(ctx, StateKey)
	if err != nil {
		return cluster.State{}, fmt.Errorf("failed to read state: %w", err)
	}
	if !ok {
		return cluster.NewState(), nil
	}
	state := cluster.NewState()
	if err := json.Unmarshal(raw, &state); err != nil {
		return cluster.State{}, fmt.Errorf("failed to decode state: %w", err)
	}
	// Clone replaces nil maps left by older documents.
	return state.Clone(), nil
}

// Save replaces the saved state.
func (st *StateStore) Save(ctx context.Context, state cluster.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := st.s.Set(ctx, StateKey, raw); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

// Clear forgets the saved state. The next Load returns a fresh state.
func (st *StateStore) Clear(ctx context.Context) error {
	if _, err := st.s.Delete(ctx, StateKey); err != nil {
		return fmt.Errorf("failed to clear state: %w", err)
	}
	return nil
}
