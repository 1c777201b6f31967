package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// VaultStore implements domain.VaultStore in process.
type VaultStore struct {
	mu    sync.Mutex
	state *domain.VaultState
}

func NewVaultStore() *VaultStore { return &VaultStore{} }

// SaveVaultState keeps st unless a higher index is already stored.
func (s *VaultStore) SaveVaultState(_ context.Context, st domain.VaultState) error {
	if st.Index == nil {
		return errors.New("memory: save vault state: missing index")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != nil && s.state.Index.Gt(st.Index) {
		return nil
	}
	st.Index = st.Index.Clone()
	s.state = &st
	return nil
}

// GetVaultState returns the stored state or domain.ErrNotFound.
func (s *VaultStore) GetVaultState(context.Context) (domain.VaultState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return domain.VaultState{}, fmt.Errorf("memory: get vault state: %w", domain.ErrNotFound)
	}
	st := *s.state
	st.Index = st.Index.Clone()
	return st, nil
}
