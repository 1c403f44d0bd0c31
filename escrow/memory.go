package escrow

import (
	"context"
	"errors"
	"sync"
)

// MemoryService is an in-process Service used by tests and local
// development. It mirrors the server's semantics, including atomic Create.
type MemoryService struct {
	mu     sync.Mutex
	shares map[shareKey]EscrowedShare
	keys   *AccountKeys

	// CreateHook, when set, runs before Create commits; returning an error
	// simulates a failed upload.
	CreateHook func(bundle SetupBundle) error
}

type shareKey struct {
	kind         MethodKind
	credentialID string
}

// NewMemoryService creates an empty in-memory escrow service.
func NewMemoryService() *MemoryService {
	return &MemoryService{
		shares: make(map[shareKey]EscrowedShare),
	}
}

// Check implements Service.
func (m *MemoryService) Check(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.shares) > 0, nil
}

// Create implements Service. The bundle is committed all-or-nothing.
func (m *MemoryService) Create(ctx context.Context, bundle SetupBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.shares) > 0 {
		return errors.New("escrow already exists")
	}
	if m.CreateHook != nil {
		if err := m.CreateHook(bundle); err != nil {
			return err
		}
	}

	for _, s := range bundle.Shares {
		m.shares[shareKey{s.Kind, s.CredentialID}] = cloneShare(s)
	}
	keys := bundle.Keys
	m.keys = &keys

	return nil
}

// Share implements Service.
func (m *MemoryService) Share(ctx context.Context, kind MethodKind, credentialID string) (*EscrowedShare, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.shares[shareKey{kind, credentialID}]
	if !ok {
		return nil, ErrShareNotFound
	}
	out := cloneShare(s)
	return &out, nil
}

// PutShare implements Service.
func (m *MemoryService) PutShare(ctx context.Context, share EscrowedShare) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.shares) == 0 {
		return errors.New("escrow not set up")
	}
	m.shares[shareKey{share.Kind, share.CredentialID}] = cloneShare(share)
	return nil
}

// RemoveShare implements Service.
func (m *MemoryService) RemoveShare(ctx context.Context, kind MethodKind, credentialID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := shareKey{kind, credentialID}
	if _, ok := m.shares[key]; !ok {
		return ErrShareNotFound
	}
	delete(m.shares, key)
	return nil
}

// AccountKeys implements Service.
func (m *MemoryService) AccountKeys(ctx context.Context) (*AccountKeys, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.keys == nil {
		return nil, ErrShareNotFound
	}
	keys := *m.keys
	return &keys, nil
}

// Methods implements Service.
func (m *MemoryService) Methods(ctx context.Context) ([]MethodInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]MethodInfo, 0, len(m.shares))
	for _, s := range m.shares {
		out = append(out, MethodInfo{
			Kind:         s.Kind,
			CredentialID: s.CredentialID,
			UsesPRF:      s.UsesPRF,
			CreatedAt:    s.CreatedAt,
		})
	}
	return out, nil
}

// Delete implements Service.
func (m *MemoryService) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shares = make(map[shareKey]EscrowedShare)
	m.keys = nil
	return nil
}

func cloneShare(s EscrowedShare) EscrowedShare {
	out := s
	out.Ciphertext = append([]byte(nil), s.Ciphertext...)
	if s.Params != nil {
		params := *s.Params
		params.Salt = append([]byte(nil), s.Params.Salt...)
		out.Params = &params
	}
	return out
}
