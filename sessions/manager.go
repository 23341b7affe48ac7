package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	apperrors "github.com/jrsteele09/go-session-gateway/internal/errors"
)

// Manager is the only writer of session records. Every call is a single
// round-trip to the Store; nothing is atomic across keys.
type Manager struct {
	store Store
}

func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Load returns the record for jti, or ErrSessionNotFound.
func (m *Manager) Load(ctx context.Context, jti string) (*Record, error) {
	if jti == "" {
		return nil, fmt.Errorf("%w: empty jti", apperrors.ErrSessionNotFound)
	}

	data, err := m.store.Get(ctx, Key(jti))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrSessionNotFound, Key(jti))
		}
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: corrupt record %s: %v", apperrors.ErrSessionNotFound, Key(jti), err)
	}
	return &rec, nil
}

// Save writes rec under its jti, overwriting any existing entry.
func (m *Manager) Save(ctx context.Context, rec *Record) error {
	if rec == nil || rec.JTI() == "" {
		return errors.New("session record without jti")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", rec.Key(), err)
	}
	return m.store.Set(ctx, rec.Key(), data)
}

// Delete removes the record for jti. Deleting an absent record succeeds.
func (m *Manager) Delete(ctx context.Context, jti string) error {
	if jti == "" {
		return errors.New("delete session: empty jti")
	}
	return m.store.Delete(ctx, Key(jti))
}
