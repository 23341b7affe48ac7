package sessions

import "context"

// Store is the shared key-value cache backing sessions. Get returns
// errors.ErrNotFound for absent keys; Delete of an absent key is not an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
