package paramstore

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Token resolves a secret parameter on first use and caches it for the
// lifetime of the process. Failed lookups are not cached.
type Token struct {
	getter Getter
	name   string

	mu    sync.Mutex
	value string
}

// NewToken creates a lazily resolved secret bound to a parameter name.
func NewToken(getter Getter, name string) (*Token, error) {
	if getter == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("paramstore: token parameter name must not be empty")
	}
	return &Token{getter: getter, name: name}, nil
}

// Name returns the parameter name backing the token.
func (t *Token) Name() string { return t.name }

// Get returns the cached secret, fetching it when not yet resolved.
func (t *Token) Get(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.value != "" {
		return t.value, nil
	}
	v, err := FetchToken(ctx, t.getter, t.name)
	if err != nil {
		return "", err
	}
	t.value = v
	return v, nil
}
