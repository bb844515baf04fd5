package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
)

// ErrUnauthorized is returned when a connection carries no usable grant
var ErrUnauthorized = errors.New("unauthorized")

// DefaultGrantHeader carries the comma-separated keys an upstream auth layer
// has granted the caller
const DefaultGrantHeader = "X-Authorized-Keys"

// Authorizer decides which keys a stream connection may subscribe to.
// Authentication happens upstream; the gateway only enforces the grant.
type Authorizer interface {
	Authorize(r *http.Request) (KeySet, error)
}

// KeySet is a set of granted keys. A granted key whose event is "*" covers
// every event of its sport/market/scope.
type KeySet struct {
	all  bool
	keys []models.CompoundKey
}

// AllKeys grants every key
func AllKeys() KeySet {
	return KeySet{all: true}
}

// NewKeySet grants exactly keys
func NewKeySet(keys ...models.CompoundKey) KeySet {
	normalized := make([]models.CompoundKey, len(keys))
	for i, k := range keys {
		normalized[i] = k.Normalize()
	}
	return KeySet{keys: normalized}
}

// Allows reports whether key falls under the grant
func (s KeySet) Allows(key models.CompoundKey) bool {
	if s.all {
		return true
	}
	key = key.Normalize()
	for _, g := range s.keys {
		if g.Sport != key.Sport || g.Market != key.Market || g.Scope != key.Scope {
			continue
		}
		if g.Event == models.AllEvents || g.Event == key.Event {
			return true
		}
	}
	return false
}

// Keys returns the granted keys, or nil for an unrestricted grant
func (s KeySet) Keys() []models.CompoundKey {
	if s.all {
		return nil
	}
	return append([]models.CompoundKey(nil), s.keys...)
}

// HeaderAuthorizer reads the grant from a request header set by the upstream
// auth layer
type HeaderAuthorizer struct {
	Header string
}

// Authorize implements Authorizer
func (a HeaderAuthorizer) Authorize(r *http.Request) (KeySet, error) {
	header := a.Header
	if header == "" {
		header = DefaultGrantHeader
	}

	raw := strings.TrimSpace(r.Header.Get(header))
	if raw == "" {
		return KeySet{}, ErrUnauthorized
	}

	var keys []models.CompoundKey
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, err := models.ParseCompoundKey(part)
		if err != nil {
			return KeySet{}, errors.Join(ErrUnauthorized, err)
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return KeySet{}, ErrUnauthorized
	}
	return NewKeySet(keys...), nil
}

// OpenAuthorizer grants every key. Only meant for local development.
type OpenAuthorizer struct{}

// Authorize implements Authorizer
func (OpenAuthorizer) Authorize(*http.Request) (KeySet, error) {
	return AllKeys(), nil
}
