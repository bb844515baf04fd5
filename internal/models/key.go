package models

import (
	"fmt"
	"strings"
)

// AllEvents is the event component of a compound key covering every event of
// a sport/market/scope.
const AllEvents = "*"

// CompoundKey addresses one snapshot: (sport, market, scope, event|*).
// It serializes as "sport:market:scope:event".
type CompoundKey struct {
	Sport  string
	Market string
	Scope  string
	Event  string
}

// String returns the canonical "sport:market:scope:event" form
func (k CompoundKey) String() string {
	event := k.Event
	if event == "" {
		event = AllEvents
	}
	return k.Sport + ":" + k.Market + ":" + k.Scope + ":" + event
}

// Validate checks that every component is present and free of separators
func (k CompoundKey) Validate() error {
	for name, part := range map[string]string{
		"sport":  k.Sport,
		"market": k.Market,
		"scope":  k.Scope,
	} {
		if part == "" {
			return fmt.Errorf("compound key: %s is required", name)
		}
		if strings.Contains(part, ":") {
			return fmt.Errorf("compound key: %s must not contain ':'", name)
		}
	}
	if strings.Contains(k.Event, ":") {
		return fmt.Errorf("compound key: event must not contain ':'")
	}
	return nil
}

// Normalize lower-cases sport, market and scope and fills the all-events bucket
func (k CompoundKey) Normalize() CompoundKey {
	k.Sport = strings.ToLower(strings.TrimSpace(k.Sport))
	k.Market = strings.ToLower(strings.TrimSpace(k.Market))
	k.Scope = strings.ToLower(strings.TrimSpace(k.Scope))
	k.Event = strings.TrimSpace(k.Event)
	if k.Event == "" {
		k.Event = AllEvents
	}
	return k
}

// ParseCompoundKey parses the "sport:market:scope:event" form. A missing
// event component means the all-events bucket.
func ParseCompoundKey(s string) (CompoundKey, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 && len(parts) != 4 {
		return CompoundKey{}, fmt.Errorf("invalid compound key %q", s)
	}

	key := CompoundKey{Sport: parts[0], Market: parts[1], Scope: parts[2]}
	if len(parts) == 4 {
		key.Event = parts[3]
	}
	key = key.Normalize()

	if err := key.Validate(); err != nil {
		return CompoundKey{}, err
	}
	return key, nil
}

// MarshalText implements encoding.TextMarshaler
func (k CompoundKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *CompoundKey) UnmarshalText(text []byte) error {
	parsed, err := ParseCompoundKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
