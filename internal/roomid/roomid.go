// Package roomid derives direct-chat room keys from participant pairs.
package roomid

import (
	"errors"
	"fmt"
	"strings"
)

// Separator joins the two sorted participant identifiers.
const Separator = "_"

// ErrInvalidParticipant is returned when a participant identifier is empty
// or contains Separator.
var ErrInvalidParticipant = errors.New("roomid: invalid participant")

// Key identifies a two-participant room. Either participant computes the
// same key without asking the server.
type Key string

// DeriveKey sorts a and b lexicographically and joins them with Separator,
// so DeriveKey(a, b) == DeriveKey(b, a). Identifiers may not contain
// Separator, which keeps keys of distinct pairs distinct.
func DeriveKey(a, b string) (Key, error) {
	if err := checkParticipant(a); err != nil {
		return "", err
	}
	if err := checkParticipant(b); err != nil {
		return "", err
	}
	if b < a {
		a, b = b, a
	}
	return Key(a + Separator + b), nil
}

func checkParticipant(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidParticipant
	}
	if strings.Contains(id, Separator) {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidParticipant, id, Separator)
	}
	return nil
}

func (k Key) String() string {
	return string(k)
}

// Participants splits the key back into its two ordered members.
func (k Key) Participants() (string, string, error) {
	a, b, ok := strings.Cut(string(k), Separator)
	if !ok || checkParticipant(a) != nil || checkParticipant(b) != nil || b < a {
		return "", "", fmt.Errorf("roomid: malformed key %q: %w", string(k), ErrInvalidParticipant)
	}
	return a, b, nil
}

// Has reports whether participant is one of the key's two members.
// A malformed key has no members.
func (k Key) Has(participant string) bool {
	a, b, err := k.Participants()
	if err != nil || participant == "" {
		return false
	}
	return participant == a || participant == b
}
