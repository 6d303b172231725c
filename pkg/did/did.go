// Package did parses decentralized identifiers naming accounts, spaces,
// agents and providers.
package did

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid indicates a string is not a well-formed DID.
var ErrInvalid = errors.New("invalid DID")

// DID is a decentralized identifier of the form did:<method>:<id>.
//
// The zero value is undefined.
type DID string

// Parse validates s and returns it as a DID.
func Parse(s string) (DID, error) {
	s = strings.TrimSpace(s)
	rest, ok := strings.CutPrefix(s, "did:")
	if !ok {
		return "", fmt.Errorf("%w: %q: missing did: scheme", ErrInvalid, s)
	}
	method, id, ok := strings.Cut(rest, ":")
	if !ok || method == "" || id == "" {
		return "", fmt.Errorf("%w: %q: expected did:<method>:<id>", ErrInvalid, s)
	}
	for _, r := range method {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("%w: %q: method must be lowercase alphanumeric", ErrInvalid, s)
		}
	}
	if strings.ContainsAny(id, " \t\r\n/") {
		return "", fmt.Errorf("%w: %q: identifier contains whitespace or '/'", ErrInvalid, s)
	}
	return DID(s), nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// constants.
func MustParse(s string) DID {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Method returns the DID method, e.g. "key" or "mailto".
func (d DID) Method() string {
	method, _, _ := strings.Cut(strings.TrimPrefix(string(d), "did:"), ":")
	return method
}

// Defined reports whether d is non-empty.
func (d DID) Defined() bool { return d != "" }

func (d DID) String() string { return string(d) }
