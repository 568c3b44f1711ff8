// Package batchref parses the ways a batch can be referenced when it is
// shared outside the ledger: a bare batch ID, a verification link carrying a
// ?verify= or ?calc= parameter, or a greenledger:// URI.
//
// URI format: greenledger://[category/]batch-id
//
// Examples:
//
//	COF-2024-001
//	https://ledger.example.com/?verify=COF-2024-001
//	?calc=COF-2024-001
//	greenledger://thermal/COF-2024-001
package batchref

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

const scheme = "greenledger"

// MaxIDLength bounds batch IDs accepted from outside.
const MaxIDLength = 128

// Mode says which public view a reference asks for.
type Mode string

const (
	ModeVerify Mode = "verify"
	ModeCalc   Mode = "calc"
)

// Ref is a parsed batch reference.
type Ref struct {
	BatchID  string
	Category string // empty when the reference does not name one
	Mode     Mode
}

// Parse extracts a batch reference from raw.
func Parse(raw string) (*Ref, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty batch reference")
	}

	switch {
	case strings.HasPrefix(raw, scheme+"://"):
		return parseURI(raw)
	case strings.Contains(raw, "?"), strings.Contains(raw, "://"):
		return parseLink(raw)
	}

	if err := ValidateID(raw); err != nil {
		return nil, err
	}
	return &Ref{BatchID: raw, Mode: ModeVerify}, nil
}

func parseURI(raw string) (*Ref, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid batch URI: %w", err)
	}
	segments := []string{u.Host}
	if p := strings.Trim(u.Path, "/"); p != "" {
		segments = append(segments, strings.Split(p, "/")...)
	}

	ref := &Ref{Mode: ModeVerify}
	switch len(segments) {
	case 1:
		ref.BatchID = segments[0]
	case 2:
		ref.Category, ref.BatchID = segments[0], segments[1]
	default:
		return nil, fmt.Errorf("batch URI must be %s://[category/]batch-id, got %q", scheme, raw)
	}
	if ref.Category != "" {
		if err := ValidateID(ref.Category); err != nil {
			return nil, fmt.Errorf("category: %w", err)
		}
	}
	if err := ValidateID(ref.BatchID); err != nil {
		return nil, err
	}
	return ref, nil
}

func parseLink(raw string) (*Ref, error) {
	query := raw
	if i := strings.Index(raw, "?"); i >= 0 {
		query = raw[i+1:]
	}
	if i := strings.Index(query, "#"); i >= 0 {
		query = query[:i]
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("invalid batch link: %w", err)
	}

	ref := &Ref{}
	switch {
	case values.Get("verify") != "":
		ref.BatchID, ref.Mode = values.Get("verify"), ModeVerify
	case values.Get("calc") != "":
		ref.BatchID, ref.Mode = values.Get("calc"), ModeCalc
	default:
		return nil, fmt.Errorf("batch link %q has no verify or calc parameter", raw)
	}
	ref.BatchID = strings.TrimSpace(ref.BatchID)
	if err := ValidateID(ref.BatchID); err != nil {
		return nil, err
	}
	return ref, nil
}

// ValidateID checks that id is usable as a batch or category key.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("batch id must not be empty")
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("batch id exceeds %d characters", MaxIDLength)
	}
	for _, r := range id {
		if r == '/' || r == '?' || r == '#' || unicode.IsControl(r) {
			return fmt.Errorf("batch id %q contains invalid character %q", id, r)
		}
	}
	return nil
}

// String returns the canonical greenledger:// form.
func (r *Ref) String() string {
	if r.Category != "" {
		return scheme + "://" + r.Category + "/" + r.BatchID
	}
	return scheme + "://" + r.BatchID
}

// Link returns the shareable web link for r under base, e.g.
// https://ledger.example.com/?verify=COF-1.
func (r *Ref) Link(base string) string {
	mode := r.Mode
	if mode == "" {
		mode = ModeVerify
	}
	return strings.TrimRight(base, "/") + "/?" + string(mode) + "=" + url.QueryEscape(r.BatchID)
}
