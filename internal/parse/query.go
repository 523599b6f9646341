// Package parse converts query string values into typed filters.
package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"labbook-backend/internal/store"
)

var windowRe = regexp.MustCompile(`(?i)^\s*(\d+)\s*(d|h|w)\s*$`)

const maxWindow = 366 * 24 * time.Hour

// Window parses a rolling statistics window such as "30d", "12h" or "2w".
// An empty string yields def; "all" yields 0, meaning no lower bound.
func Window(raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	if strings.EqualFold(s, "all") {
		return 0, nil
	}

	m := windowRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("unable to parse window: %q", raw)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("window must be positive: %q", raw)
	}

	unit := time.Hour
	switch strings.ToLower(m[2]) {
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	}
	if n > int(maxWindow/unit) {
		return 0, fmt.Errorf("window exceeds one year: %q", raw)
	}
	return time.Duration(n) * unit, nil
}

// Page reads page and limit values. Missing values fall back to store defaults.
func Page(page, limit string) (store.Page, error) {
	var p store.Page
	var err error
	if page != "" {
		if p.Page, err = strconv.Atoi(page); err != nil || p.Page < 1 {
			return store.Page{}, fmt.Errorf("invalid page: %q", page)
		}
	}
	if limit != "" {
		if p.Limit, err = strconv.Atoi(limit); err != nil || p.Limit < 1 {
			return store.Page{}, fmt.Errorf("invalid limit: %q", limit)
		}
	}
	return p.Normalize(), nil
}

// OptionalID parses an optional UUID. An empty string yields nil.
func OptionalID(raw string) (*uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid id: %q", raw)
	}
	return &id, nil
}

// OptionalBool parses "true"/"false"; an empty string yields nil.
func OptionalBool(raw string) (*bool, error) {
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid boolean: %q", raw)
	}
	return &b, nil
}
