// Package pagination implements newest-first keyset paging over
// (created_at, id). Cursors are opaque URL-safe strings.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

type Params struct {
	Limit  int
	Cursor string
}

// Cursor points at the last row of the previous page. ID is text so both
// uuid keys and order numbers fit.
type Cursor struct {
	CreatedAt time.Time `json:"t"`
	ID        string    `json:"id"`
}

// NormalizeLimit clamps limit into [1, MaxLimit], defaulting to DefaultLimit.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// LimitWithBuffer fetches one extra row so Split can tell if a next page exists.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

func EncodeCursor(c Cursor) string {
	c.CreatedAt = c.CreatedAt.UTC()
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// ParseCursor returns nil for an empty value.
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	if c.CreatedAt.IsZero() || strings.TrimSpace(c.ID) == "" {
		return nil, errors.New("cursor is incomplete")
	}
	return &c, nil
}

// After is a gorm scope that orders newest first and, when c is set, skips
// everything up to and including the cursor row.
func After(c *Cursor, timeCol, idCol string) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if c != nil {
			q = q.Where(
				fmt.Sprintf("(%[1]s < ?) OR (%[1]s = ? AND %[2]s < ?)", timeCol, idCol),
				c.CreatedAt, c.CreatedAt, c.ID,
			)
		}
		return q.Order(timeCol + " DESC").Order(idCol + " DESC")
	}
}

// Split trims a LimitWithBuffer result to the page size and returns the
// cursor for the following page, or "" on the last page.
func Split[T any](rows []T, limit int, key func(T) Cursor) ([]T, string) {
	size := NormalizeLimit(limit)
	if len(rows) <= size {
		return rows, ""
	}
	page := rows[:size]
	return page, EncodeCursor(key(page[size-1]))
}
