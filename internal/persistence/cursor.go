// Package persistence contains helpers shared by repository implementations.
package persistence

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"example.com/trainload/internal/domain"
)

// Cursor tokens encode the (start date, record id) position of the last
// item on a page. The token is opaque to clients; the tuple keeps paging
// stable when two records start at the same instant.

// EncodeCursor serialises a cursor to its wire token. A nil cursor
// produces the empty token.
func EncodeCursor(c *domain.Cursor) string {
	if c == nil {
		return ""
	}
	raw := c.StartDate.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a wire token back into a cursor. Empty tokens decode
// to nil, meaning the first page.
func DecodeCursor(token string) (*domain.Cursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	date, id, ok := strings.Cut(string(decoded), "|")
	if !ok {
		return nil, fmt.Errorf("malformed cursor token")
	}
	ts, err := time.Parse(time.RFC3339Nano, date)
	if err != nil {
		return nil, err
	}
	return &domain.Cursor{StartDate: ts, ID: id}, nil
}
