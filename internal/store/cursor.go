package store

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidCursor marks a pagination token that does not decode to a
// (timestamp, id) pair. Malformed cursors fail closed instead of silently
// mis-paginating.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is the sort key of the last row returned on a page. Rows qualify
// for the next page iff their (timestamp, id) is strictly smaller.
type Cursor struct {
	TimestampMillis int64
	ID              int64
}

// Encode renders the cursor as an opaque token.
func (c Cursor) Encode() string {
	raw := fmt.Sprintf("%d:%d", c.TimestampMillis, c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by Encode. An empty token yields a
// nil cursor (first page).
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: expected timestamp:id", ErrInvalidCursor)
	}
	millis, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: non-numeric timestamp", ErrInvalidCursor)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: non-numeric id", ErrInvalidCursor)
	}
	return &Cursor{TimestampMillis: millis, ID: id}, nil
}
