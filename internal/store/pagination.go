package store

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrInvalidCursor = errors.New("invalid cursor")

type CursorPage struct {
	Items      interface{} `json:"items"`
	NextCursor string      `json:"next_cursor,omitempty"`
	HasMore    bool        `json:"has_more"`
}

type OffsetPage struct {
	Items      interface{} `json:"items"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages"`
}

func newOffsetPage(items interface{}, total int64, page, pageSize int) *OffsetPage {
	return &OffsetPage{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int((total + int64(pageSize) - 1) / int64(pageSize)),
	}
}

// OrderCursor is the keyset position (placed_at, id) of the last order on a page.
type OrderCursor struct {
	PlacedAt time.Time `json:"placed_at"`
	ID       int64     `json:"id"`
}

// EncodeCursor returns an opaque, URL-safe token for the position.
func EncodeCursor(cursor OrderCursor) string {
	data, _ := json.Marshal(cursor)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor turns an empty cursor into a position after every order.
func DecodeCursor(encoded string) (OrderCursor, error) {
	if encoded == "" {
		return OrderCursor{PlacedAt: time.Now().Add(time.Hour), ID: math.MaxInt64}, nil
	}

	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return OrderCursor{}, fmt.Errorf("%w: bad encoding: %v", ErrInvalidCursor, err)
	}

	var cursor OrderCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return OrderCursor{}, fmt.Errorf("%w: bad payload: %v", ErrInvalidCursor, err)
	}
	if cursor.ID <= 0 || cursor.PlacedAt.IsZero() {
		return OrderCursor{}, fmt.Errorf("%w: incomplete position", ErrInvalidCursor)
	}
	return cursor, nil
}
