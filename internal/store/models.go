package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the wire rendering of every date/time field.
const TimestampLayout = "2006-01-02T15:04:05Z"

// Item is a normalized row of the products table.
type Item struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         float64         `json:"price"`
	Stock         int             `json:"stock"`
	LimitQuantity *int64          `json:"limit_quantity"`
	Image         string          `json:"image"`
	Allergens     json.RawMessage `json:"allergens"`
	CreatedAt     *string         `json:"created_at"`
}

// Order is a normalized row of the orders table.
type Order struct {
	UUID      string          `json:"uuid"`
	ProductID int             `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image"`
	Options   json.RawMessage `json:"options"`
	CreatedAt *string         `json:"created_at"`
}

// Snapshot is the full collection of one kind at a point in time.
// It is shared read-only by every session it is delivered to.
type Snapshot struct {
	Kind    Kind
	Records any // []Item or []Order, never nil
	Count   int
	TakenAt time.Time
}

// DecodeStructured turns a JSON-encoded text column into a raw JSON value.
// NULL and empty text become JSON null; text that is not valid JSON is kept
// as a JSON string.
func DecodeStructured(s sql.NullString) json.RawMessage {
	if !s.Valid || s.String == "" {
		return nil
	}

	raw := []byte(s.String)
	if json.Valid(raw) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err == nil {
			return buf.Bytes()
		}
	}

	quoted, err := json.Marshal(s.String)
	if err != nil {
		return nil
	}
	return quoted
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// nullTime scans DATETIME/TIMESTAMP columns from either driver. MySQL with
// parseTime yields time.Time in the connection zone; SQLite yields strings
// for aggregates and a UTC time.Time for DATETIME columns, which carries the
// stored wall clock and is moved into loc unchanged.
type nullTime struct {
	Time  time.Time
	Valid bool
	loc   *time.Location
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func (n *nullTime) Scan(value any) error {
	n.Valid = false
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		if n.loc != nil && v.Location() == time.UTC && n.loc != time.UTC {
			v = time.Date(v.Year(), v.Month(), v.Day(), v.Hour(), v.Minute(), v.Second(), v.Nanosecond(), n.loc)
		}
		n.Time, n.Valid = v, true
		return nil
	case int64:
		n.Time, n.Valid = time.Unix(v, 0), true
		return nil
	case []byte:
		return n.parse(string(v))
	case string:
		return n.parse(v)
	default:
		return fmt.Errorf("unsupported time value %T", value)
	}
}

func (n *nullTime) parse(s string) error {
	if s == "" {
		return nil
	}
	loc := n.loc
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			n.Time, n.Valid = t, true
			return nil
		}
	}
	return fmt.Errorf("unrecognized time format %q", s)
}

func (n nullTime) formatted() *string {
	if !n.Valid {
		return nil
	}
	s := FormatTimestamp(n.Time)
	return &s
}
