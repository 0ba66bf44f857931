package sqlstore

import (
	"database/sql"
	"strconv"
	"strings"
	"time"
)

// Dialect captures the per-database differences the shared store relies on.
type Dialect interface {
	// Name identifies the backend in errors and logs.
	Name() string
	// Rebind rewrites '?' placeholders into the backend's native form.
	Rebind(query string) string
	// SupportsReturning reports whether INSERT ... RETURNING is available;
	// otherwise LastInsertId is used.
	SupportsReturning() bool
	// EncodeTime converts a store timestamp into a driver argument.
	EncodeTime(t time.Time) any
	// IsUniqueViolation reports whether err is a unique-constraint failure.
	IsUniqueViolation(err error) bool
	// TxOptions returns the options used for write transactions.
	TxOptions() *sql.TxOptions
}

// RebindDollar rewrites '?' placeholders to $1..$n. Question marks inside
// single-quoted literals are left alone.
func RebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// TextTimeLayout is the fixed-width UTC layout used where timestamps are stored
// as text, so lexical order equals chronological order.
const TextTimeLayout = "2006-01-02 15:04:05.000000"

var timeLayouts = []string{
	TextTimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ParseTime accepts the textual timestamp forms drivers hand back.
func ParseTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
