package sqlstore

import (
	"fmt"
	"time"
)

// timeScanner reads a timestamp column regardless of whether the driver
// returns time.Time, text or bytes.
type timeScanner struct {
	dest *time.Time
}

func (s timeScanner) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*s.dest = v.UTC()
	case string:
		t, err := ParseTime(v)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", v, err)
		}
		*s.dest = t
	case []byte:
		t, err := ParseTime(string(v))
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", v, err)
		}
		*s.dest = t
	case nil:
		*s.dest = time.Time{}
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
	return nil
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
