package database

import (
	"fmt"
	"time"
)

// Fixed-width UTC layout so SQLite TEXT comparison matches time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// TimeArg formats t as a bind argument for the driver. Postgres takes
// time.Time directly; SQLite stores a fixed-width UTC string.
func TimeArg(driver Driver, t time.Time) any {
	if driver == DriverSQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

// TimeScanner is a sql.Scanner for TIMESTAMP columns from either driver.
// Nil columns leave Valid false.
type TimeScanner struct {
	Time  time.Time
	Valid bool
}

func (s *TimeScanner) Scan(v any) error {
	if v == nil {
		s.Time, s.Valid = time.Time{}, false
		return nil
	}
	t, err := ParseTime(v)
	if err != nil {
		return err
	}
	s.Time, s.Valid = t, true
	return nil
}

// ParseTime normalizes TIMESTAMP scan values from either driver.
func ParseTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return x.UTC(), nil
	case []byte:
		return parseTimeString(string(x))
	case string:
		return parseTimeString(x)
	default:
		return time.Time{}, fmt.Errorf("database: cannot scan %T as time", v)
	}
}

func parseTimeString(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("database: unrecognized time %q", s)
}
