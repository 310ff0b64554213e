package storage

import (
	"fmt"
	"time"
)

// timeLayout is fixed width so stored timestamps sort lexicographically
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Layouts accepted when reading rows written by other tools
var readLayouts = []string{
	timeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

var timeNow = time.Now

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range readLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// timestamp scans a TEXT timestamp column. The libsql driver hands back
// time.Time for text it recognizes; the sqlite3 driver hands back strings.
type timestamp struct {
	time.Time
}

func (ts *timestamp) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		ts.Time = time.Time{}
	case time.Time:
		ts.Time = v.UTC()
	case string:
		t, err := parseTimestamp(v)
		if err != nil {
			return err
		}
		ts.Time = t
	case []byte:
		t, err := parseTimestamp(string(v))
		if err != nil {
			return err
		}
		ts.Time = t
	default:
		return fmt.Errorf("cannot scan %T into timestamp", value)
	}
	return nil
}
