package storage

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical day format bound for date columns.
const DateLayout = "2006-01-02"

// NormalizeKey converts a natural key value to a canonical string form,
// suitable for in-memory maps (e.g. "co110101" or "8429529").
//
// Backends must not assume a particular underlying type for keys; this helper
// keeps lookups consistent across backends (pgx text vs. sqlite []byte, etc).
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// EqualValue compares a stored value (as scanned by a driver) with an incoming
// value built by the normalizer.
//
// Why this exists:
//   - Drivers round-trip the same logical value as different Go types:
//     SQLite returns booleans as int64, SQL Server returns DECIMAL as []byte,
//     pgx returns TEXT as string and INT as int32/int64.
//   - A naive interface comparison would report every row as changed and issue
//     an UPDATE per row on every run.
//
// Behavior:
//   - nil equals only nil.
//   - Numeric and boolean values are compared numerically (true == 1).
//   - Text is compared byte-for-byte; a numeric string equals a number with the
//     same value.
//   - time.Time values are compared at day granularity against "YYYY-MM-DD" text.
func EqualValue(stored, incoming any) bool {
	if stored == nil || incoming == nil {
		return stored == nil && incoming == nil
	}

	if st, ok := stored.(time.Time); ok {
		return st.Format(DateLayout) == NormalizeKey(dateText(incoming))
	}
	if it, ok := incoming.(time.Time); ok {
		return it.Format(DateLayout) == NormalizeKey(dateText(stored))
	}

	sn, sNum := asFloat(stored)
	in, iNum := asFloat(incoming)
	switch {
	case sNum && iNum:
		return sn == in
	case sNum || iNum:
		// One side is text: compare numerically if the text parses.
		text := stored
		num := in
		if sNum {
			text, num = incoming, sn
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(asText(text)), 64)
		return err == nil && f == num
	}

	return asText(stored) == asText(incoming)
}

// AsInt64 converts a scanned integer-like value to int64.
func AsInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int32:
		return int64(t), nil
	case int:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(t)), 10, 64)
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	case nil:
		return 0, fmt.Errorf("storage: NULL where integer expected")
	default:
		return 0, fmt.Errorf("storage: cannot convert %T to int64", v)
	}
}

// AsDate converts a scanned date value to its "YYYY-MM-DD" form.
//
// Postgres and SQL Server return DATE as time.Time; SQLite stores it as TEXT.
func AsDate(v any) (string, error) {
	switch t := v.(type) {
	case time.Time:
		return t.Format(DateLayout), nil
	case string, []byte:
		s := asText(t)
		if len(s) >= len(DateLayout) {
			s = s[:len(DateLayout)]
		}
		if _, err := time.Parse(DateLayout, s); err != nil {
			return "", fmt.Errorf("storage: parse date %q: %w", asText(t), err)
		}
		return s, nil
	case nil:
		return "", fmt.Errorf("storage: NULL where date expected")
	default:
		return "", fmt.Errorf("storage: cannot convert %T to date", v)
	}
}

func dateText(v any) string {
	s := asText(v)
	if len(s) >= len(DateLayout) {
		return s[:len(DateLayout)]
	}
	return s
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

func asText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(v)
	}
}
