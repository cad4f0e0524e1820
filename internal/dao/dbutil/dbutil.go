package dbutil

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// ParamSummary describes a parameter for error messages without leaking its
// value: null, empty, len=N for strings and slices, the number itself for
// integers, and zero-time/non-zero-time for timestamps.
func ParamSummary(name string, v any) string {
	switch x := v.(type) {
	case nil:
		return name + "=null"
	case sql.NullString:
		if !x.Valid {
			return name + "=null"
		}
		return summarizeString(name, x.String)
	case sql.NullInt64:
		if !x.Valid {
			return name + "=null"
		}
		return fmt.Sprintf("%s=%d", name, x.Int64)
	case sql.NullTime:
		if !x.Valid {
			return name + "=null"
		}
		return summarizeTime(name, x.Time)
	case time.Time:
		return summarizeTime(name, x)
	case []byte:
		if x == nil {
			return name + "=null"
		}
		return fmt.Sprintf("%s=len=%d", name, len(x))
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return name + "=null"
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.String:
		return summarizeString(name, rv.String())
	case reflect.Slice, reflect.Array, reflect.Map:
		return fmt.Sprintf("%s=len=%d", name, rv.Len())
	case reflect.Bool:
		return fmt.Sprintf("%s=%t", name, rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fmt.Sprintf("%s=%d", name, rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fmt.Sprintf("%s=%d", name, rv.Uint())
	case reflect.Float32, reflect.Float64:
		return fmt.Sprintf("%s=%g", name, rv.Float())
	default:
		return fmt.Sprintf("%s=%s", name, rv.Kind())
	}
}

func summarizeString(name, s string) string {
	if s == "" {
		return name + "=empty"
	}
	return fmt.Sprintf("%s=len=%d", name, len(s))
}

func summarizeTime(name string, t time.Time) string {
	if t.IsZero() {
		return name + "=zero-time"
	}
	return name + "=non-zero-time"
}

// ErrWrap returns err labelled with an operation and optional summaries.
// Example: ErrWrap("export.batch", err, ParamSummary("type", typ), ParamSummary("batch", n))
func ErrWrap(op string, err error, parts ...string) error {
	if err == nil {
		return nil
	}
	if len(parts) == 0 {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w; %s", op, err, strings.Join(parts, ","))
}
