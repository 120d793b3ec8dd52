package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// record is a column-name keyed row, used for tables whose column set varies
// between deployments (spv_config, spv_initial_params).
type record map[string]any

func scanRecord(rows pgx.Rows) (record, error) {
	values, err := rows.Values()
	if err != nil {
		return nil, err
	}
	fields := rows.FieldDescriptions()
	rec := make(record, len(fields))
	for i, fd := range fields {
		if i < len(values) {
			rec[strings.ToLower(fd.Name)] = values[i]
		}
	}
	return rec, nil
}

// str returns the first non-empty value among keys rendered as text.
func (r record) str(keys ...string) string {
	for _, key := range keys {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(asString(v))
		if s != "" {
			return s
		}
	}
	return ""
}

// num returns the first value among keys that coerces to a number.
func (r record) num(keys ...string) (float64, bool) {
	for _, key := range keys {
		if f, ok := toFloat(r[key]); ok {
			return f, true
		}
	}
	return 0, false
}

func (r record) numOr(def float64, keys ...string) float64 {
	if f, ok := r.num(keys...); ok {
		return f
	}
	return def
}

func (r record) dec(keys ...string) decimal.Decimal {
	if f, ok := r.num(keys...); ok {
		return decimal.NewFromFloat(f)
	}
	return decimal.Zero
}

func (r record) date(keys ...string) *time.Time {
	for _, key := range keys {
		switch v := r[key].(type) {
		case time.Time:
			t := v
			return &t
		case pgtype.Date:
			if v.Valid {
				t := v.Time
				return &t
			}
		case string:
			if t, ok := parseDueDate(v); ok {
				return &t
			}
		}
	}
	return nil
}

// jsonObject decodes a jsonb or text column holding an object.
func (r record) jsonObject(key string) record {
	switch v := r[key].(type) {
	case map[string]any:
		return record(v)
	case string:
		var out map[string]any
		if json.Unmarshal([]byte(v), &out) == nil {
			return record(out)
		}
	case []byte:
		var out map[string]any
		if json.Unmarshal(v, &out) == nil {
			return record(out)
		}
	}
	return record{}
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.DateOnly)
	case pgtype.Numeric:
		if f, ok := toFloat(t); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return ""
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// toFloat coerces driver values and loosely formatted text ("12.5%", "1,000") to float64.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case decimal.Decimal:
		return t.InexactFloat64(), true
	case pgtype.Numeric:
		if !t.Valid || t.NaN {
			return 0, false
		}
		f8, err := t.Float64Value()
		if err != nil || !f8.Valid {
			return 0, false
		}
		return f8.Float64, true
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(strings.TrimSuffix(strings.TrimSpace(t), "%"), ",", ""))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
