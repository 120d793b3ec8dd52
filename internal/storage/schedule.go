package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type scheduleElem struct {
	Term         json.RawMessage     `json:"term"`
	Period       json.RawMessage     `json:"period"`
	DueDate      string              `json:"due_date"`
	Principal    decimal.NullDecimal `json:"principal"`
	PrincipalDue decimal.NullDecimal `json:"principal_due"`
	Interest     decimal.NullDecimal `json:"interest"`
	InterestDue  decimal.NullDecimal `json:"interest_due"`
}

// ParseSchedule decodes raw_loan.repayment_schedule. The document is either
// {"schedule": [...]} or a bare array; items without a due date are skipped.
func ParseSchedule(raw []byte) ([]ScheduleItem, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var elems []json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, fmt.Errorf("decode schedule: %w", err)
		}
	} else {
		var doc struct {
			Schedule []json.RawMessage `json:"schedule"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode schedule: %w", err)
		}
		elems = doc.Schedule
	}

	items := make([]ScheduleItem, 0, len(elems))
	for _, rawElem := range elems {
		var elem scheduleElem
		if err := json.Unmarshal(rawElem, &elem); err != nil {
			// non-object entries are ignored
			continue
		}
		due, ok := parseDueDate(elem.DueDate)
		if !ok {
			continue
		}
		period, _ := flexInt(elem.Term)
		if period == 0 {
			period, _ = flexInt(elem.Period)
		}
		items = append(items, ScheduleItem{
			Period:       period,
			DueDate:      due,
			PrincipalDue: firstValid(elem.Principal, elem.PrincipalDue),
			InterestDue:  firstValid(elem.Interest, elem.InterestDue),
		})
	}
	return items, nil
}

func parseDueDate(s string) (time.Time, bool) {
	if len(s) < 10 {
		return time.Time{}, false
	}
	t, err := time.Parse(time.DateOnly, s[:10])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func flexInt(raw json.RawMessage) (int, bool) {
	s := string(bytes.Trim(bytes.TrimSpace(raw), `"`))
	if s == "" || s == "null" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int(f), true
}

func firstValid(values ...decimal.NullDecimal) decimal.Decimal {
	for _, v := range values {
		if v.Valid {
			return v.Decimal
		}
	}
	return decimal.Zero
}
