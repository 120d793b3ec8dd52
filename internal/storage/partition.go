package storage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultPartitionPrefix is the monthly delinquency snapshot table prefix.
const DefaultPartitionPrefix = "calc_overdue"

// PartitionName returns the table holding snapshots for t's month, e.g. calc_overdue_y2024m04.
func PartitionName(prefix string, t time.Time) string {
	return fmt.Sprintf("%s_y%04dm%02d", prefix, t.Year(), int(t.Month()))
}

// ParsePartition extracts the month a partition table covers.
func ParsePartition(prefix, name string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(name, prefix+"_y")
	if !ok || len(rest) != 7 || rest[4] != 'm' {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(rest[:4])
	if err != nil {
		return time.Time{}, false
	}
	month, err := strconv.Atoi(rest[5:])
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), true
}

// sortMonthsDesc orders month starts newest first.
func sortMonthsDesc(months []time.Time) {
	sort.Slice(months, func(i, j int) bool { return months[i].After(months[j]) })
}
