package infer

import (
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// DateLayout pairs a Go layout with its strftime spelling for reports.
type DateLayout struct {
	Layout   string
	Strftime string
}

// DateLayouts is the ordered fallback list tried after flexible parsing.
var DateLayouts = []DateLayout{
	{"2006-1-2", "%Y-%m-%d"},
	{"2/1/2006", "%d/%m/%Y"},
	{"1/2/2006", "%m/%d/%Y"},
	{"2-1-2006", "%d-%m-%Y"},
	{"1-2-2006", "%m-%d-%Y"},
	{"2006.1.2", "%Y.%m.%d"},
	{"2.1.2006", "%d.%m.%Y"},
	{"2 Jan 2006", "%d %b %Y"},
	{"Jan 2, 2006", "%b %d, %Y"},
	{"20060102", "%Y%m%d"},
	{"02012006", "%d%m%Y"},
}

// ParseDate tries a flexible parse, then each of DateLayouts in order.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, ok := parseFlexible(s); ok {
		return t, true
	}
	for _, l := range DateLayouts {
		if t, err := time.Parse(l.Layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseFlexible wraps dateparse, which panics on some malformed inputs.
func parseFlexible(s string) (t time.Time, ok bool) {
	defer func() {
		if recover() != nil {
			t, ok = time.Time{}, false
		}
	}()
	parsed, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// looksTemporal filters out bare numbers, which a flexible parser would
// otherwise read as years or epoch timestamps.
func looksTemporal(s string) bool {
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return false
	}
	return strings.ContainsAny(s, "-/.:, ") || strings.IndexFunc(s, isLetter) >= 0
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// detectDateFormat returns the strftime form of the first layout that
// parses every value, or "auto-detect".
func detectDateFormat(values []string) string {
	for _, l := range DateLayouts {
		all := len(values) > 0
		for _, v := range values {
			if _, err := time.Parse(l.Layout, v); err != nil {
				all = false
				break
			}
		}
		if all {
			return l.Strftime
		}
	}
	return "auto-detect"
}
