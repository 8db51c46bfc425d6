package handlers

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rcliao/ragmcp/internal/errs"
	"github.com/rcliao/ragmcp/internal/model"
)

var ttlPattern = regexp.MustCompile(`^(\d+)([dhmy])$`)

// validateTags requires a list of non-empty strings, trimming each.
func validateTags(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		trimmed := strings.TrimSpace(t)
		if trimmed == "" {
			return nil, errs.NewError(errs.CodeValidation, "tags must not contain empty strings", false)
		}
		out = append(out, trimmed)
	}
	return out, nil
}

// validateMemoryType rejects memorize_text type values other than "memory",
// "lesson", and "note"; "file" is reserved for ingest_file. Empty is allowed
// and means unset.
func validateMemoryType(t string) error {
	if t == "" {
		return nil
	}
	if !model.ValidMemoryTypes[t] || t == "file" {
		return errs.NewError(errs.CodeValidation, "unknown memoryType: "+t, false)
	}
	return nil
}

// validSearchTypes are the filter values accepted by query_documents and
// list_files' type parameter.
var validSearchTypes = map[string]bool{"": true, "all": true, "file": true, "memory": true}

func validateSearchType(t string) error {
	if !validSearchTypes[t] {
		return errs.NewError(errs.CodeValidation, "unknown type filter: "+t, false)
	}
	return nil
}

// updateMode enumerates update_memory's merge strategy.
type updateMode string

const (
	modeReplace updateMode = "replace"
	modeAppend  updateMode = "append"
	modePrepend updateMode = "prepend"
)

func validateUpdateMode(raw string) (updateMode, error) {
	if raw == "" {
		return modeReplace, nil
	}
	switch updateMode(raw) {
	case modeReplace, modeAppend, modePrepend:
		return updateMode(raw), nil
	default:
		return "", errs.NewError(errs.CodeValidation, "unknown update mode: "+raw, false)
	}
}

// validateMinScore rejects values outside [0, 2].
func validateMinScore(v float64, has bool) error {
	if !has {
		return nil
	}
	if v < 0 || v > 2 {
		return errs.NewError(errs.CodeValidation, "minScore must be in [0, 2]", false)
	}
	return nil
}

// validateQueryLimit rejects a query_documents limit outside [1, 20].
func validateQueryLimit(limit int) error {
	if limit < 1 || limit > 20 {
		return errs.NewError(errs.CodeValidation, "limit must be in [1, 20]", false)
	}
	return nil
}

// parseTTL parses "permanent" (no expiry) or `^\d+[dhmy]$` and applies it to
// now via calendar arithmetic for month/year units, so "1m" from Jan 31
// lands on Feb 28/29 rather than a fixed 30-day window.
func parseTTL(raw string, now time.Time) (*time.Time, error) {
	if raw == "" || raw == "permanent" {
		return nil, nil
	}
	m := ttlPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, errs.NewError(errs.CodeValidation, "invalid ttl format, expected permanent or \\d+[dhmy]", false)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, errs.NewError(errs.CodeValidation, "invalid ttl quantity", false)
	}

	var t time.Time
	switch m[2] {
	case "d":
		t = now.AddDate(0, 0, n)
	case "h":
		t = now.Add(time.Duration(n) * time.Hour)
	case "m":
		t = addMonthsClamped(now, n)
	case "y":
		t = addMonthsClamped(now, n*12)
	}
	return &t, nil
}

// addMonthsClamped adds n months to t, clamping to the target month's last
// day when t's day-of-month doesn't exist there (e.g. Jan 31 + 1m = Feb 28)
// instead of letting time.AddDate overflow into the following month.
func addMonthsClamped(t time.Time, n int) time.Time {
	firstOfMonth := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	target := firstOfMonth.AddDate(0, n, 0)
	lastDay := target.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(target.Year(), target.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
