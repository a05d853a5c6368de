package controller

import (
	"strings"

	"github.com/dontdude/qdoas/internal/domain"
)

// ErrorReport is every message collected while handling one response batch.
type ErrorReport struct {
	// Level is the highest severity seen, the alarm level shown to the user.
	Level domain.Severity
	// Messages holds one multi-line string per severity bucket.
	Messages map[domain.Severity]string
}

func newErrorReport(entries []domain.ErrorEntry) (ErrorReport, bool) {
	level, ok := domain.HighestSeverity(entries)
	if !ok {
		return ErrorReport{}, false
	}
	buckets := make(map[domain.Severity][]string)
	for _, e := range entries {
		line := e.Message
		if e.Tag != "" {
			line = e.Tag + ": " + e.Message
		}
		buckets[e.Severity] = append(buckets[e.Severity], line)
	}
	r := ErrorReport{Level: level, Messages: make(map[domain.Severity]string, len(buckets))}
	for sev, lines := range buckets {
		r.Messages[sev] = strings.Join(lines, "\n")
	}
	return r, true
}

// String renders the buckets from the most to the least severe.
func (r ErrorReport) String() string {
	var sb strings.Builder
	for _, sev := range []domain.Severity{domain.Fatal, domain.Warning, domain.Information} {
		msg, ok := r.Messages[sev]
		if !ok {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(strings.ToUpper(sev.String()))
		sb.WriteByte('\n')
		sb.WriteString(msg)
	}
	return sb.String()
}
