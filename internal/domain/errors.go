package domain

import "errors"

// Severity is the ordinal level of an engine message.
type Severity int

const (
	Information Severity = iota
	Warning
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Information:
		return "information"
	case Warning:
		return "warning"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ErrorEntry is a single message attached to a response.
type ErrorEntry struct {
	Tag      string   `json:"tag"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// HighestSeverity returns the highest severity in entries and false when entries is empty.
func HighestSeverity(entries []ErrorEntry) (Severity, bool) {
	if len(entries) == 0 {
		return Information, false
	}
	level := Information
	for _, e := range entries {
		if e.Severity > level {
			level = e.Severity
		}
	}
	return level, true
}

// HasFatal reports whether any entry is Fatal.
func HasFatal(entries []ErrorEntry) bool {
	level, ok := HighestSeverity(entries)
	return ok && level == Fatal
}

var (
	// ErrNoProject is returned by the engine when spectra are accessed before a project is set.
	ErrNoProject = errors.New("no project has been set")
	// ErrNoFile is returned when a record is requested without an open file.
	ErrNoFile = errors.New("no file is open")
	// ErrRecordOutOfRange is returned when a specific record does not exist.
	ErrRecordOutOfRange = errors.New("record out of range")
	// ErrModeMismatch is returned when the open file was begun in another mode.
	ErrModeMismatch = errors.New("file was opened in another mode")
)
