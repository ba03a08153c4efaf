// Package sentinel defines the error kinds shared by the lifecycle manager,
// the audit recorder and the log sinks. Callers wrap them with fmt.Errorf and
// match them with errors.Is.
package sentinel

import "errors"

var (
	// ErrNotFound is returned when an entity or record is absent or hidden
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an id is already taken
	ErrDuplicate = errors.New("duplicate")

	// ErrArgument is returned for validation, diff and merge failures
	ErrArgument = errors.New("invalid argument")

	// ErrDatabase is returned when the repository reports a failure
	ErrDatabase = errors.New("database error")

	// ErrNotImplemented is returned when a sink lacks a capability or an item type is unmapped
	ErrNotImplemented = errors.New("not implemented")

	// ErrParse is returned for malformed rotation file names
	ErrParse = errors.New("parse error")

	// ErrConfiguration is returned for unusable configuration. It is fatal at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrLogging is returned when a strict sink fails to persist an artifact
	ErrLogging = errors.New("logging error")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrNotFound, "NotFound"},
	{ErrDuplicate, "Duplicate"},
	{ErrArgument, "Argument"},
	{ErrDatabase, "DatabaseError"},
	{ErrNotImplemented, "NotImplemented"},
	{ErrParse, "Parse"},
	{ErrConfiguration, "Configuration"},
	{ErrLogging, "Logging"},
}

// Kind returns the name of the first sentinel err wraps, or "Unknown"
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Unknown"
}

// IsNotFound reports whether err wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
