package exception

import (
	"fmt"

	"github.com/yanun0323/errors"
)

var (
	ErrStorageWrite  = errors.New("audit: storage write failed")
	ErrQueryParse    = errors.New("audit: malformed record")
	ErrValidation    = errors.New("audit: invalid event")
	ErrConfiguration = errors.New("invalid configuration")
)

// StorageWriteError reports a failed append to a partition file.
// It is logged and swallowed; producers never see it.
type StorageWriteError struct {
	Path string
	Err  error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorageWrite, e.Path, e.Err)
}

func (e *StorageWriteError) Unwrap() []error { return []error{ErrStorageWrite, e.Err} }

// QueryParseError reports a line that could not be decoded during a scan.
type QueryParseError struct {
	Path string
	Line int
	Err  error
}

func (e *QueryParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", ErrQueryParse, e.Err)
	}
	return fmt.Sprintf("%s: %s:%d: %v", ErrQueryParse, e.Path, e.Line, e.Err)
}

func (e *QueryParseError) Unwrap() []error { return []error{ErrQueryParse, e.Err} }

// ValidationError reports a missing or invalid field at event construction time.
type ValidationError struct {
	Kind   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s.%s %s", ErrValidation, e.Kind, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConfigurationError reports an unusable configuration value.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrConfiguration, e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }
