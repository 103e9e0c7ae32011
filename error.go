package deepfilternet

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidState is returned if pipeline method cannot be executed at this moment.
var ErrInvalidState = errors.New("invalid state")

type (
	// ArtifactNotFoundError is returned when base directory, config or
	// model files are missing.
	ArtifactNotFoundError struct {
		Path string
	}

	// ChannelError is returned when processing of a channel failed.
	ChannelError struct {
		Channel int
		Frame   int
		Err     error
	}

	// StreamError wraps errors of all failed channels.
	StreamError []*ChannelError
)

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("artifact not found: %s", e.Path)
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %d frame %d: %v", e.Channel, e.Frame, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

func (e StreamError) Error() string {
	s := []string{}
	for _, ce := range e {
		s = append(s, ce.Error())
	}
	return strings.Join(s, ", ")
}

// Unwrap returns errors of failed channels.
func (e StreamError) Unwrap() []error {
	errs := make([]error, len(e))
	for i, ce := range e {
		errs[i] = ce
	}
	return errs
}

// ret returns untyped nil if error list is empty.
func (e StreamError) ret() error {
	if len(e) > 0 {
		return e
	}
	return nil
}
