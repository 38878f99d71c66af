package infra

import (
	"errors"

	"github.com/goccy/go-json"

	"kalshi_go/internal/orderbook"
)

// ErrorClass groups failures by how the system reacts to them.
type ErrorClass string

const (
	ClassTransientNetwork  ErrorClass = "transient_network"
	ClassProtocolDesync    ErrorClass = "protocol_desync"
	ClassUpstreamRejection ErrorClass = "upstream_rejection"
	ClassDataQuality       ErrorClass = "data_quality"
	ClassFatal             ErrorClass = "fatal"
)

var (
	// ErrAuthRejected is returned when a venue refuses our credentials.
	ErrAuthRejected = errors.New("authentication rejected")
	// ErrUpstreamRejected marks a single call the venue refused.
	ErrUpstreamRejected = errors.New("upstream rejected request")
	// ErrMalformed marks an inbound message that could not be decoded.
	ErrMalformed = errors.New("malformed message")
	// ErrStale marks data that is too old to use.
	ErrStale = errors.New("stale data")
	// ErrInvalidConfig marks a violated configuration invariant.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrFeedHalted is reported when a feed stops retrying.
	ErrFeedHalted = errors.New("feed halted")
)

// Classify maps an error onto its ErrorClass. Unknown errors are treated as transient.
// A single auth failure is an upstream rejection; feeds escalate persistent ones to Fatal themselves.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrFeedHalted):
		return ClassFatal
	case errors.Is(err, ErrAuthRejected), errors.Is(err, ErrUpstreamRejected):
		return ClassUpstreamRejection
	case errors.Is(err, ErrStale):
		return ClassDataQuality
	case errors.Is(err, ErrMalformed), orderbook.NeedsResync(err):
		return ClassProtocolDesync
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return ClassProtocolDesync
	}

	return ClassTransientNetwork
}
