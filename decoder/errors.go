package decoder

import "errors"

// Reasons a line does not produce a Record. Use errors.Is to check them.
var (
	ErrEmptyLine      = errors.New("decoder: empty line")
	ErrInvalidUTF8    = errors.New("decoder: line is not valid UTF-8")
	ErrInvalidJSON    = errors.New("decoder: line is not a JSON object")
	ErrMissingTopic   = errors.New("decoder: topic field missing")
	ErrBadTopic       = errors.New("decoder: topic field has the wrong shape")
	ErrMissingPayload = errors.New("decoder: payload field missing")
	ErrBadPayload     = errors.New("decoder: payload is not a JSON object")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrEmptyLine, "empty_line"},
	{ErrInvalidUTF8, "invalid_utf8"},
	{ErrInvalidJSON, "invalid_json"},
	{ErrMissingTopic, "missing_topic"},
	{ErrBadTopic, "bad_topic"},
	{ErrMissingPayload, "missing_payload"},
	{ErrBadPayload, "bad_payload"},
}

// Kind returns a short stable label for a decode error, suitable for metrics
// and log fields. Errors not produced by this package map to "unknown".
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "unknown"
}
