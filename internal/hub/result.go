package hub

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

var (
	// ErrTransport marks connection, DNS, timeout and cancellation failures.
	ErrTransport = errors.New("hub transport failure")
	// ErrDecode marks a response body that is not valid JSON, including an empty one.
	ErrDecode = errors.New("hub response is not valid JSON")
	// ErrStatus marks a non-2xx answer from the local hub endpoint.
	ErrStatus = errors.New("hub returned unexpected status")
)

type Route string

const (
	RouteCloud Route = "cloud"
	RouteLocal Route = "local"
)

// RequestError describes why a single hub call produced no value. Match the
// cause with errors.Is against ErrTransport, ErrDecode or ErrStatus.
type RequestError struct {
	Op         string
	Route      Route
	StatusCode int
	Kind       error
	Err        error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("%s (%s): %v", e.Op, e.Route, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" [HTTP %d]", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RequestError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Value is the JSON body returned by the hub.
type Value struct {
	Raw json.RawMessage
}

func (v Value) IsZero() bool {
	return len(v.Raw) == 0
}

func (v Value) Decode(dst any) error {
	if v.IsZero() {
		return fmt.Errorf("empty value")
	}
	return json.Unmarshal(v.Raw, dst)
}

// Query evaluates a JSONPath expression such as "$.deviceList[*].deviceid"
// against the value.
func (v Value) Query(expr string) ([]any, error) {
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, fmt.Errorf("parse jsonpath %q: %w", expr, err)
	}
	if v.IsZero() {
		return nil, nil
	}
	data, err := oj.Parse(v.Raw)
	if err != nil {
		return nil, err
	}
	return x.Get(data), nil
}

// First returns the first match of expr, if any.
func (v Value) First(expr string) (any, bool) {
	matches, err := v.Query(expr)
	if err != nil || len(matches) == 0 {
		return nil, false
	}
	return matches[0], true
}

func (v Value) String() string {
	return string(v.Raw)
}
