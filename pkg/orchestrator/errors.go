package orchestrator

import (
	"encoding/json"
	"errors"
)

var (
	// ErrInvalidFormat is returned for formats other than rss, atom and json.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrUpstreamFetch wraps item fetcher failures.
	ErrUpstreamFetch = errors.New("upstream fetch failed")

	// ErrRender wraps renderer failures.
	ErrRender = errors.New("render failed")
)

// Error labels of the JSON error body.
const (
	errorLabelInvalidFormat = "Invalid format"
	errorLabelGenerate      = "Failed to generate feed"
)

// ErrorBody is the JSON body of error responses.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func errorJSON(label string, err error) string {
	body := ErrorBody{Error: label}
	if err != nil {
		body.Message = err.Error()
	}
	data, mErr := json.Marshal(body)
	if mErr != nil {
		return `{"error":"` + label + `"}`
	}
	return string(data)
}
