package server

import (
	"fmt"

	"github.com/Sternrassler/bitrix-report/pkg/bitrix"
	"github.com/cockroachdb/errors"
)

// ErrorPayload is the diagnostic body of a 500 response.
type ErrorPayload struct {
	Error string `json:"error"`
	Type  string `json:"type"`
	File  string `json:"file"`
	Line  int    `json:"line"`
}

// NewErrorPayload describes err: its message, the type of the failure and the
// innermost recorded source location.
func NewErrorPayload(err error) ErrorPayload {
	p := ErrorPayload{
		Error: err.Error(),
		Type:  errorType(err),
	}
	if p.Error == "" {
		p.Error = "internal error"
	}

	if file, line, _, ok := errors.GetOneLineSource(err); ok {
		p.File = file
		p.Line = line
	}

	return p
}

func errorType(err error) string {
	var apiErr *bitrix.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("%T", apiErr)
	}
	return fmt.Sprintf("%T", errors.UnwrapAll(err))
}
