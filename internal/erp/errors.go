package erp

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrInvalidID is returned when an identifier cannot be safely placed in a
// URL path or SuiteQL statement.
var ErrInvalidID = errors.New("erp: invalid identifier")

// Error describes a non-2xx ERP response.
type Error struct {
	Op     string
	Status int
	Body   string
}

func (e *Error) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("erp: %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("erp: %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Detail returns the text surfaced to customers: the ERP body when present,
// otherwise the HTTP status text.
func (e *Error) Detail() string {
	if body := strings.TrimSpace(e.Body); body != "" {
		return body
	}
	if text := http.StatusText(e.Status); text != "" {
		return text
	}
	return fmt.Sprintf("status %d", e.Status)
}

// Detail extracts a customer-facing message from any ERP call error.
func Detail(err error) string {
	var erpErr *Error
	if errors.As(err, &erpErr) {
		return erpErr.Detail()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
