package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func invalidPage(page string) *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_PAGE", "page must be a lowercase slug", map[string]any{"page": page})
}

func staleForm(current string) *DomainError {
	return domainError(http.StatusPreconditionFailed, "STALE_FORM", "Comments changed since they were loaded", map[string]any{"etag": current})
}

func historyUnavailable() *DomainError {
	return domainError(http.StatusNotImplemented, "HISTORY_UNAVAILABLE", "The storage backend keeps no history", nil)
}
