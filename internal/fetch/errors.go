package fetch

import (
	"errors"
	"fmt"
)

var (
	// ErrBotBlocked marks responses rejected by a retailer's anti-automation layer.
	ErrBotBlocked = errors.New("bot blocked")
	// ErrClientError marks permanent 4xx responses.
	ErrClientError = errors.New("client error")
	// ErrTransient marks network and 5xx failures that outlived their retries.
	ErrTransient = errors.New("transient failure")
	// ErrPersistedQueryNotFound is returned when the server does not know a
	// persisted query hash and no query text is configured to fall back on.
	ErrPersistedQueryNotFound = errors.New("persisted query not found")
)

type BotBlockedError struct {
	Retailer string
	Status   int
	Reason   string
	Proxy    string
}

func (e *BotBlockedError) Error() string {
	return fmt.Sprintf("%s: bot blocked (status=%d reason=%s proxy=%s)", e.Retailer, e.Status, e.Reason, e.Proxy)
}

func (e *BotBlockedError) Is(target error) bool { return target == ErrBotBlocked }

type StatusError struct {
	Retailer string
	Status   int
	URL      string
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s returned %d: %s", e.Retailer, e.URL, e.Status, e.Body)
}

func (e *StatusError) Is(target error) bool { return target == ErrClientError }

func (e *StatusError) HTTPStatusCode() int { return e.Status }

type TransientError struct {
	Retailer string
	Attempts int
	Status   int
	Err      error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Retailer, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: giving up after %d attempts (last status %d)", e.Retailer, e.Attempts, e.Status)
}

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

func (e *TransientError) Unwrap() error { return e.Err }

// GraphQLError is one entry of a GraphQL "errors" array.
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// GraphQLErrors is returned when a response carries errors and no data.
type GraphQLErrors struct {
	Operation string
	Errors    []GraphQLError
}

func (e *GraphQLErrors) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("graphql %s: empty response", e.Operation)
	}
	return fmt.Sprintf("graphql %s: %s (+%d more)", e.Operation, e.Errors[0].Message, len(e.Errors)-1)
}
