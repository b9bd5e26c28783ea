package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// Severity grades a user-visible message.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Message is a notification surfaced to the presentation layer.
type Message struct {
	Severity Severity `json:"severity"`
	Text     string   `json:"text"`
}

// Failure is the single failure shape crossing the backend boundary.
// Message is always human readable; Err keeps the cause for errors.Is/As.
type Failure struct {
	Op      string `json:"op"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (f *Failure) Error() string {
	if f.Op == "" {
		return f.Message
	}
	return f.Op + ": " + f.Message
}

func (f *Failure) Unwrap() error { return f.Err }

// AsFailure converts any error into a *Failure. Nil stays nil.
func AsFailure(op string, err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	msg := err.Error()
	if msg == "" {
		msg = "Unknown error"
	}
	return &Failure{Op: op, Message: msg, Err: err}
}

func formatScalar(v any) string {
	switch x := v.(type) {
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}
