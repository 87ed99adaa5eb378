package exporter

import "fmt"

// Result is the outcome of a send: either the HTTP status the server answered
// with, or a message describing why no answer was obtained.
type Result struct {
	status uint32
	msg    string
	failed bool
}

// Success returns a Result carrying an HTTP status code.
func Success(status uint32) Result {
	return Result{status: status}
}

// Failure returns a Result carrying an error message.
func Failure(msg string) Result {
	return Result{msg: msg, failed: true}
}

// OK reports whether r is a Success. A Success does not imply a 2xx status.
func (r Result) OK() bool { return !r.failed }

// HTTPStatus returns the status of a Success, 0 for a Failure.
func (r Result) HTTPStatus() uint32 { return r.status }

// Message returns the message of a Failure, "" for a Success.
func (r Result) Message() string { return r.msg }

func (r Result) String() string {
	if r.failed {
		return "error: " + r.msg
	}
	return fmt.Sprintf("ok: %d", r.status)
}
