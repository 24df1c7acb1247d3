package session

import (
	"errors"
	"fmt"
)

// Messages shown to API clients.
const (
	QueryParam         = "No query statement found. Please provide a query entry such as '/query?statement=SELECT * FROM table'"
	DatabaseParam      = "No database entry found. Please provide a database entry such as '/endpoint?database=database_name"
	TablesParam        = "No tables entry found. Please provide a tables entry such as '/preview?tables=table1,table2... ]"
	SessionParam       = "No session entry found. Please provide a session entry such as '/deletesession?session=sessionID"
	NonExistentSession = "No such session entry found. Please provide a session value that has been created. You can obtain the list of available sessions at the end poitn /v1/sessions"
	AppNotConnected    = "There seems to be no connection at the moment. Please try connecting the application to your database."
)

func APIVersion(apiVersion string) string {
	return fmt.Sprintf("Api version [%s] is not implemented", apiVersion)
}

func TaskNotImplemented(task string) string {
	return fmt.Sprintf("Task %s is not implemented.", task)
}

func Authentication(err error) string {
	return fmt.Sprintf("Authentication failed. Make sure you are connected %s", errorText(err))
}

// ConnectionErrorName tags errors caused by an unreachable datastore.
const ConnectionErrorName = "ConnectionError"

// Error is the object sent to the UI as {"error": ...}.
type Error struct {
	Message string `json:"message"`
	Name    string `json:"name,omitempty"`
	Type    string `json:"type,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

func NewError(message string) *Error {
	return &Error{Message: message}
}

func NewConnectionError(message string) *Error {
	return &Error{Message: message, Name: ConnectionErrorName}
}

// raisedError marks an error whose 400 response was already sent.
type raisedError struct {
	err error
}

func (r *raisedError) Error() string { return r.err.Error() }
func (r *raisedError) Unwrap() error { return r.err }

// IsRaised reports whether err has already been reported to the requester.
func IsRaised(err error) bool {
	var r *raisedError
	return errors.As(err, &r)
}
