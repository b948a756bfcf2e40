package entity

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"
)

// CSRFHeader carries the anti-forgery token on every outgoing request.
const CSRFHeader = "X-CSRFToken"

var (
	// ErrTransport wraps network-level failures reported by a Transport.
	ErrTransport = errors.New("transport failure")
	// ErrRejected is reported when the server answered with a status other
	// than success.
	ErrRejected = errors.New("rejected by server")
	// ErrNotFound is reported by a fetch that matched no record.
	ErrNotFound = errors.New("record does not exist")
)

// Target is anything a request can be addressed to.
type Target interface {
	URL() string
}

// Request describes a single exchange with the backend.
type Request struct {
	Method string
	Params url.Values
	// Payload is JSON-encoded as the request body when set.
	Payload any
	Header  http.Header
	// Wait marks that local state is applied only after the server
	// answered.
	Wait bool
}

// Response is what came back from the backend.
type Response struct {
	Code   int
	Status Status
	PK     any
	Errors []string
	Body   []byte
}

// Succeeded reports whether the server confirmed the write.
func (r *Response) Succeeded() bool { return r != nil && r.Status == StatusSuccess }

// Transport performs the network exchange. It returns an error only for
// transport-level failures; logical rejections come back as a Response.
type Transport interface {
	Sync(ctx context.Context, target Target, req *Request) (*Response, error)
}

// Confirmer asks the user a yes/no question and reports true only if the
// user confirmed.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

// Status is the outcome shown in a notification.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
)

// Action is the kind of write a notification refers to.
type Action string

const (
	ActionSave   Action = "save"
	ActionDelete Action = "delete"
)

// NotifyOptions override the style of a notification.
type NotifyOptions struct {
	Text    string
	Type    string
	Layout  string
	Timeout time.Duration
}

// Notifier shows a transient notification. It is purely observational.
type Notifier interface {
	Notify(status Status, action Action, opts *NotifyOptions)
}

// TokenProvider supplies the CSRF token attached to outgoing requests.
type TokenProvider interface {
	CSRFToken() (string, error)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Status, Action, *NotifyOptions) {}

// Operation is a write or fetch in flight.
type Operation struct {
	done chan struct{}
	resp *Response
	err  error
}

func newOperation() *Operation {
	return &Operation{done: make(chan struct{})}
}

func (o *Operation) finish(resp *Response, err error) {
	o.resp, o.err = resp, err
	close(o.done)
}

// Done is closed once the operation completed and every event fired.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Wait blocks until the operation completed.
func (o *Operation) Wait() (*Response, error) {
	<-o.done
	return o.resp, o.err
}

// Err returns the outcome error; it is nil while the operation is pending.
func (o *Operation) Err() error {
	select {
	case <-o.done:
		return o.err
	default:
		return nil
	}
}
