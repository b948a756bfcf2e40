// Package entity implements the client-side record: change tracking
// against a server-confirmed baseline, partial-update payloads and the
// reconciliation of local state with the outcome of each write.
package entity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	json "github.com/goccy/go-json"

	"recordsync/internal/shared/models"
)

// Record is a single entity of a Descriptor's type.
type Record struct {
	desc      *Descriptor
	transport Transport
	tokens    TokenProvider
	notifier  Notifier
	confirmer Confirmer
	params    url.Values
	events    emitter

	mu          sync.Mutex
	id          any
	server      Attributes
	current     Attributes
	displayName *string
}

// Option configures a Record.
type Option func(*Record)

func WithTokens(tp TokenProvider) Option { return func(r *Record) { r.tokens = tp } }
func WithNotifier(n Notifier) Option     { return func(r *Record) { r.notifier = n } }
func WithConfirmer(c Confirmer) Option   { return func(r *Record) { r.confirmer = c } }

// WithRequestParams sets the query used by Fetch when it is called
// without parameters.
func WithRequestParams(p url.Values) Option { return func(r *Record) { r.params = p } }

// WithID creates the record with a known identity.
func WithID(id any) Option {
	return func(r *Record) {
		r.id = id
		r.current[r.desc.idAttribute] = Scalar(id)
		r.server[r.desc.idAttribute] = Scalar(id)
	}
}

// New returns an empty record of desc's type bound to transport.
func New(desc *Descriptor, transport Transport, opts ...Option) *Record {
	r := &Record{
		desc:      desc,
		transport: transport,
		notifier:  nopNotifier{},
		server:    Attributes{},
		current:   Attributes{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Descriptor returns the record's type.
func (r *Record) Descriptor() *Descriptor { return r.desc }

// On registers fn for the named event and returns a function removing it.
func (r *Record) On(name EventName, fn Handler) func() { return r.events.on(name, fn) }

func (r *Record) emit(name EventName, resp *Response) {
	r.events.emit(Event{Name: name, Record: r, Response: resp})
}

// ID returns the record's identity, nil for a new record.
func (r *Record) ID() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

// IsNew reports whether the record has not been created on the server.
func (r *Record) IsNew() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isNewLocked()
}

func (r *Record) isNewLocked() bool {
	switch id := r.id.(type) {
	case nil:
		return true
	case string:
		return id == ""
	}
	return false
}

// URL is the record's endpoint: the type's root for a new record, the
// root plus the identity otherwise.
func (r *Record) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isNewLocked() {
		return r.desc.URLRoot()
	}
	return r.desc.URLRoot() + url.PathEscape(formatID(r.id))
}

// formatID renders an identity for URLs and lookups. Numbers are written
// in plain decimal form, so a pk decoded as float64 1234567 stays
// "1234567".
func formatID(id any) string {
	if d, ok := asDecimal(id); ok {
		return d.String()
	}
	return fmt.Sprint(id)
}

// Get returns the current value of key.
func (r *Record) Get(key string) (Value, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.current[key]
	return v, ok
}

// Set changes a current value. The baseline is untouched.
func (r *Record) Set(key string, v Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setLocked(key, v)
}

// SetAll changes several current values at once.
func (r *Record) SetAll(attrs Attributes) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range attrs {
		r.setLocked(k, v)
	}
}

func (r *Record) setLocked(key string, v Value) {
	r.current[key] = v
	if key == r.desc.idAttribute {
		r.id = v.Resolve()
	}
}

// Current returns a copy of the current attributes.
func (r *Record) Current() Attributes {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current.Clone()
}

// Server returns a copy of the last server-confirmed attributes.
func (r *Record) Server() Attributes {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.server.Clone()
}

// Changed returns the current values that differ from the baseline.
func (r *Record) Changed() Attributes {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.diffLocked(r.current)
}

// DisplayName returns the server-supplied label, or the type's verbose
// name when the server did not send one.
func (r *Record) DisplayName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.displayName == nil {
		return r.desc.verboseName
	}
	return *r.displayName
}

// ParseServerResponse extracts attributes from a server envelope. A list
// answer with no results emits EventRecordNotExist and returns ok=false;
// a list answer with one result is unwrapped; anything else is read as a
// single record. The display name, if any, is captured on the record.
func (r *Record) ParseServerResponse(body []byte) (attrs Attributes, ok bool, err error) {
	var env models.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, false, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Count != nil {
		switch *env.Count {
		case 0:
			r.emit(EventRecordNotExist, nil)
			return nil, false, nil
		case 1:
			if len(env.Results) != 1 {
				return nil, false, errors.New("count is 1 but results hold no record")
			}
			env = env.Results[0]
		default:
			return nil, false, fmt.Errorf("expected a single record, server matched %d", *env.Count)
		}
	}

	attrs = make(Attributes, len(env.Fields)+1)
	for k, v := range env.Fields {
		attrs[k] = r.desc.wrap(k, v)
	}
	attrs[r.desc.idAttribute] = Scalar(env.PK)

	r.mu.Lock()
	r.displayName = env.Unicode
	r.mu.Unlock()
	return attrs, true, nil
}

// ComputeDiff returns the candidate values whose resolved value differs
// from the resolved baseline value. Differing keys keep the candidate's
// raw value.
func (r *Record) ComputeDiff(candidate Attributes) Attributes {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.diffLocked(candidate)
}

func (r *Record) diffLocked(candidate Attributes) Attributes {
	changed := Attributes{}
	for k, v := range candidate {
		base, ok := r.server[k]
		if !ok || !Equal(base, v) {
			changed[k] = v
		}
	}
	return changed
}

// ShapeForTransmission replaces every reference with its storage value,
// or with an explicit null when the reference is cleared. Scalars pass
// through. attrs is modified in place and returned.
func ShapeForTransmission(attrs Attributes) Attributes {
	for k, v := range attrs {
		if !v.IsReference() {
			continue
		}
		if v.Empty() {
			attrs[k] = Scalar(nil)
		} else {
			attrs[k] = Scalar(v.Resolve())
		}
	}
	return attrs
}

// proposal is the pending half of a write: exactly one of confirm or
// reject is applied once the server answered.
type proposal struct {
	r        *Record
	sent     Attributes
	snapshot Attributes
	wasNew   bool
}

func (r *Record) proposeLocked(sent Attributes) *proposal {
	return &proposal{r: r, sent: sent, snapshot: r.current.Clone(), wasNew: r.isNewLocked()}
}

// confirm folds the sent values into the baseline. Current values are
// updated too, except for keys the user changed while the write was in
// flight.
func (p *proposal) confirm(resp *Response) {
	r := p.r
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range p.sent {
		r.server[k] = v
		cur, inCur := r.current[k]
		before, inSnap := p.snapshot[k]
		if inCur == inSnap && (!inCur || identical(cur, before)) {
			r.current[k] = v
		}
	}
	if p.wasNew && resp != nil && resp.PK != nil && r.isNewLocked() {
		r.id = resp.PK
		r.server[r.desc.idAttribute] = Scalar(resp.PK)
		r.current[r.desc.idAttribute] = Scalar(resp.PK)
	}
}

// reject restores the current values held when the write began.
func (p *proposal) reject() {
	r := p.r
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = p.snapshot.Clone()
	if p.wasNew {
		r.id = nil
	} else if v, ok := r.current[r.desc.idAttribute]; ok {
		r.id = v.Resolve()
	}
}

func identical(a, b Value) bool { return a.kind == b.kind && Equal(a, b) }

type writeOptions struct {
	notify     bool
	notifyOpts *NotifyOptions
	ask        bool
}

// WriteOption configures Save and Destroy.
type WriteOption func(*writeOptions)

// WithNotify shows a notification for the server's answer.
func WithNotify() WriteOption { return func(o *writeOptions) { o.notify = true } }

// WithNotifyOptions overrides the style of notifications.
func WithNotifyOptions(opts NotifyOptions) WriteOption {
	return func(o *writeOptions) { o.notifyOpts = &opts }
}

// WithAsk makes Destroy ask for confirmation before anything is sent.
func WithAsk() WriteOption { return func(o *writeOptions) { o.ask = true } }

func collectOptions(opts []WriteOption) writeOptions {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Save sends the record's changes. With explicit nil the whole current
// snapshot is the candidate. A record that exists on the server only
// sends the keys that differ from the baseline, plus its identity. When
// nothing is left to send Save emits EventNotChanged and returns false
// without touching the transport.
func (r *Record) Save(ctx context.Context, explicit Attributes, opts ...WriteOption) (*Operation, bool) {
	o := collectOptions(opts)

	r.mu.Lock()
	var attrs Attributes
	if explicit == nil {
		attrs = r.current.Clone()
	} else {
		attrs = explicit.Clone()
	}
	isNew := r.isNewLocked()
	if !isNew {
		attrs = r.diffLocked(attrs)
		if len(attrs) > 0 {
			attrs[r.desc.idAttribute] = Scalar(r.id)
		}
	}
	sent := attrs.Clone()
	payload := ShapeForTransmission(attrs)
	if len(payload) == 0 {
		r.mu.Unlock()
		r.emit(EventNotChanged, nil)
		return nil, false
	}
	p := r.proposeLocked(sent)
	r.mu.Unlock()

	method := http.MethodPut
	if isNew {
		method = http.MethodPost
	}
	req := &Request{
		Method: method,
		Payload: models.SaveRequest{
			Data:    []map[string]any{payload.Plain()},
			PKField: r.desc.idAttribute,
		},
		Wait: true,
	}

	op := newOperation()
	go func() {
		resp, err := r.dispatch(ctx, req)
		if err != nil {
			p.reject()
			r.notifier.Notify(StatusFail, ActionSave, o.notifyOpts)
			r.emit(EventSaveFail, resp)
			op.finish(resp, err)
			return
		}
		if o.notify {
			r.notifier.Notify(outcome(resp), ActionSave, o.notifyOpts)
		}
		if resp.Succeeded() {
			p.confirm(resp)
			r.emit(EventSaveSuccess, resp)
			op.finish(resp, nil)
			return
		}
		p.reject()
		r.emit(EventSaveFail, resp)
		op.finish(resp, ErrRejected)
	}()
	return op, true
}

// Destroy deletes the record on the server. With WithAsk the user is
// asked first, and a declined confirmation sends nothing and emits
// nothing. A new record has nothing to delete remotely: it emits
// EventDeleteSuccess without a request.
func (r *Record) Destroy(ctx context.Context, opts ...WriteOption) (*Operation, bool) {
	o := collectOptions(opts)

	if o.ask {
		if r.confirmer == nil {
			return nil, false
		}
		prompt := fmt.Sprintf("Are you sure you want to delete %q?", r.DisplayName())
		if !r.confirmer.Confirm(ctx, prompt) {
			return nil, false
		}
	}

	if r.IsNew() {
		r.emit(EventDeleteSuccess, nil)
		return nil, false
	}

	req := &Request{Method: http.MethodDelete, Wait: true}
	op := newOperation()
	go func() {
		resp, err := r.dispatch(ctx, req)
		if err != nil {
			r.notifier.Notify(StatusFail, ActionDelete, o.notifyOpts)
			r.emit(EventDeleteFail, resp)
			op.finish(resp, err)
			return
		}
		if o.notify {
			r.notifier.Notify(outcome(resp), ActionDelete, o.notifyOpts)
		}
		if resp.Succeeded() {
			r.emit(EventDeleteSuccess, resp)
			op.finish(resp, nil)
			return
		}
		r.emit(EventDeleteFail, resp)
		op.finish(resp, ErrRejected)
	}()
	return op, true
}

// Fetch loads the record from the server. Nil params fall back to the
// params given with WithRequestParams. On success the parsed attributes
// become both the baseline and the current values.
func (r *Record) Fetch(ctx context.Context, params url.Values) *Operation {
	if params == nil {
		params = r.params
	}
	req := &Request{Method: http.MethodGet, Params: params}
	op := newOperation()
	go func() {
		resp, err := r.dispatch(ctx, req)
		if err != nil {
			r.emit(EventError, resp)
			op.finish(resp, err)
			return
		}
		attrs, ok, err := r.ParseServerResponse(resp.Body)
		if err != nil {
			r.emit(EventError, resp)
			op.finish(resp, err)
			return
		}
		if !ok {
			op.finish(resp, ErrNotFound)
			return
		}
		r.reset(attrs)
		r.emit(EventSync, resp)
		op.finish(resp, nil)
	}()
	return op
}

// reset replaces both the baseline and the current values.
func (r *Record) reset(attrs Attributes) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.server = attrs.Clone()
	r.current = attrs.Clone()
	if v, ok := attrs[r.desc.idAttribute]; ok {
		r.id = v.Resolve()
	}
}

// dispatch attaches the CSRF token and hands req to the transport.
// Every failure to get an answer is reported wrapped in ErrTransport.
func (r *Record) dispatch(ctx context.Context, req *Request) (*Response, error) {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if r.tokens != nil {
		token, err := r.tokens.CSRFToken()
		if err != nil {
			return nil, fmt.Errorf("%w: csrf token: %v", ErrTransport, err)
		}
		req.Header.Set(CSRFHeader, token)
	}
	resp, err := r.transport.Sync(ctx, r, req)
	if err != nil {
		if errors.Is(err, ErrTransport) {
			return resp, err
		}
		return resp, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrTransport)
	}
	return resp, nil
}

func outcome(resp *Response) Status {
	if resp.Succeeded() {
		return StatusSuccess
	}
	return StatusFail
}
