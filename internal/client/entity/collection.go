package entity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	json "github.com/goccy/go-json"

	"recordsync/internal/shared/models"
)

// Collection holds records of one type. A record added to a collection
// leaves it once the server confirmed its deletion.
type Collection struct {
	desc      *Descriptor
	transport Transport
	opts      []Option

	mu      sync.Mutex
	records []*Record
	unsub   map[*Record]func()
}

// NewCollection returns an empty collection. opts are applied to every
// record the collection creates.
func NewCollection(desc *Descriptor, transport Transport, opts ...Option) *Collection {
	return &Collection{
		desc:      desc,
		transport: transport,
		opts:      opts,
		unsub:     make(map[*Record]func()),
	}
}

// URL is the type's list endpoint.
func (c *Collection) URL() string { return c.desc.URLRoot() }

// New creates a record bound to the collection's type and transport. The
// record is not added.
func (c *Collection) New(opts ...Option) *Record {
	all := append(append([]Option(nil), c.opts...), opts...)
	return New(c.desc, c.transport, all...)
}

// Add appends rec unless it is already held.
func (c *Collection) Add(rec *Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.unsub[rec]; ok {
		return
	}
	c.records = append(c.records, rec)
	c.unsub[rec] = rec.On(EventDeleteSuccess, func(ev Event) { c.Remove(ev.Record) })
}

// Remove drops rec from the collection.
func (c *Collection) Remove(rec *Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	off, ok := c.unsub[rec]
	if !ok {
		return
	}
	off()
	delete(c.unsub, rec)
	for i, r := range c.records {
		if r == rec {
			c.records = append(c.records[:i:i], c.records[i+1:]...)
			break
		}
	}
}

func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Records returns the held records in order.
func (c *Collection) Records() []*Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Record(nil), c.records...)
}

// Get finds a held record by identity.
func (c *Collection) Get(id any) (*Record, bool) {
	want := formatID(id)
	for _, r := range c.Records() {
		if rid := r.ID(); rid != nil && (equalResolved(rid, id) || formatID(rid) == want) {
			return r, true
		}
	}
	return nil, false
}

// Fetch replaces the collection's content with the records matching
// params.
func (c *Collection) Fetch(ctx context.Context, params url.Values) error {
	resp, err := c.transport.Sync(ctx, c, &Request{Method: http.MethodGet, Params: params})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	var env models.Envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return fmt.Errorf("decode list: %w", err)
	}

	records := make([]*Record, 0, len(env.Results))
	for _, item := range env.Results {
		body, err := json.Marshal(item)
		if err != nil {
			return err
		}
		rec := c.New()
		attrs, ok, err := rec.ParseServerResponse(body)
		if err != nil {
			return err
		}
		if ok {
			rec.reset(attrs)
			records = append(records, rec)
		}
	}

	c.mu.Lock()
	for rec, off := range c.unsub {
		off()
		delete(c.unsub, rec)
	}
	c.records = nil
	c.mu.Unlock()
	for _, rec := range records {
		c.Add(rec)
	}
	return nil
}
