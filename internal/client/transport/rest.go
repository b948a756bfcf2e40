// Package transport talks to the REST backend on behalf of records.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"recordsync/internal/client/entity"
	"recordsync/internal/shared/models"
)

// ErrHTTPStatus is returned for answers outside the 2xx range, except a
// 404 on a read, which is passed on so the record can report that it does
// not exist.
var ErrHTTPStatus = errors.New("unexpected http status")

// BearerProvider supplies the access token of the current session.
type BearerProvider interface {
	AccessToken() (string, error)
}

// REST implements entity.Transport over HTTP.
type REST struct {
	baseURL string
	client  *http.Client
	bearer  BearerProvider
}

type Option func(*REST)

func WithHTTPClient(c *http.Client) Option { return func(t *REST) { t.client = c } }
func WithBearer(bp BearerProvider) Option  { return func(t *REST) { t.bearer = bp } }

func New(baseURL string, opts ...Option) *REST {
	t := &REST{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *REST) Sync(ctx context.Context, target entity.Target, req *entity.Request) (*entity.Response, error) {
	u := t.baseURL + target.URL()
	if len(req.Params) > 0 {
		u += "?" + req.Params.Encode()
	}

	var body io.Reader
	if req.Payload != nil {
		b, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(b)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	if body != nil {
		hreq.Header.Set("Content-Type", "application/json")
	}
	hreq.Header.Set("Accept", "application/json")
	if t.bearer != nil {
		token, err := t.bearer.AccessToken()
		if err != nil {
			return nil, err
		}
		hreq.Header.Set("Authorization", "Bearer "+token)
	}

	hresp, err := t.client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer hresp.Body.Close()
	raw, err := io.ReadAll(hresp.Body)
	if err != nil {
		return nil, err
	}
	resp := &entity.Response{Code: hresp.StatusCode, Body: raw}

	if hresp.StatusCode >= 300 {
		if req.Method == http.MethodGet && hresp.StatusCode == http.StatusNotFound {
			return resp, nil
		}
		return resp, fmt.Errorf("%w: %s %s: %s", ErrHTTPStatus, req.Method, target.URL(), hresp.Status)
	}
	if req.Method == http.MethodGet {
		return resp, nil
	}

	var status models.StatusResponse
	if err := json.Unmarshal(raw, &status); err != nil {
		return resp, fmt.Errorf("decode status: %w", err)
	}
	resp.Status = entity.Status(status.Status)
	resp.PK = status.PK
	resp.Errors = status.Errors
	return resp, nil
}
