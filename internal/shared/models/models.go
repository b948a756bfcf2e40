package models

import "time"

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenResponse is returned on login. CSRFToken must be echoed in the
// X-CSRFToken header of every unsafe request made with AccessToken.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	CSRFToken   string `json:"csrf_token"`
}

// Envelope is the record shape served by the REST backend. A list answer
// sets Count and Results; a single record sets PK, Fields and, when the
// server knows one, a display name.
type Envelope struct {
	Count   *int           `json:"count,omitempty"`
	Results []Envelope     `json:"results,omitempty"`
	PK      any            `json:"pk,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
	Unicode *string        `json:"__unicode__,omitempty"`
}

// ListEnvelope builds a list answer.
func ListEnvelope(results []Envelope) Envelope {
	n := len(results)
	if results == nil {
		results = []Envelope{}
	}
	return Envelope{Count: &n, Results: results}
}

// SaveRequest is the body of create and update requests.
type SaveRequest struct {
	Data    []map[string]any `json:"data"`
	PKField string           `json:"pk_field"`
}

const (
	StatusSuccess = "success"
	StatusFail    = "fail"
)

// StatusResponse answers writes. PK is set when a record was created.
type StatusResponse struct {
	Status string   `json:"status"`
	PK     any      `json:"pk,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// Object is a stored record of some model.
type Object struct {
	Model     string         `json:"model"`
	PK        string         `json:"pk"`
	OwnerID   string         `json:"owner_id"`
	Fields    map[string]any `json:"fields"`
	Version   int64          `json:"version"`
	UpdatedAt time.Time      `json:"updated_at"`
}
