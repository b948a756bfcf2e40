package entity

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordsync/internal/shared/models"
)

type call struct {
	target string
	req    *Request
}

type fakeTransport struct {
	mu    sync.Mutex
	calls []call
	resp  *Response
	err   error
	gate  chan struct{}
}

func (f *fakeTransport) Sync(_ context.Context, target Target, req *Request) (*Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{target: target.URL(), req: req})
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return f.resp, f.err
}

func (f *fakeTransport) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type staticTokens string

func (s staticTokens) CSRFToken() (string, error) { return string(s), nil }

type answer bool

func (a answer) Confirm(context.Context, string) bool { return bool(a) }

type recordingNotifier struct {
	mu    sync.Mutex
	notes []string
	last  *NotifyOptions
}

func (n *recordingNotifier) Notify(status Status, action Action, opts *NotifyOptions) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, string(action)+":"+string(status))
	n.last = opts
}

func (n *recordingNotifier) Notes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.notes...)
}

type eventLog struct {
	mu     sync.Mutex
	events []EventName
}

func (l *eventLog) watch(r *Record, names ...EventName) {
	for _, name := range names {
		r.On(name, func(ev Event) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.events = append(l.events, ev.Name)
		})
	}
}

func (l *eventLog) Events() []EventName {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]EventName(nil), l.events...)
}

var allEvents = []EventName{
	EventRecordNotExist, EventNotChanged, EventSaveSuccess, EventSaveFail,
	EventDeleteSuccess, EventDeleteFail, EventSync, EventError,
}

var people = MustDescriptor(DescriptorConfig{
	ServerName:  "people",
	VerboseName: "Person",
	Schema:      []string{"id", "name", "role"},
	References:  []string{"role"},
})

func success() *Response { return &Response{Code: http.StatusOK, Status: StatusSuccess} }

// alice is an existing record {id:5, name:"Alice", role:{db:2}}.
func alice(t *testing.T, tr Transport, opts ...Option) *Record {
	t.Helper()
	rec := New(people, tr, opts...)
	rec.reset(Attributes{"id": Scalar(5), "name": Scalar("Alice"), "role": Reference(2)})
	return rec
}

func sentData(t *testing.T, c call) map[string]any {
	t.Helper()
	body, ok := c.req.Payload.(models.SaveRequest)
	require.True(t, ok, "payload type %T", c.req.Payload)
	require.Len(t, body.Data, 1)
	assert.Equal(t, "id", body.PKField)
	return body.Data[0]
}

func TestComputeDiff_OnlyChangedKeys(t *testing.T) {
	rec := alice(t, &fakeTransport{})

	diff := rec.ComputeDiff(Attributes{"role": Scalar(2), "name": Scalar("Alice"), "id": Scalar(5)})
	assert.Empty(t, diff)

	diff = rec.ComputeDiff(Attributes{"name": Scalar("Bob"), "role": Reference(2), "id": Scalar(5)})
	assert.Equal(t, Attributes{"name": Scalar("Bob")}, diff)

	diff = rec.ComputeDiff(Attributes{"role": Reference(3), "extra": Scalar(1)})
	assert.Equal(t, Attributes{"role": Reference(3), "extra": Scalar(1)}, diff)
}

func TestComputeDiff_NumbersCompareByValue(t *testing.T) {
	rec := alice(t, &fakeTransport{})
	assert.Empty(t, rec.ComputeDiff(Attributes{"id": Scalar(5.0), "role": Scalar(int64(2))}))
}

func TestShapeForTransmission(t *testing.T) {
	attrs := Attributes{
		"role":  Reference(3),
		"boss":  Reference(nil),
		"team":  Reference(""),
		"unit":  Reference(0),
		"name":  Scalar("Bob"),
		"empty": Scalar(nil),
	}
	shaped := ShapeForTransmission(attrs)
	want := Attributes{
		"role":  Scalar(3),
		"boss":  Scalar(nil),
		"team":  Scalar(nil),
		"unit":  Scalar(nil),
		"name":  Scalar("Bob"),
		"empty": Scalar(nil),
	}
	assert.Equal(t, want, shaped)
	// same map
	shaped["x"] = Scalar(1)
	assert.Contains(t, attrs, "x")
	delete(attrs, "x")

	assert.Equal(t, want, ShapeForTransmission(shaped.Clone()), "shaping twice changes nothing")

	b, err := json.Marshal(Attributes{"boss": Reference(nil), "role": Reference(3)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"boss":null,"role":3}`, string(b))
}

func TestSave_ExistingSendsDiffWithIdentity(t *testing.T) {
	tr := &fakeTransport{resp: success()}
	rec := alice(t, tr, WithTokens(staticTokens("tok")))
	rec.Set("role", Reference(3))

	op, ok := rec.Save(context.Background(), nil)
	require.True(t, ok)
	_, err := op.Wait()
	require.NoError(t, err)

	calls := tr.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPut, calls[0].req.Method)
	assert.Equal(t, "/rest/people/5", calls[0].target)
	assert.Equal(t, "tok", calls[0].req.Header.Get(CSRFHeader))
	assert.True(t, calls[0].req.Wait)
	assert.Equal(t, map[string]any{"role": 3, "id": 5}, sentData(t, calls[0]))
}

func TestSave_NewSendsFullSet(t *testing.T) {
	tr := &fakeTransport{resp: &Response{Code: http.StatusOK, Status: StatusSuccess, PK: "p-1"}}
	rec := New(people, tr)
	rec.Set("name", Scalar("Bob"))
	require.True(t, rec.IsNew())

	op, ok := rec.Save(context.Background(), nil)
	require.True(t, ok)
	_, err := op.Wait()
	require.NoError(t, err)

	calls := tr.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPost, calls[0].req.Method)
	assert.Equal(t, "/rest/people/", calls[0].target)
	assert.Equal(t, map[string]any{"name": "Bob"}, sentData(t, calls[0]))

	assert.False(t, rec.IsNew())
	assert.Equal(t, "p-1", rec.ID())
	assert.Empty(t, rec.Changed())
}

func TestSave_NotChangedShortCircuits(t *testing.T) {
	tr := &fakeTransport{resp: success()}
	rec := alice(t, tr)
	var log eventLog
	log.watch(rec, allEvents...)

	rec.Set("role", Scalar(2))
	op, ok := rec.Save(context.Background(), nil)
	assert.False(t, ok)
	assert.Nil(t, op)
	assert.Empty(t, tr.Calls())
	assert.Equal(t, []EventName{EventNotChanged}, log.Events())
}

func TestSave_NewEmptyRecordNotChanged(t *testing.T) {
	tr := &fakeTransport{resp: success()}
	rec := New(people, tr)
	var log eventLog
	log.watch(rec, EventNotChanged)

	_, ok := rec.Save(context.Background(), nil)
	assert.False(t, ok)
	assert.Empty(t, tr.Calls())
	assert.Equal(t, []EventName{EventNotChanged}, log.Events())
}

func TestSave_SuccessFoldsSentKeysIntoBaseline(t *testing.T) {
	tr := &fakeTransport{resp: success()}
	rec := alice(t, tr)
	rec.Set("name", Scalar("Alicia"))
	var log eventLog
	log.watch(rec, allEvents...)

	op, ok := rec.Save(context.Background(), Attributes{"name": Scalar("Alicia"), "role": Reference(2)})
	require.True(t, ok)
	_, err := op.Wait()
	require.NoError(t, err)

	assert.Equal(t, Attributes{"id": Scalar(5), "name": Scalar("Alicia"), "role": Reference(2)}, rec.Server())
	assert.Equal(t, []EventName{EventSaveSuccess}, log.Events())
	assert.Empty(t, rec.Changed())
}

func TestSave_TransportErrorRollsBack(t *testing.T) {
	gate := make(chan struct{})
	tr := &fakeTransport{err: errors.New("connection refused"), gate: gate}
	notes := &recordingNotifier{}
	rec := alice(t, tr, WithNotifier(notes))
	rec.Set("name", Scalar("Alicia"))
	before := rec.Current()
	var log eventLog
	log.watch(rec, allEvents...)

	op, ok := rec.Save(context.Background(), nil)
	require.True(t, ok)
	// edit made while the request is in flight
	rec.Set("role", Reference(9))
	close(gate)
	_, err := op.Wait()

	require.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, before, rec.Current())
	assert.Equal(t, Attributes{"id": Scalar(5), "name": Scalar("Alice"), "role": Reference(2)}, rec.Server())
	assert.Equal(t, []EventName{EventSaveFail}, log.Events())
	assert.Equal(t, []string{"save:fail"}, notes.Notes())
}

func TestSave_LogicalRejectionRollsBack(t *testing.T) {
	tr := &fakeTransport{resp: &Response{Code: http.StatusOK, Status: StatusFail}}
	notes := &recordingNotifier{}
	rec := alice(t, tr, WithNotifier(notes))
	rec.Set("name", Scalar("Alicia"))
	before := rec.Current()
	var log eventLog
	log.watch(rec, allEvents...)

	op, ok := rec.Save(context.Background(), Attributes{"name": Scalar("Bob")}, WithNotify())
	require.True(t, ok)
	resp, err := op.Wait()

	require.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, StatusFail, resp.Status)
	assert.Equal(t, before, rec.Current())
	assert.Equal(t, Scalar("Alice"), rec.Server()["name"])
	assert.Equal(t, []EventName{EventSaveFail}, log.Events())
	assert.Equal(t, []string{"save:fail"}, notes.Notes())
}

func TestSave_EditsInFlightSurviveSuccess(t *testing.T) {
	gate := make(chan struct{})
	tr := &fakeTransport{resp: success(), gate: gate}
	rec := alice(t, tr)
	rec.Set("name", Scalar("Alicia"))

	op, ok := rec.Save(context.Background(), nil)
	require.True(t, ok)
	rec.Set("name", Scalar("Ally"))
	close(gate)
	_, err := op.Wait()
	require.NoError(t, err)

	v, _ := rec.Get("name")
	assert.Equal(t, Scalar("Ally"), v)
	assert.Equal(t, Scalar("Alicia"), rec.Server()["name"])
	assert.Equal(t, Attributes{"name": Scalar("Ally")}, rec.Changed())
}

func TestSave_NotifyOnSuccessOnlyWhenAsked(t *testing.T) {
	tr := &fakeTransport{resp: success()}
	notes := &recordingNotifier{}
	rec := alice(t, tr, WithNotifier(notes))

	op, _ := rec.Save(context.Background(), Attributes{"name": Scalar("A")})
	_, _ = op.Wait()
	assert.Empty(t, notes.Notes())

	op, _ = rec.Save(context.Background(), Attributes{"name": Scalar("B")}, WithNotify())
	_, _ = op.Wait()
	assert.Equal(t, []string{"save:success"}, notes.Notes())
	assert.Nil(t, notes.last)

	style := NotifyOptions{Text: "Person stored", Layout: "bottomLeft"}
	op, _ = rec.Save(context.Background(), Attributes{"name": Scalar("C")}, WithNotify(), WithNotifyOptions(style))
	_, _ = op.Wait()
	require.NotNil(t, notes.last)
	assert.Equal(t, style, *notes.last)
}

func TestDestroy_AskDeclinedSendsNothing(t *testing.T) {
	tr := &fakeTransport{resp: success()}
	rec := alice(t, tr, WithConfirmer(answer(false)))
	var log eventLog
	log.watch(rec, allEvents...)

	op, ok := rec.Destroy(context.Background(), WithAsk())
	assert.False(t, ok)
	assert.Nil(t, op)
	assert.Empty(t, tr.Calls())
	assert.Empty(t, log.Events())
}

func TestDestroy_AskWithoutConfirmerSendsNothing(t *testing.T) {
	tr := &fakeTransport{resp: success()}
	rec := alice(t, tr)

	_, ok := rec.Destroy(context.Background(), WithAsk())
	assert.False(t, ok)
	assert.Empty(t, tr.Calls())
}

func TestDestroy_ConfirmedRemovesFromCollection(t *testing.T) {
	tr := &fakeTransport{resp: success()}
	coll := NewCollection(people, tr, WithConfirmer(answer(true)), WithTokens(staticTokens("tok")))
	rec := coll.New(WithID(5))
	coll.Add(rec)
	other := coll.New(WithID(6))
	coll.Add(other)
	var log eventLog
	log.watch(rec, allEvents...)

	op, ok := rec.Destroy(context.Background(), WithAsk())
	require.True(t, ok)
	_, err := op.Wait()
	require.NoError(t, err)

	calls := tr.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodDelete, calls[0].req.Method)
	assert.Equal(t, "/rest/people/5", calls[0].target)
	assert.Equal(t, "tok", calls[0].req.Header.Get(CSRFHeader))
	assert.Equal(t, []EventName{EventDeleteSuccess}, log.Events())
	assert.Equal(t, []*Record{other}, coll.Records())
}

func TestDestroy_LogicalFailureKeepsRecord(t *testing.T) {
	tr := &fakeTransport{resp: &Response{Status: StatusFail}}
	coll := NewCollection(people, tr)
	rec := coll.New(WithID(5))
	coll.Add(rec)
	var log eventLog
	log.watch(rec, allEvents...)

	op, ok := rec.Destroy(context.Background())
	require.True(t, ok)
	_, err := op.Wait()
	require.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, []EventName{EventDeleteFail}, log.Events())
	assert.Equal(t, 1, coll.Len())
}

func TestDestroy_NewRecordSendsNothing(t *testing.T) {
	tr := &fakeTransport{resp: success()}
	coll := NewCollection(people, tr)
	rec := coll.New()
	coll.Add(rec)
	var log eventLog
	log.watch(rec, allEvents...)

	op, ok := rec.Destroy(context.Background())
	assert.False(t, ok)
	assert.Nil(t, op)
	assert.Empty(t, tr.Calls())
	assert.Equal(t, []EventName{EventDeleteSuccess}, log.Events())
	assert.Equal(t, 0, coll.Len())
}

func TestDestroy_TransportErrorAlwaysNotifies(t *testing.T) {
	tr := &fakeTransport{err: errors.New("connection reset")}
	notes := &recordingNotifier{}
	coll := NewCollection(people, tr, WithNotifier(notes))
	rec := coll.New(WithID(5))
	coll.Add(rec)
	var log eventLog
	log.watch(rec, allEvents...)

	op, ok := rec.Destroy(context.Background())
	require.True(t, ok)
	_, err := op.Wait()
	require.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, []EventName{EventDeleteFail}, log.Events())
	assert.Equal(t, []string{"delete:fail"}, notes.Notes())
	assert.Equal(t, 1, coll.Len())
}

func TestOperation_DoneAndErr(t *testing.T) {
	tr := &fakeTransport{resp: &Response{Status: StatusFail}, gate: make(chan struct{})}
	rec := alice(t, tr)
	rec.Set("name", Scalar("Alicia"))

	op, ok := rec.Save(context.Background(), nil)
	require.True(t, ok)
	select {
	case <-op.Done():
		t.Fatal("operation finished before the server answered")
	default:
	}
	assert.NoError(t, op.Err(), "pending operation has no error yet")

	close(tr.gate)
	select {
	case <-op.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("operation never finished")
	}
	assert.ErrorIs(t, op.Err(), ErrRejected)
}

func TestLargeNumericPKKeepsPlainURL(t *testing.T) {
	body := []byte(`{"pk":1234567,"fields":{"name":"Alice","role":2}}`)
	tr := &fakeTransport{resp: &Response{Code: http.StatusOK, Body: body}}
	rec := New(people, tr, WithID(1234567))

	_, err := rec.Fetch(context.Background(), nil).Wait()
	require.NoError(t, err)
	assert.Equal(t, float64(1234567), rec.ID())

	tr.mu.Lock()
	tr.resp = success()
	tr.mu.Unlock()
	rec.Set("name", Scalar("Alicia"))
	op, ok := rec.Save(context.Background(), nil)
	require.True(t, ok)
	_, err = op.Wait()
	require.NoError(t, err)

	calls := tr.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/rest/people/1234567", calls[0].target)
	assert.Equal(t, "/rest/people/1234567", calls[1].target)
}

func TestCollection_GetMatchesIDByValue(t *testing.T) {
	body := []byte(`{"count":2,"results":[{"pk":1234567,"fields":{"name":"A"}},{"pk":"abc","fields":{"name":"B"}}]}`)
	tr := &fakeTransport{resp: &Response{Code: http.StatusOK, Body: body}}
	coll := NewCollection(people, tr)
	require.NoError(t, coll.Fetch(context.Background(), nil))

	for _, id := range []any{1234567, int64(1234567), 1234567.0, "1234567"} {
		_, ok := coll.Get(id)
		assert.True(t, ok, "id %#v", id)
	}
	_, ok := coll.Get("abc")
	assert.True(t, ok)
	_, ok = coll.Get(1234568)
	assert.False(t, ok)
}

func TestParseServerResponse(t *testing.T) {
	rec := New(people, &fakeTransport{})
	var log eventLog
	log.watch(rec, EventRecordNotExist)

	attrs, ok, err := rec.ParseServerResponse([]byte(`{"count":0,"results":[]}`))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, attrs)
	assert.Equal(t, []EventName{EventRecordNotExist}, log.Events())
	assert.Equal(t, "Person", rec.DisplayName())

	attrs, ok, err = rec.ParseServerResponse([]byte(`{"count":1,"results":[{"pk":5,"fields":{"name":"Alice","role":2},"__unicode__":"Alice A."}]}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Attributes{"id": Scalar(float64(5)), "name": Scalar("Alice"), "role": Reference(float64(2))}, attrs)
	assert.Equal(t, "Alice A.", rec.DisplayName())

	attrs, ok, err = rec.ParseServerResponse([]byte(`{"pk":"x","fields":{"name":"Bob"}}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Attributes{"id": Scalar("x"), "name": Scalar("Bob")}, attrs)
	assert.Equal(t, "Person", rec.DisplayName())

	_, _, err = rec.ParseServerResponse([]byte(`{"count":2,"results":[{},{}]}`))
	assert.Error(t, err)
	_, _, err = rec.ParseServerResponse([]byte(`{bad`))
	assert.Error(t, err)
}

func TestFetch_AppliesBaseline(t *testing.T) {
	body := []byte(`{"count":1,"results":[{"pk":5,"fields":{"name":"Alice","role":2}}]}`)
	tr := &fakeTransport{resp: &Response{Code: http.StatusOK, Body: body}}
	params := url.Values{"name": {"Alice"}}
	rec := New(people, tr, WithRequestParams(params))
	var log eventLog
	log.watch(rec, allEvents...)

	_, err := rec.Fetch(context.Background(), nil).Wait()
	require.NoError(t, err)

	calls := tr.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodGet, calls[0].req.Method)
	assert.Equal(t, params, calls[0].req.Params)
	assert.Equal(t, float64(5), rec.ID())
	assert.Equal(t, rec.Server(), rec.Current())
	assert.Equal(t, []EventName{EventSync}, log.Events())
	assert.Equal(t, "/rest/people/5", rec.URL())
}

func TestFetch_NotFound(t *testing.T) {
	tr := &fakeTransport{resp: &Response{Code: http.StatusNotFound, Body: []byte(`{"count":0}`)}}
	rec := New(people, tr)
	var log eventLog
	log.watch(rec, allEvents...)

	_, err := rec.Fetch(context.Background(), nil).Wait()
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []EventName{EventRecordNotExist}, log.Events())
	assert.True(t, rec.IsNew())
}

func TestCollection_Fetch(t *testing.T) {
	body := []byte(`{"count":2,"results":[{"pk":1,"fields":{"name":"A"}},{"pk":2,"fields":{"name":"B"},"__unicode__":"Bee"}]}`)
	tr := &fakeTransport{resp: &Response{Code: http.StatusOK, Body: body}}
	coll := NewCollection(people, tr)

	require.NoError(t, coll.Fetch(context.Background(), nil))
	assert.Equal(t, 2, coll.Len())
	rec, ok := coll.Get(2)
	require.True(t, ok)
	assert.Equal(t, "Bee", rec.DisplayName())
	assert.Equal(t, "/rest/people/", tr.Calls()[0].target)
}
