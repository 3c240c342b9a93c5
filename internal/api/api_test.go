package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hagglechat/haggle/internal/bus"
	"github.com/hagglechat/haggle/internal/chat"
	"github.com/hagglechat/haggle/internal/convo"
	"github.com/hagglechat/haggle/internal/feed"
	"github.com/hagglechat/haggle/internal/negotiate"
	"github.com/hagglechat/haggle/internal/status"
	"github.com/hagglechat/haggle/internal/store"
)

type testEnv struct {
	db     *store.DB
	feed   *feed.SQLiteStore
	router *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	f := feed.NewSQLiteStore(db, nil)
	t.Cleanup(f.Close)

	b := bus.New()
	machine := status.NewMachine(b)
	sender := chat.NewSender(f, nil, nil)
	h := NewHandler(db,
		chat.NewSynchronizer(f, nil),
		convo.NewAggregator(db, f, nil),
		negotiate.NewService(db, sender, nil, nil),
		machine, b, nil)
	return &testEnv{db: db, feed: f, router: h.Router()}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestSendMessageQueuesOutbox(t *testing.T) {
	env := newTestEnv(t)
	w := env.request(t, http.MethodPost, "/v1/messages", map[string]any{
		"sender": "a@x.com",
		"buyer":  "a@x.com",
		"seller": "b@x.com",
		"text":   "hi",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["client_msg_id"] == "" {
		t.Error("no client_msg_id assigned")
	}

	pending, err := env.db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Body != "hi" {
		t.Errorf("pending = %v, want one queued entry", pending)
	}
}

func TestSendMessageRejectsOutsider(t *testing.T) {
	env := newTestEnv(t)
	w := env.request(t, http.MethodPost, "/v1/messages", map[string]any{
		"sender": "c@x.com",
		"buyer":  "a@x.com",
		"seller": "b@x.com",
		"text":   "hi",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSendMessageValidation(t *testing.T) {
	env := newTestEnv(t)
	w := env.request(t, http.MethodPost, "/v1/messages", map[string]any{
		"sender": "a@x.com",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestListMessages(t *testing.T) {
	env := newTestEnv(t)
	for _, m := range []*store.Message{
		{PartitionKey: "a_x_com_b_x_com", MsgID: "m2", Sender: "a@x.com", Receiver: "b@x.com",
			Body: "second", MessageType: store.TypeText, Timestamp: 20},
		{PartitionKey: "a_x_com_b_x_com", MsgID: "m1", Sender: "a@x.com", Receiver: "b@x.com",
			Body: "first", MessageType: store.TypeText, Timestamp: 10},
	} {
		if _, err := env.db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	w := env.request(t, http.MethodGet, "/v1/conversations/a_x_com_b_x_com/messages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	msgs := resp["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	first := msgs[0].(map[string]any)
	if first["body"] != "first" {
		t.Errorf("messages[0].body = %v, want first", first["body"])
	}
}

func TestOfferLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/v1/offers", map[string]any{
		"product_id":     "7",
		"buyer":          "a@x.com",
		"seller":         "b@x.com",
		"original_price": 100,
		"offered_price":  80,
		"note":           "ok",
		"product_title":  "Chair",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	offerID := decode(t, w)["offer_id"].(string)
	if offerID == "" {
		t.Fatal("empty offer_id")
	}

	w = env.request(t, http.MethodPost, "/v1/offers/"+offerID+"/response", map[string]any{
		"accepted": false,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("respond status = %d: %s", w.Code, w.Body.String())
	}

	w = env.request(t, http.MethodGet, "/v1/offers/"+offerID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	offer := decode(t, w)["offer"].(map[string]any)
	if offer["status"] != store.OfferRejected {
		t.Errorf("status = %v, want %s", offer["status"], store.OfferRejected)
	}

	// Terminal offers refuse a second response.
	w = env.request(t, http.MethodPost, "/v1/offers/"+offerID+"/response", map[string]any{
		"accepted": true,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("second respond status = %d, want 409", w.Code)
	}
}

func TestRespondUnknownOffer(t *testing.T) {
	env := newTestEnv(t)
	w := env.request(t, http.MethodPost, "/v1/offers/nope/response", map[string]any{
		"accepted": true,
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestListOffersRequiresFilter(t *testing.T) {
	env := newTestEnv(t)
	w := env.request(t, http.MethodGet, "/v1/offers", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestListConversations(t *testing.T) {
	env := newTestEnv(t)
	m := &store.Message{PartitionKey: "a_x_com_b_x_com", MsgID: "m1",
		Sender: "a@x.com", Receiver: "b@x.com",
		Body: "hi", MessageType: store.TypeText, Timestamp: 10}
	if _, err := env.db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	w := env.request(t, http.MethodGet, "/v1/conversations?user=b@x.com", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	convs := decode(t, w)["conversations"].([]any)
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}
	c := convs[0].(map[string]any)
	if c["other_party"] != "a@x.com" {
		t.Errorf("other_party = %v, want a@x.com", c["other_party"])
	}

	w = env.request(t, http.MethodGet, "/v1/conversations", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing user status = %d, want 400", w.Code)
	}
}

func TestUpsertPartyNamesConversations(t *testing.T) {
	env := newTestEnv(t)
	w := env.request(t, http.MethodPut, "/v1/parties/b@x.com", map[string]any{
		"display_name": "Bea",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	m := &store.Message{PartitionKey: "a_x_com_b_x_com", MsgID: "m1",
		Sender: "a@x.com", Receiver: "b@x.com",
		Body: "hi", MessageType: store.TypeText, Timestamp: 10}
	if _, err := env.db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	w = env.request(t, http.MethodGet, "/v1/conversations?user=a@x.com", nil)
	convs := decode(t, w)["conversations"].([]any)
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}
	c := convs[0].(map[string]any)
	if c["other_party_name"] != "Bea" {
		t.Errorf("other_party_name = %v, want Bea", c["other_party_name"])
	}

	w = env.request(t, http.MethodGet, "/v1/parties/b@x.com", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get party status = %d", w.Code)
	}
	if got := decode(t, w)["display_name"]; got != "Bea" {
		t.Errorf("display_name = %v, want Bea", got)
	}

	w = env.request(t, http.MethodGet, "/v1/parties/nobody", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown party status = %d, want 404", w.Code)
	}

	w = env.request(t, http.MethodPut, "/v1/parties/b@x.com", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing display_name status = %d, want 400", w.Code)
	}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)
	m := &store.Message{PartitionKey: "a_x_com_b_x_com", MsgID: "m1",
		Sender: "a@x.com", Receiver: "b@x.com",
		Body: "selling my bike", MessageType: store.TypeText, Timestamp: 10}
	if _, err := env.db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	w := env.request(t, http.MethodGet, "/v1/search?q=bike", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	results := decode(t, w)["results"].([]any)
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}

	w = env.request(t, http.MethodGet, "/v1/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing q status = %d, want 400", w.Code)
	}
}

func TestDaemonStatus(t *testing.T) {
	env := newTestEnv(t)
	w := env.request(t, http.MethodGet, "/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode(t, w)
	if resp["state"] != string(status.Booting) {
		t.Errorf("state = %v, want %s", resp["state"], status.Booting)
	}
	if resp["messages"].(float64) != 0 {
		t.Errorf("messages = %v, want 0", resp["messages"])
	}
}

func TestWatchStreamsSnapshots(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/conversations/a_x_com_b_x_com/watch")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	m := &store.Message{Sender: "a@x.com", Receiver: "b@x.com",
		Body: "hi", MessageType: store.TypeText, Timestamp: 10}
	if err := env.feed.SetValue(context.Background(), "a_x_com_b_x_com", "m1", m); err != nil {
		t.Fatal(err)
	}

	scanner := bufio.NewScanner(resp.Body)
	sawSnapshot := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") && strings.Contains(line, "snapshot") {
			sawSnapshot = true
		}
		if strings.HasPrefix(line, "data:") && strings.Contains(line, `"hi"`) {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatal(err)
	}
	if !sawSnapshot {
		t.Error("no snapshot event observed on the stream")
	}
}
