package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// fakeFeed accepts one websocket, answers the join and then sends frames.
type fakeFeed struct {
	reject  bool
	frames  []frame
	joined  chan joinPayload
	query   chan string
	leaving chan struct{}
}

func newFakeFeed(frames ...frame) *fakeFeed {
	return &fakeFeed{
		frames:  frames,
		joined:  make(chan joinPayload, 1),
		query:   make(chan string, 1),
		leaving: make(chan struct{}, 1),
	}
}

func (f *fakeFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.query <- r.URL.RawQuery
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	ctx := r.Context()

	var join frame
	if err := wsjson.Read(ctx, conn, &join); err != nil {
		return
	}
	var p joinPayload
	_ = json.Unmarshal(join.Payload, &p)
	f.joined <- p

	status := "ok"
	if f.reject {
		status = "error"
	}
	reply, _ := json.Marshal(replyPayload{Status: status, Response: json.RawMessage(`{"reason":"denied"}`)})
	_ = wsjson.Write(ctx, conn, frame{Topic: join.Topic, Event: eventReply, Payload: reply, Ref: join.Ref})

	for _, fr := range f.frames {
		if err := wsjson.Write(ctx, conn, fr); err != nil {
			return
		}
	}
	for {
		var in frame
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			return
		}
		if in.Event == eventLeave {
			f.leaving <- struct{}{}
		}
	}
}

func changeFrame(t *testing.T, e Event) frame {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"data": e})
	if err != nil {
		t.Fatal(err)
	}
	return frame{Topic: "realtime:agency", Event: eventChanges, Payload: payload}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSSource_JoinAndReceive(t *testing.T) {
	feed := newFakeFeed(
		frame{Topic: "phoenix", Event: eventHeartbeat, Payload: json.RawMessage(`{}`)},
		frame{Topic: "realtime:agency", Event: "presence_state", Payload: json.RawMessage(`{}`)},
		changeFrame(t, Event{Type: EventUpdate, Schema: "public", Table: "invoices", New: map[string]any{"id": "inv-1", "status": "pago"}}),
		frame{Topic: "realtime:agency", Event: "INSERT", Payload: json.RawMessage(`{"table":"tasks","schema":"public","new_record":{"id":"t1"}}`)},
	)
	srv := httptest.NewServer(feed)
	defer srv.Close()

	src, err := NewWSSource(WSConfig{URL: wsURL(srv), APIKey: "anon", Token: func(context.Context) (string, error) { return "user-jwt", nil }})
	if err != nil {
		t.Fatalf("NewWSSource() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := src.Open(ctx, "agency", []Filter{Table("invoices", EventUpdate).Where("status", "pago"), Table("tasks")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if q := <-feed.query; !strings.Contains(q, "apikey=anon") || !strings.Contains(q, "vsn=1.0.0") {
		t.Errorf("handshake query = %q", q)
	}
	join := <-feed.joined
	if join.AccessToken != "user-jwt" {
		t.Errorf("access_token = %q", join.AccessToken)
	}
	changes := join.Config.PostgresChanges
	if len(changes) != 2 || changes[0].Event != "UPDATE" || changes[0].Filter != "status=eq.pago" || changes[1].Event != "*" {
		t.Errorf("postgres_changes = %+v", changes)
	}

	e, err := stream.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if e.Table != "invoices" || e.Type != EventUpdate || e.ID() != "inv-1" {
		t.Errorf("first event = %+v", e)
	}
	e, err = stream.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if e.Table != "tasks" || e.Type != EventInsert {
		t.Errorf("second event = %+v", e)
	}

	if err := stream.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	select {
	case <-feed.leaving:
	case <-time.After(2 * time.Second):
		t.Error("server did not receive phx_leave")
	}
	if _, err := stream.Recv(ctx); err == nil {
		t.Error("Recv() after Close() returned no error")
	}
}

func TestWSSource_JoinRejected(t *testing.T) {
	feed := newFakeFeed()
	feed.reject = true
	srv := httptest.NewServer(feed)
	defer srv.Close()

	src, _ := NewWSSource(WSConfig{URL: wsURL(srv)})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := src.Open(ctx, "agency", []Filter{Table("invoices")}); !errors.Is(err, ErrJoinRejected) {
		t.Errorf("Open() error = %v, want ErrJoinRejected", err)
	}
}

func TestNewWSSource_RequiresURL(t *testing.T) {
	if _, err := NewWSSource(WSConfig{}); !errors.Is(err, ErrMissingURL) {
		t.Errorf("NewWSSource() error = %v, want ErrMissingURL", err)
	}
}
