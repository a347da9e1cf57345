package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/jonwraymond/querysync/observe"
)

// WSConfig configures a WSSource.
type WSConfig struct {
	// URL is the websocket endpoint, e.g. wss://xyz.supabase.co/realtime/v1/websocket.
	URL string
	// APIKey is sent as the apikey query parameter.
	APIKey string
	// Token returns the access token sent with the join message.
	// Default: the APIKey.
	Token func(ctx context.Context) (string, error)
	// HeartbeatInterval is how often a heartbeat is sent.
	// Default: 30 seconds
	HeartbeatInterval time.Duration
	// JoinTimeout bounds the wait for the join reply.
	// Default: 10 seconds
	JoinTimeout time.Duration
	// HTTPClient is used for the websocket handshake.
	HTTPClient *http.Client
	Logger     observe.Logger
}

// WSSource opens change-feed channels over a websocket. Each Open dials a
// new connection.
type WSSource struct {
	cfg WSConfig
}

// NewWSSource creates a WSSource.
func NewWSSource(cfg WSConfig) (*WSSource, error) {
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("realtime: parse url: %w", err)
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 10 * time.Second
	}
	if cfg.Token == nil {
		key := cfg.APIKey
		cfg.Token = func(context.Context) (string, error) { return key, nil }
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	return &WSSource{cfg: cfg}, nil
}

// wire frames
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

type changeSpec struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type joinPayload struct {
	Config struct {
		PostgresChanges []changeSpec `json:"postgres_changes"`
	} `json:"config"`
	AccessToken string `json:"access_token,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

const (
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventClose     = "phx_close"
	eventError     = "phx_error"
	eventHeartbeat = "heartbeat"
	eventChanges   = "postgres_changes"
	topicPhoenix   = "phoenix"
)

// Open dials the feed, joins channel with filters and waits for the join
// reply.
func (s *WSSource) Open(ctx context.Context, channel string, filters []Filter) (Stream, error) {
	u, _ := url.Parse(s.cfg.URL)
	q := u.Query()
	if s.cfg.APIKey != "" {
		q.Set("apikey", s.cfg.APIKey)
	}
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPClient: s.cfg.HTTPClient})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}

	st := &wsStream{
		conn:   conn,
		topic:  "realtime:" + channel,
		logger: s.cfg.Logger,
		stop:   make(chan struct{}),
	}
	if err := st.join(ctx, s.cfg, filters); err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "join failed")
		return nil, err
	}

	st.wg.Add(1)
	go st.heartbeat(s.cfg.HeartbeatInterval)
	return st, nil
}

type wsStream struct {
	conn   *websocket.Conn
	topic  string
	logger observe.Logger

	ref     atomic.Int64
	pending []Event

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (st *wsStream) nextRef() string {
	return strconv.FormatInt(st.ref.Add(1), 10)
}

func (st *wsStream) join(ctx context.Context, cfg WSConfig, filters []Filter) error {
	token, err := cfg.Token(ctx)
	if err != nil {
		return fmt.Errorf("realtime: token: %w", err)
	}
	var p joinPayload
	p.AccessToken = token
	for _, f := range filters {
		p.Config.PostgresChanges = append(p.Config.PostgresChanges, changeSpec{
			Event:  f.EventName(),
			Schema: f.schema(),
			Table:  f.Table,
			Filter: f.ServerFilter(),
		})
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("realtime: encode join: %w", err)
	}
	ref := st.nextRef()
	if err := wsjson.Write(ctx, st.conn, frame{Topic: st.topic, Event: eventJoin, Payload: payload, Ref: ref}); err != nil {
		return fmt.Errorf("realtime: send join: %w", err)
	}

	joinCtx, cancel := context.WithTimeout(ctx, cfg.JoinTimeout)
	defer cancel()
	for {
		var f frame
		if err := wsjson.Read(joinCtx, st.conn, &f); err != nil {
			return fmt.Errorf("realtime: await join reply: %w", err)
		}
		if f.Event == eventReply && f.Ref == ref {
			var r replyPayload
			if err := json.Unmarshal(f.Payload, &r); err != nil {
				return fmt.Errorf("realtime: decode join reply: %w", err)
			}
			if r.Status != "ok" {
				return fmt.Errorf("%w: %s %s", ErrJoinRejected, r.Status, r.Response)
			}
			return nil
		}
		if e, ok, err := st.decode(f); err == nil && ok {
			st.pending = append(st.pending, e)
		}
	}
}

func (st *wsStream) heartbeat(interval time.Duration) {
	defer st.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-st.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := wsjson.Write(ctx, st.conn, frame{Topic: topicPhoenix, Event: eventHeartbeat, Payload: json.RawMessage(`{}`), Ref: st.nextRef()})
			cancel()
			if err != nil {
				st.logger.Debug(context.Background(), "heartbeat failed", observe.Err(err))
				return
			}
		}
	}
}

// Recv returns the next change event. Replies, heartbeats and presence
// frames are skipped.
func (st *wsStream) Recv(ctx context.Context) (Event, error) {
	if len(st.pending) > 0 {
		e := st.pending[0]
		st.pending = st.pending[1:]
		return e, nil
	}
	for {
		var f frame
		if err := wsjson.Read(ctx, st.conn, &f); err != nil {
			select {
			case <-st.stop:
				return Event{}, ErrStreamClosed
			default:
			}
			var ce websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.StatusNormalClosure {
				return Event{}, ErrStreamClosed
			}
			return Event{}, err
		}
		if f.Event == eventClose || f.Event == eventError {
			return Event{}, fmt.Errorf("%w: server sent %s", ErrStreamClosed, f.Event)
		}
		e, ok, err := st.decode(f)
		if err != nil {
			st.logger.Warn(ctx, "undecodable change frame", observe.F("event", f.Event), observe.Err(err))
			continue
		}
		if ok {
			return e, nil
		}
	}
}

// decode extracts a change event from f. ok is false for frames that carry
// none.
func (st *wsStream) decode(f frame) (Event, bool, error) {
	var e Event
	switch f.Event {
	case eventChanges:
		var p struct {
			Data Event `json:"data"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return e, false, err
		}
		e = p.Data
	case string(EventInsert), string(EventUpdate), string(EventDelete):
		if err := json.Unmarshal(f.Payload, &e); err != nil {
			return e, false, err
		}
		if e.Type == "" {
			e.Type = EventType(f.Event)
		}
	default:
		return e, false, nil
	}
	if e.Table == "" || e.Type == "" {
		return e, false, fmt.Errorf("change without table or type")
	}
	return e, true, nil
}

// Close leaves the channel and closes the connection. A connection already
// torn down by a cancelled Recv is not an error.
func (st *wsStream) Close() error {
	st.closeOnce.Do(func() {
		close(st.stop)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = wsjson.Write(ctx, st.conn, frame{Topic: st.topic, Event: eventLeave, Payload: json.RawMessage(`{}`), Ref: st.nextRef()})
		cancel()
		if err := st.conn.Close(websocket.StatusNormalClosure, "unsubscribe"); err != nil {
			st.logger.Debug(context.Background(), "websocket close", observe.Err(err))
		}
		st.wg.Wait()
	})
	return nil
}

var _ Source = (*WSSource)(nil)
