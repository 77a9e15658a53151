package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/domain"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/wire"
)

var ErrOffline = errors.New("websocket not connected")

const (
	DefaultPollInterval = 10 * time.Second
	DefaultMinBackoff   = 500 * time.Millisecond
	DefaultMaxBackoff   = 30 * time.Second

	writeWait = 10 * time.Second

	// postPageSize matches the server's largest help post page.
	postPageSize = 50
)

type Config struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL string
	Token   string

	PollInterval time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration

	HTTPClient *http.Client
	Dialer     *websocket.Dialer

	// OnFrame, when set, sees every pushed frame after the mirror applied it.
	OnFrame func(wire.Frame)
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = DefaultMinBackoff
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = max(DefaultMaxBackoff, c.MinBackoff)
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// Session drives a Mirror. While the websocket is up it is push-driven; when
// it is down it polls the HTTP API and keeps redialing with backoff. Every
// successful (re)connect starts with one full fetch.
type Session struct {
	cfg    Config
	mirror *Mirror
	log    *zap.Logger

	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
	polls     atomic.Int64

	roomsMu sync.Mutex
	rooms   map[int64]struct{}
}

func NewSession(cfg Config, mirror *Mirror, log *zap.Logger) *Session {
	cfg.defaults()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Session{
		cfg:    cfg,
		mirror: mirror,
		log:    log.Named("client-session"),
		rooms:  make(map[int64]struct{}),
	}
}

func (s *Session) Mirror() *Mirror { return s.mirror }

func (s *Session) Connected() bool { return s.connected.Load() }

// Polls reports how many offline poll rounds have run.
func (s *Session) Polls() int64 { return s.polls.Load() }

// Run blocks until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	backoff := s.cfg.MinBackoff
	for {
		conn, err := s.dial(ctx)
		if err == nil {
			backoff = s.cfg.MinBackoff
			s.attach(conn)
			// Rooms are rejoined before the fetch so nothing written in between
			// is missed; pushes that overlap the fetch are deduplicated by id.
			s.rejoin()
			if err := s.Fetch(ctx); err != nil {
				s.log.Warn("full fetch after connect failed", zap.Error(err))
			}
			s.serve(ctx, conn)
		} else if ctx.Err() == nil {
			s.log.Debug("dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := s.offline(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, s.cfg.MaxBackoff)
	}
}

func (s *Session) wsURL() (string, error) {
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {s.cfg.Token}}.Encode()
	return u.String(), nil
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := s.wsURL()
	if err != nil {
		return nil, err
	}
	conn, resp, err := s.cfg.Dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func (s *Session) attach(conn *websocket.Conn) {
	s.writeMu.Lock()
	s.conn = conn
	s.writeMu.Unlock()
}

// rejoin replays join_conversation for every room joined on earlier connections.
func (s *Session) rejoin() {
	for _, id := range s.Rooms() {
		if err := s.Send(wire.EventJoinConversation, id); err != nil {
			s.log.Warn("rejoin failed", zap.Int64("conversation", id), zap.Error(err))
			return
		}
	}
}

// serve reads pushes until the connection drops or ctx ends.
func (s *Session) serve(ctx context.Context, conn *websocket.Conn) {
	s.connected.Store(true)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	defer func() {
		close(done)
		s.connected.Store(false)
		s.writeMu.Lock()
		s.conn = nil
		s.writeMu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Info("websocket closed", zap.Error(err))
			}
			return
		}
		// The server coalesces queued frames into one message, one per line.
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var f wire.Frame
			if err := json.Unmarshal(line, &f); err != nil {
				s.log.Warn("bad frame", zap.Error(err))
				continue
			}
			if err := s.mirror.Apply(f); err != nil {
				s.log.Warn("apply frame failed", zap.String("event", f.Event), zap.Error(err))
			}
			if s.cfg.OnFrame != nil {
				s.cfg.OnFrame(f)
			}
		}
	}
}

// offline polls at the fixed interval until wait has passed.
func (s *Session) offline(ctx context.Context, wait time.Duration) error {
	retry := time.NewTimer(wait)
	defer retry.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-retry.C:
			return nil
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Session) poll(ctx context.Context) {
	s.polls.Add(1)
	if err := s.Fetch(ctx); err != nil && ctx.Err() == nil {
		s.log.Debug("poll failed", zap.Error(err))
	}
}

// Send writes one frame on the live connection.
func (s *Session) Send(event string, payload interface{}) error {
	raw, err := wire.Encode(event, payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return ErrOffline
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, raw)
}

// JoinConversation subscribes to a conversation's room. The room is
// remembered and rejoined after every reconnect, even when the session is
// offline right now and the error is ErrOffline.
func (s *Session) JoinConversation(conversationID int64) error {
	s.roomsMu.Lock()
	s.rooms[conversationID] = struct{}{}
	s.roomsMu.Unlock()
	return s.Send(wire.EventJoinConversation, conversationID)
}

func (s *Session) LeaveConversation(conversationID int64) error {
	s.roomsMu.Lock()
	delete(s.rooms, conversationID)
	s.roomsMu.Unlock()
	return s.Send(wire.EventLeaveConversation, conversationID)
}

// Rooms returns the joined conversation ids in ascending order.
func (s *Session) Rooms() []int64 {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	ids := lo.Keys(s.rooms)
	slices.Sort(ids)
	return ids
}

func (s *Session) SendMessage(conversationID int64, content string) error {
	return s.Send(wire.EventSendMessage, wire.SendMessage{ConversationID: conversationID, Content: content})
}

func (s *Session) MarkConversationRead(conversationID int64) error {
	return s.Send(wire.EventMarkAsRead, wire.MarkAsRead{ConversationID: conversationID})
}

// Fetch pulls posts, conversations, notifications, the unread count and the
// message history of every joined or loaded conversation, and replaces the
// mirror's copies with them.
func (s *Session) Fetch(ctx context.Context) error {
	posts, err := s.fetchPosts(ctx)
	if err != nil {
		return err
	}
	var convs []domain.Conversation
	if err := s.get(ctx, "/api/messages/conversations", &convs); err != nil {
		return err
	}
	var page struct {
		Items []domain.Notification `json:"items"`
	}
	if err := s.get(ctx, "/api/notifications?page=1&limit=20", &page); err != nil {
		return err
	}
	var unread struct {
		Count int `json:"count"`
	}
	if err := s.get(ctx, "/api/notifications/unread/count", &unread); err != nil {
		return err
	}

	s.mirror.ReplacePosts(posts)
	s.mirror.ReplaceConversations(convs)
	s.mirror.ReplaceNotifications(page.Items, unread.Count)

	var errs []error
	for _, id := range lo.Union(s.Rooms(), s.mirror.Threads()) {
		if err := s.FetchMessages(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// fetchPosts walks every page of the post feed.
func (s *Session) fetchPosts(ctx context.Context) ([]domain.HelpPost, error) {
	all := []domain.HelpPost{}
	for page := 1; ; page++ {
		var res struct {
			Posts      []domain.HelpPost `json:"posts"`
			TotalPages int               `json:"totalPages"`
		}
		path := fmt.Sprintf("/api/help?page=%d&limit=%d", page, postPageSize)
		if err := s.get(ctx, path, &res); err != nil {
			return nil, err
		}
		all = append(all, res.Posts...)
		if page >= res.TotalPages || len(res.Posts) == 0 {
			return all, nil
		}
	}
}

// FetchMessages loads one conversation's history into the mirror.
func (s *Session) FetchMessages(ctx context.Context, conversationID int64) error {
	var detail struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := s.get(ctx, fmt.Sprintf("/api/messages/conversations/%d", conversationID), &detail); err != nil {
		return err
	}
	s.mirror.ReplaceMessages(conversationID, detail.Messages)
	return nil
}

// get decodes the data field of a success envelope into out.
func (s *Session) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&env); err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK || !env.Success {
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, env.Message)
	}
	if len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
