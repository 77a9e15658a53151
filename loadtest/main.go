package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/client"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/domain"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/wire"
)

var (
	baseURL  = flag.String("url", "http://localhost:8080", "server base url")
	pairs    = flag.Int("pairs", 50, "author/helper pairs; start small, the database chokes on thousands")
	msgCount = flag.Int("messages", 20, "messages sent by each user")
	settle   = flag.Duration("settle", 3*time.Second, "time to wait for pushes after the last send")
)

type stats struct {
	sent      atomic.Int64
	received  atomic.Int64
	notices   atomic.Int64
	frameErrs atomic.Int64
	failed    atomic.Int64
}

type account struct {
	ID    int64
	Name  string
	Token string
}

func main() {
	flag.Parse()
	log, _ := zap.NewDevelopment()
	defer log.Sync()

	log.Info("starting load test", zap.Int("users", *pairs*2), zap.Int("messages_each", *msgCount))
	start := time.Now()
	var st stats
	var wg sync.WaitGroup

	// Pair i: user a posts a request, user b offers help, a accepts, then both
	// talk in the conversation that acceptance opened.
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			if err := runPair(pairID, &st, log); err != nil {
				st.failed.Add(1)
				log.Warn("pair failed", zap.Int("pair", pairID), zap.Error(err))
			}
		}(i)
	}
	wg.Wait()

	log.Info("load test complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("sent", st.sent.Load()),
		zap.Int64("received", st.received.Load()),
		zap.Int64("notifications", st.notices.Load()),
		zap.Int64("frame_errors", st.frameErrs.Load()),
		zap.Int64("failed_pairs", st.failed.Load()),
	)
}

func runPair(pairID int, st *stats, log *zap.Logger) error {
	ctx := context.Background()
	pass := "password123"
	a, err := authenticate(fmt.Sprintf("u%da", pairID), pass)
	if err != nil {
		return err
	}
	b, err := authenticate(fmt.Sprintf("u%db", pairID), pass)
	if err != nil {
		return err
	}

	convID, err := openConversation(a, b)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, acc := range []account{a, b} {
		wg.Add(1)
		go func(acc account) {
			defer wg.Done()
			if err := chatter(ctx, acc, convID, st, log); err != nil {
				errs <- fmt.Errorf("%s: %w", acc.Name, err)
			}
		}(acc)
	}
	wg.Wait()
	close(errs)
	return <-errs
}

// authenticate registers the user, falling back to login when it exists.
func authenticate(username, password string) (account, error) {
	creds := map[string]string{"username": username, "password": password}
	var res struct {
		Token    string `json:"access_token"`
		ID       int64  `json:"id"`
		Username string `json:"username"`
	}
	// /register and /login are rate limited per IP, and every simulated user
	// shares this host's address.
	path := "/register"
	var status int
	var err error
	for attempt := 0; attempt < 60; attempt++ {
		status, err = call(http.MethodPost, path, "", creds, &res)
		if err == nil && status == http.StatusConflict && path == "/register" {
			path = "/login"
			continue
		}
		if err != nil || status != http.StatusTooManyRequests {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		return account{}, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return account{}, fmt.Errorf("auth %s: status %d", username, status)
	}
	return account{ID: res.ID, Name: res.Username, Token: res.Token}, nil
}

func openConversation(author, helper account) (int64, error) {
	var post domain.HelpPost
	if err := envelope(http.MethodPost, "/api/help", author.Token, map[string]interface{}{
		"title":       "Load test " + author.Name,
		"description": "Generated by the load tester",
		"category":    "Other",
		"location":    "Anywhere",
		"neededBy":    time.Now().Add(24 * time.Hour).UTC(),
	}, &post); err != nil {
		return 0, fmt.Errorf("create post: %w", err)
	}

	postPath := "/api/help/" + strconv.FormatInt(post.ID, 10)
	if err := envelope(http.MethodPost, postPath+"/offer-help", helper.Token,
		map[string]string{"message": "on it"}, &post); err != nil {
		return 0, fmt.Errorf("offer help: %w", err)
	}
	offer, ok := post.HelperByUser(helper.ID)
	if !ok {
		return 0, fmt.Errorf("offer from %s missing", helper.Name)
	}
	acceptPath := postPath + "/helpers/" + strconv.FormatInt(offer.ID, 10) + "/accept"
	if err := envelope(http.MethodPut, acceptPath, author.Token, nil, &post); err != nil {
		return 0, fmt.Errorf("accept: %w", err)
	}

	var convs []domain.Conversation
	if err := envelope(http.MethodGet, "/api/messages/conversations", author.Token, nil, &convs); err != nil {
		return 0, fmt.Errorf("list conversations: %w", err)
	}
	for _, c := range convs {
		if c.HelpPostID == post.ID {
			return c.ID, nil
		}
	}
	return 0, fmt.Errorf("no conversation for post %d", post.ID)
}

func chatter(ctx context.Context, acc account, convID int64, st *stats, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := client.NewSession(client.Config{
		BaseURL: *baseURL,
		Token:   acc.Token,
		OnFrame: func(f wire.Frame) {
			switch f.Event {
			case wire.EventNewMessage:
				st.received.Add(1)
			case wire.EventNewMessageNotification:
				st.notices.Add(1)
			case wire.EventMessageError:
				st.frameErrs.Add(1)
			}
		},
	}, client.NewMirror(), log)
	go session.Run(ctx)

	deadline := time.Now().Add(10 * time.Second)
	for !session.Connected() {
		if time.Now().After(deadline) {
			return fmt.Errorf("websocket never connected")
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := session.JoinConversation(convID); err != nil {
		return err
	}
	for i := 0; i < *msgCount; i++ {
		if err := session.SendMessage(convID, fmt.Sprintf("load test msg %d from %s", i, acc.Name)); err != nil {
			return err
		}
		st.sent.Add(1)
		// Spread sends a little so localhost is not the bottleneck.
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(*settle)
	return session.MarkConversationRead(convID)
}

// envelope calls an API endpoint and decodes the data field of the response.
func envelope(method, path, token string, body, out interface{}) error {
	var env struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	status, err := call(method, path, token, body, &env)
	if err != nil {
		return err
	}
	if !env.Success {
		return fmt.Errorf("%s %s: status %d: %s", method, path, status, env.Message)
	}
	return json.Unmarshal(env.Data, out)
}

func call(method, path, token string, body, out interface{}) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequest(method, *baseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}
