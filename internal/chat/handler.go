package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/apperr"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/httpx"
	myMiddleware "github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/middleware"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/wire"
)

// Options tunes the websocket side of the handler.
type Options struct {
	AllowedOrigins []string
	FrameRate      rate.Limit
	FrameBurst     int
}

type Handler struct {
	hub      *Hub
	svc      *Service
	log      *zap.Logger
	opts     Options
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, svc *Service, opts Options, log *zap.Logger) *Handler {
	h := &Handler{hub: hub, svc: svc, log: log.Named("chat-handler"), opts: opts}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	return lo.Contains(h.opts.AllowedOrigins, "*") || lo.Contains(h.opts.AllowedOrigins, origin)
}

// Routes mounts the conversation endpoints under /api/messages.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/conversations", h.ListConversations)
	r.Get("/conversations/{id}", h.GetConversation)
	r.Post("/conversations/{id}/messages", h.SendMessage)
	r.Put("/conversations/{id}/read", h.MarkRead)
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	convs, err := h.svc.GetUserConversations(r.Context(), userID)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Data: convs})
}

func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := httpx.PathID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	detail, err := h.svc.GetConversation(r.Context(), id, userID)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Data: detail})
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := httpx.PathID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	var req SendMessageRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	msg, err := h.svc.SendMessage(r.Context(), id, userID, req.Content)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, httpx.Envelope{Success: true, Data: msg})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := httpx.PathID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	n, err := h.svc.MarkRead(r.Context(), id, userID)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Data: MarkReadResponse{Updated: n}})
}

// ServeWs upgrades an authenticated request and registers the connection,
// which joins its user room straight away.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, username, ok := myMiddleware.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	var limiter *rate.Limiter
	if h.opts.FrameRate > 0 {
		limiter = rate.NewLimiter(h.opts.FrameRate, h.opts.FrameBurst)
	}
	client := NewClient(h.hub, conn, userID, username, limiter, h.HandleFrame, h.log)

	select {
	case h.hub.Register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	// The request context ends when ServeWs returns; the pumps outlive it.
	ctx := context.WithoutCancel(r.Context())
	go client.WritePump()
	go client.ReadPump(ctx)
}

// HandleFrame routes one inbound frame. Failures are answered with
// message_error on the sending connection only.
func (h *Handler) HandleFrame(ctx context.Context, c *Client, frame wire.Frame) {
	var err error
	switch frame.Event {
	case wire.EventJoinConversation:
		err = h.onJoin(ctx, c, frame.Data)
	case wire.EventLeaveConversation:
		err = h.onLeave(ctx, c, frame.Data)
	case wire.EventSendMessage:
		err = h.onSendMessage(ctx, c, frame.Data)
	case wire.EventMarkAsRead:
		err = h.onMarkAsRead(ctx, c, frame.Data)
	default:
		err = fmt.Errorf("%w: unknown event %q", apperr.ErrValidation, frame.Event)
	}
	if err != nil {
		if apperr.Status(err) == http.StatusInternalServerError {
			c.log.Error("frame failed", zap.String("event", frame.Event), zap.Error(err))
		}
		c.reply(ctx, wire.EventMessageError, wire.MessageError{Error: frameError(err)})
	}
}

func frameError(err error) string {
	if apperr.Status(err) == http.StatusInternalServerError {
		return "failed to process request"
	}
	return err.Error()
}

// conversationID accepts either a bare number or {"conversationId": n}.
func conversationID(data json.RawMessage) (int64, error) {
	var id int64
	if err := json.Unmarshal(data, &id); err == nil && id > 0 {
		return id, nil
	}
	var obj wire.MarkAsRead
	if err := json.Unmarshal(data, &obj); err == nil && obj.ConversationID > 0 {
		return obj.ConversationID, nil
	}
	return 0, fmt.Errorf("%w: conversation id required", apperr.ErrValidation)
}

func (h *Handler) onJoin(ctx context.Context, c *Client, data json.RawMessage) error {
	id, err := conversationID(data)
	if err != nil {
		return err
	}
	if err := h.svc.CanJoin(ctx, id, c.UserID); err != nil {
		return err
	}
	return h.hub.Join(ctx, c, ConversationRoom(id))
}

func (h *Handler) onLeave(ctx context.Context, c *Client, data json.RawMessage) error {
	id, err := conversationID(data)
	if err != nil {
		return err
	}
	return h.hub.Leave(ctx, c, ConversationRoom(id))
}

func (h *Handler) onSendMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var req wire.SendMessage
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: malformed send_message", apperr.ErrValidation)
	}
	if req.SenderID != 0 && req.SenderID != c.UserID {
		return fmt.Errorf("%w: sender does not match connection", apperr.ErrForbidden)
	}
	_, err := h.svc.SendMessage(ctx, req.ConversationID, c.UserID, req.Content)
	return err
}

func (h *Handler) onMarkAsRead(ctx context.Context, c *Client, data json.RawMessage) error {
	var req wire.MarkAsRead
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: malformed mark_as_read", apperr.ErrValidation)
	}
	if req.UserID != 0 && req.UserID != c.UserID {
		return fmt.Errorf("%w: reader does not match connection", apperr.ErrForbidden)
	}
	_, err := h.svc.MarkRead(ctx, req.ConversationID, c.UserID)
	return err
}
