package notification

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/domain"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/httpx"
	myMiddleware "github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/middleware"
)

type Handler struct {
	svc *Service
	log *zap.Logger
}

func NewHandler(svc *Service, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log.Named("notification-handler")}
}

// Routes mounts the notification endpoints. The caller is expected to have
// applied the auth middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Delete("/", h.DeleteAll)
	r.Get("/unread/count", h.UnreadCount)
	r.Get("/recent", h.Recent)
	r.Get("/stats", h.Stats)
	r.Get("/type/{type}", h.ListByType)
	r.Put("/read/all", h.MarkAllRead)
	r.Put("/{id}/read", h.MarkRead)
	r.Delete("/{id}", h.Delete)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, domain.NotificationType(r.URL.Query().Get("type")))
}

func (h *Handler) ListByType(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, domain.NotificationType(chi.URLParam(r, "type")))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, typ domain.NotificationType) {
	userID, _, ok := myMiddleware.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	page, limit, err := httpx.Pagination(r, DefaultPageSize, MaxPageSize)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	res, err := h.svc.List(r.Context(), userID, page, limit, typ)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Data: res})
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	count, err := h.svc.UnreadCount(r.Context(), userID)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Data: UnreadCountResponse{Count: count}})
}

func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	items, err := h.svc.Recent(r.Context(), userID)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Data: items})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	stats, err := h.svc.Stats(r.Context(), userID)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Data: stats})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := httpx.PathID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid notification id")
		return
	}
	if err := h.svc.MarkRead(r.Context(), id, userID); err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Message: "notification marked as read"})
}

func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	n, err := h.svc.MarkAllRead(r.Context(), userID)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Data: CountResponse{Count: n}})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := httpx.PathID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid notification id")
		return
	}
	if err := h.svc.Delete(r.Context(), id, userID); err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Message: "notification deleted"})
}

func (h *Handler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	n, err := h.svc.DeleteAll(r.Context(), userID)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Data: CountResponse{Count: n}})
}
