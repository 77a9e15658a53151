package helppost

import (
	"context"
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
	return &Handler{svc: svc, log: log.Named("helppost-handler")}
}

// Routes mounts the help board under /api/help.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/my-posts", h.Mine)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/offer-help", h.OfferHelp)
	r.Put("/{id}/helpers/{helperId}/accept", h.Accept)
	r.Put("/{id}/helpers/{helperId}/reject", h.Reject)
	r.Put("/{id}/status", h.UpdateStatus)
}

func caller(w http.ResponseWriter, r *http.Request) (domain.UserRef, bool) {
	id, username, ok := myMiddleware.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "unauthorized")
	}
	return domain.UserRef{ID: id, Username: username}, ok
}

func postID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := httpx.PathID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid help post id")
		return 0, false
	}
	return id, true
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	me, ok := caller(w, r)
	if !ok {
		return
	}
	var req PostRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	post, err := h.svc.Create(r.Context(), me, req)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, httpx.Envelope{Success: true, Message: "Help post created", Data: post})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, limit, err := httpx.Pagination(r, DefaultPageSize, MaxPageSize)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	q := r.URL.Query()
	res, err := h.svc.List(r.Context(), Filter{
		Category: q.Get("category"),
		Status:   domain.PostStatus(q.Get("status")),
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Data: res})
}

func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	me, ok := caller(w, r)
	if !ok {
		return
	}
	posts, err := h.svc.Mine(r.Context(), me.ID)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Data: posts})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	post, err := h.svc.Get(r.Context(), id)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Data: post})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	me, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := postID(w, r)
	if !ok {
		return
	}
	var req PostRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	post, err := h.svc.Update(r.Context(), me.ID, id, req)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Message: "Help post updated", Data: post})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	me, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := postID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), me.ID, id); err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Message: "Help post deleted"})
}

func (h *Handler) OfferHelp(w http.ResponseWriter, r *http.Request) {
	me, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := postID(w, r)
	if !ok {
		return
	}
	var req OfferRequest
	if r.ContentLength != 0 {
		if err := httpx.Decode(r, &req); err != nil {
			httpx.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	post, err := h.svc.OfferHelp(r.Context(), me, id, req)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Message: "Help offered", Data: post})
}

func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.AcceptHelper, "Helper accepted")
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.RejectHelper, "Helper rejected")
}

type decision func(ctx context.Context, userID, postID, helperID int64) (*domain.HelpPost, error)

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, fn decision, msg string) {
	me, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := postID(w, r)
	if !ok {
		return
	}
	helperID, err := httpx.PathID(chi.URLParam(r, "helperId"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid helper id")
		return
	}
	post, err := fn(r.Context(), me.ID, id, helperID)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Message: msg, Data: post})
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	me, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := postID(w, r)
	if !ok {
		return
	}
	var req StatusRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	post, err := h.svc.UpdateStatus(r.Context(), me, id, req)
	if err != nil {
		httpx.Fail(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Message: "Status updated", Data: post})
}
