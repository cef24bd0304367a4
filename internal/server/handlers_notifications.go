package server

import (
	"errors"
	"net/http"

	"github.com/soudan-ai/soudan/internal/model"
	"github.com/soudan-ai/soudan/internal/storage"
)

// HandleListNotifications handles GET /v1/notifications.
func (h *Handlers) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	limit, offset := parsePagination(r, 20, 100)
	unreadOnly := r.URL.Query().Get("unread_only") == "true"

	views, err := h.db.ListNotifications(r.Context(), claims.UserID(), unreadOnly, limit, offset)
	if err != nil {
		h.logger.Error("list notifications failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list notifications")
		return
	}
	if views == nil {
		views = []model.NotificationView{}
	}
	writeList(w, r, views, nil, len(views), limit, offset)
}

// HandleNotificationStats handles GET /v1/notifications/stats.
// Backed by the Redis cache when configured; the cache is invalidated on
// every write that changes counts.
func (h *Handlers) HandleNotificationStats(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	userID := claims.UserID()

	if stats, ok := h.statsCache.Get(r.Context(), userID); ok {
		writeJSON(w, r, http.StatusOK, stats)
		return
	}

	stats, err := h.db.NotificationStats(r.Context(), userID)
	if err != nil {
		h.logger.Error("notification stats failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load notification stats")
		return
	}
	h.statsCache.Set(r.Context(), userID, stats)
	writeJSON(w, r, http.StatusOK, stats)
}

// HandleMarkNotificationRead handles POST /v1/notifications/{id}/read.
func (h *Handlers) HandleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid notification id")
		return
	}

	if err := h.db.MarkNotificationRead(r.Context(), claims.UserID(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "notification not found")
			return
		}
		h.logger.Error("mark notification read failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to mark notification read")
		return
	}
	h.statsCache.Invalidate(r.Context(), claims.UserID())
	writeJSON(w, r, http.StatusOK, model.MarkReadResponse{MarkedCount: 1})
}

// HandleMarkAllNotificationsRead handles POST /v1/notifications/read-all.
func (h *Handlers) HandleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	n, err := h.db.MarkAllNotificationsRead(r.Context(), claims.UserID())
	if err != nil {
		h.logger.Error("mark all notifications read failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to mark notifications read")
		return
	}
	h.statsCache.Invalidate(r.Context(), claims.UserID())
	writeJSON(w, r, http.StatusOK, model.MarkReadResponse{MarkedCount: int(n)})
}
