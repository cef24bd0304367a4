package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/soudan-ai/soudan/internal/auth"
	"github.com/soudan-ai/soudan/internal/model"
	"github.com/soudan-ai/soudan/internal/storage"
)

// HandleRegister handles POST /auth/register.
func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := model.ValidateUsername(req.Username); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if err := model.ValidateEmail(req.Email); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if err := model.ValidatePassword(req.Password); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("password hashing failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to create account")
		return
	}

	user, err := h.db.CreateUser(r.Context(), model.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         model.RoleUser,
		IsActive:     true,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "username or email already taken")
			return
		}
		h.logger.Error("create user failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to create account")
		return
	}

	writeJSON(w, r, http.StatusCreated, user)
}

// HandleLogin handles POST /auth/login.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	user, err := h.db.GetUserByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		// Burn comparable time so unknown usernames are not distinguishable
		// from wrong passwords.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	valid, err := auth.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}
	if !user.IsActive {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "account is deactivated")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(user)
	if err != nil {
		h.logger.Error("token issuance failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to issue token")
		return
	}

	writeJSON(w, r, http.StatusOK, model.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		User:        user,
	})
}

// HandleUpgradeGuests handles POST /auth/admin/upgrade-guests.
// Bulk-promotes every guest account to a full user account.
func (h *Handlers) HandleUpgradeGuests(w http.ResponseWriter, r *http.Request) {
	n, err := h.db.UpgradeGuests(r.Context())
	if err != nil {
		h.logger.Error("guest upgrade failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to upgrade guests")
		return
	}
	writeJSON(w, r, http.StatusOK, model.UpgradeGuestsResponse{UpgradedCount: int(n)})
}
