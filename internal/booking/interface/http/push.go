package http

import (
	"errors"
	"net/http"
	"time"

	"carpool/internal/notification"
	"carpool/pkg/logger"
)

// SubscribeRequest wraps the browser's PushSubscription JSON.
type SubscribeRequest struct {
	Subscription notification.PushEndpoint `json:"subscription"`
}

// Subscribe handles POST /push/subscribe
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req SubscribeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	sub, err := h.registry.Register(r.Context(), userID, req.Subscription)
	switch {
	case errors.Is(err, notification.ErrInvalidSubscription):
		writeBadRequest(w, err.Error())
		return
	case err != nil:
		h.logger.WithFields(logger.LogFields{"user_id": userID}).Error("push_subscribe_failed", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:     http.StatusText(http.StatusInternalServerError),
			Code:      "INTERNAL",
			Message:   "internal error",
			Retryable: true,
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"id":      sub.ID,
	})
}

// SendTestPush handles POST /push/test
func (h *Handler) SendTestPush(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	if !h.allow(w, userID) {
		return
	}

	report, err := h.dispatcher.SendTest(r.Context(), userID)
	switch {
	case errors.Is(err, notification.ErrNoSubscriptions):
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error:   http.StatusText(http.StatusNotFound),
			Code:    "NO_SUBSCRIPTIONS",
			Message: err.Error(),
		})
		return
	case err != nil:
		h.logger.WithFields(logger.LogFields{"user_id": userID}).Error("push_test_failed", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:     http.StatusText(http.StatusInternalServerError),
			Code:      "INTERNAL",
			Message:   "internal error",
			Retryable: true,
		})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// TokenRequest asks for a development token.
type TokenRequest struct {
	UserID string `json:"user_id"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	UserID    string `json:"user_id"`
}

// GenerateTestToken handles POST /auth/token when dev tokens are enabled.
func (h *Handler) GenerateTestToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := decodeBody(w, r, &req); err != nil || req.UserID == "" {
		writeBadRequest(w, "user_id is required")
		return
	}

	token, err := h.jwtManager.GenerateToken(req.UserID)
	if err != nil {
		h.logger.Error("generate_token_failed", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   http.StatusText(http.StatusInternalServerError),
			Code:    "INTERNAL",
			Message: "failed to generate token",
		})
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(h.jwtManager.TokenDuration()).UTC().Format(time.RFC3339),
		UserID:    req.UserID,
	})
}
