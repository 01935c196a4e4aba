package verification

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/side/eventful/internal/domain"
	"github.com/side/eventful/internal/httputil"
	"github.com/side/eventful/internal/verification"
)

// CodeService issues and redeems verification codes. Implemented by
// verification.Service.
type CodeService interface {
	RequestCode(ctx context.Context, identity string, purpose domain.Purpose) (*verification.IssueResult, error)
	Redeem(ctx context.Context, identity string, purpose domain.Purpose, code string) (*domain.SessionGrant, error)
}

// GrantService validates and revokes session grants. Implemented by
// auth.SessionBinding.
type GrantService interface {
	Validate(ctx context.Context, rawToken string) (*domain.SessionGrant, error)
	Revoke(ctx context.Context, rawToken string) error
}

// Handler handles verification endpoints.
type Handler struct {
	logger  *slog.Logger
	service CodeService
	grants  GrantService
}

// NewHandler creates a new verification handler.
func NewHandler(logger *slog.Logger, service CodeService, grants GrantService) *Handler {
	return &Handler{
		logger:  logger,
		service: service,
		grants:  grants,
	}
}

type RequestCodeRequest struct {
	Identity string `json:"identity"`
	Purpose  string `json:"purpose"`
}

type RequestCodeResponse struct {
	RecordID  string    `json:"record_id"`
	Delivered bool      `json:"delivered"`
	ExpiresAt time.Time `json:"expires_at"`
}

type RedeemRequest struct {
	Identity string `json:"identity"`
	Purpose  string `json:"purpose"`
	Code     string `json:"code"`
}

type GrantResponse struct {
	GrantToken string `json:"grant_token"`
	Assertion  string `json:"assertion"`
	TokenType  string `json:"token_type"`
	ExpiresIn  int    `json:"expires_in"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// RequestCode issues and delivers a verification code.
// POST /v1/verification/request
func (h *Handler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req RequestCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Identity == "" || req.Purpose == "" {
		httputil.Error(w, http.StatusBadRequest, "identity and purpose are required")
		return
	}

	result, err := h.service.RequestCode(r.Context(), req.Identity, domain.Purpose(req.Purpose))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRateLimited):
			httputil.Error(w, http.StatusTooManyRequests, "rate limit exceeded. please try again later")
		case errors.Is(err, domain.ErrInvalidIdentity):
			httputil.Error(w, http.StatusBadRequest, "invalid identity")
		case errors.Is(err, domain.ErrUnknownPurpose):
			httputil.Error(w, http.StatusBadRequest, "unknown purpose")
		case errors.Is(err, domain.ErrConflict):
			httputil.Error(w, http.StatusConflict, "concurrent request in progress. please retry")
		default:
			h.logger.Error("failed to issue verification code", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "failed to issue verification code")
		}
		return
	}

	// Delivered=false means the code is stored and redeemable but the
	// mail did not go out; the client should offer a resend.
	httputil.JSON(w, http.StatusOK, RequestCodeResponse{
		RecordID:  result.RecordID.String(),
		Delivered: result.Delivered,
		ExpiresAt: result.ExpiresAt,
	})
}

// Redeem consumes a verification code and returns a session grant.
// POST /v1/verification/redeem
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Identity == "" || req.Purpose == "" || req.Code == "" {
		httputil.Error(w, http.StatusBadRequest, "identity, purpose and code are required")
		return
	}

	grant, err := h.service.Redeem(r.Context(), req.Identity, domain.Purpose(req.Purpose), req.Code)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRateLimited):
			httputil.Error(w, http.StatusTooManyRequests, "rate limit exceeded. please try again later")
		case errors.Is(err, domain.ErrWrongCode):
			httputil.Error(w, http.StatusBadRequest, "incorrect verification code")
		case errors.Is(err, domain.ErrCodeExpired):
			httputil.Error(w, http.StatusBadRequest, "verification code expired")
		case errors.Is(err, domain.ErrTooManyAttempts):
			httputil.Error(w, http.StatusBadRequest, "too many incorrect attempts")
		case errors.Is(err, domain.ErrCodeNotFound):
			httputil.Error(w, http.StatusBadRequest, "no verification code found")
		case errors.Is(err, domain.ErrInvalidIdentity):
			httputil.Error(w, http.StatusBadRequest, "invalid identity")
		case errors.Is(err, domain.ErrUnknownPurpose):
			httputil.Error(w, http.StatusBadRequest, "unknown purpose")
		case errors.Is(err, domain.ErrConflict):
			httputil.Error(w, http.StatusConflict, "concurrent request in progress. please retry")
		default:
			h.logger.Error("failed to redeem verification code", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "failed to redeem verification code")
		}
		return
	}

	httputil.JSON(w, http.StatusOK, GrantResponse{
		GrantToken: grant.Token,
		Assertion:  grant.Assertion,
		TokenType:  "Bearer",
		ExpiresIn:  int(time.Until(grant.ExpiresAt).Seconds()),
	})
}

type GrantRequest struct {
	GrantToken string `json:"grant_token"`
}

type GrantStatusResponse struct {
	Identity  string `json:"identity"`
	Purpose   string `json:"purpose"`
	ExpiresIn int    `json:"expires_in"`
}

// ValidateGrant resolves a grant token to its identity and purpose.
// POST /v1/grants/validate
func (h *Handler) ValidateGrant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.GrantToken == "" {
		httputil.Error(w, http.StatusBadRequest, "grant_token is required")
		return
	}

	grant, err := h.grants.Validate(r.Context(), req.GrantToken)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrGrantNotFound):
			httputil.Error(w, http.StatusUnauthorized, "invalid grant")
		case errors.Is(err, domain.ErrGrantExpired):
			httputil.Error(w, http.StatusUnauthorized, "grant expired")
		case errors.Is(err, domain.ErrGrantRevoked):
			httputil.Error(w, http.StatusUnauthorized, "grant revoked")
		default:
			h.logger.Error("failed to validate grant", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "failed to validate grant")
		}
		return
	}

	httputil.JSON(w, http.StatusOK, GrantStatusResponse{
		Identity:  grant.Identity,
		Purpose:   string(grant.Purpose),
		ExpiresIn: int(time.Until(grant.ExpiresAt).Seconds()),
	})
}

// RevokeGrant invalidates a grant before its TTL elapses.
// POST /v1/grants/revoke
func (h *Handler) RevokeGrant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.GrantToken == "" {
		httputil.Error(w, http.StatusBadRequest, "grant_token is required")
		return
	}

	if err := h.grants.Revoke(r.Context(), req.GrantToken); err != nil {
		switch {
		case errors.Is(err, domain.ErrGrantNotFound):
			httputil.Error(w, http.StatusNotFound, "grant not found")
		default:
			h.logger.Error("failed to revoke grant", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "failed to revoke grant")
		}
		return
	}

	httputil.JSON(w, http.StatusOK, MessageResponse{Message: "grant revoked"})
}
