package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/side/eventful/internal/domain"
	"github.com/side/eventful/internal/verification"
)

type stubCodeService struct {
	issueResult *verification.IssueResult
	issueErr    error
	grant       *domain.SessionGrant
	redeemErr   error
}

func (s *stubCodeService) RequestCode(ctx context.Context, identity string, purpose domain.Purpose) (*verification.IssueResult, error) {
	return s.issueResult, s.issueErr
}

func (s *stubCodeService) Redeem(ctx context.Context, identity string, purpose domain.Purpose, code string) (*domain.SessionGrant, error) {
	return s.grant, s.redeemErr
}

type stubGrantService struct {
	grant       *domain.SessionGrant
	validateErr error
	revokeErr   error
}

func (s *stubGrantService) Validate(ctx context.Context, rawToken string) (*domain.SessionGrant, error) {
	return s.grant, s.validateErr
}

func (s *stubGrantService) Revoke(ctx context.Context, rawToken string) error {
	return s.revokeErr
}

func testHandler(code *stubCodeService, grants *stubGrantService) *Handler {
	return NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), code, grants)
}

func post(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestRequestCode_Success(t *testing.T) {
	recordID := uuid.New()
	svc := &stubCodeService{issueResult: &verification.IssueResult{
		RecordID:  recordID,
		Delivered: true,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}}
	h := testHandler(svc, &stubGrantService{})

	rec := post(t, h.RequestCode, `{"identity":"user@example.com","purpose":"signup"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp RequestCodeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.RecordID != recordID.String() {
		t.Errorf("record_id = %q, want %q", resp.RecordID, recordID)
	}
	if !resp.Delivered {
		t.Error("delivered = false, want true")
	}
}

func TestRequestCode_UndeliveredStillOK(t *testing.T) {
	svc := &stubCodeService{issueResult: &verification.IssueResult{
		RecordID:  uuid.New(),
		Delivered: false,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}}
	h := testHandler(svc, &stubGrantService{})

	rec := post(t, h.RequestCode, `{"identity":"user@example.com","purpose":"signup"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp RequestCodeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Delivered {
		t.Error("delivered = true, want false")
	}
}

func TestRequestCode_Validation(t *testing.T) {
	h := testHandler(&stubCodeService{}, &stubGrantService{})

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing identity", `{"purpose":"signup"}`},
		{"missing purpose", `{"identity":"user@example.com"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, h.RequestCode, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestRequestCode_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrInvalidIdentity, http.StatusBadRequest},
		{domain.ErrUnknownPurpose, http.StatusBadRequest},
		{domain.ErrConflict, http.StatusConflict},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		h := testHandler(&stubCodeService{issueErr: tt.err}, &stubGrantService{})
		rec := post(t, h.RequestCode, `{"identity":"user@example.com","purpose":"signup"}`)
		if rec.Code != tt.want {
			t.Errorf("err %v: status = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}
}

func TestRedeem_Success(t *testing.T) {
	svc := &stubCodeService{grant: &domain.SessionGrant{
		ID:        uuid.New(),
		Identity:  "user@example.com",
		Purpose:   domain.PurposeSignup,
		ExpiresAt: time.Now().Add(30 * time.Minute),
		Token:     "opaque-token",
		Assertion: "jwt-assertion",
	}}
	h := testHandler(svc, &stubGrantService{})

	rec := post(t, h.Redeem, `{"identity":"user@example.com","purpose":"signup","code":"123456"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp GrantResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.GrantToken != "opaque-token" {
		t.Errorf("grant_token = %q, want %q", resp.GrantToken, "opaque-token")
	}
	if resp.Assertion != "jwt-assertion" {
		t.Errorf("assertion = %q, want %q", resp.Assertion, "jwt-assertion")
	}
	if resp.ExpiresIn <= 0 {
		t.Errorf("expires_in = %d, want > 0", resp.ExpiresIn)
	}
}

func TestRedeem_Validation(t *testing.T) {
	h := testHandler(&stubCodeService{}, &stubGrantService{})

	rec := post(t, h.Redeem, `{"identity":"user@example.com","purpose":"signup"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing code: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestRedeem_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrWrongCode, http.StatusBadRequest},
		{domain.ErrCodeExpired, http.StatusBadRequest},
		{domain.ErrTooManyAttempts, http.StatusBadRequest},
		{domain.ErrCodeNotFound, http.StatusBadRequest},
		{domain.ErrConflict, http.StatusConflict},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		h := testHandler(&stubCodeService{redeemErr: tt.err}, &stubGrantService{})
		rec := post(t, h.Redeem, `{"identity":"user@example.com","purpose":"signup","code":"123456"}`)
		if rec.Code != tt.want {
			t.Errorf("err %v: status = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}
}

func TestValidateGrant(t *testing.T) {
	grants := &stubGrantService{grant: &domain.SessionGrant{
		Identity:  "user@example.com",
		Purpose:   domain.PurposePasswordReset,
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}}
	h := testHandler(&stubCodeService{}, grants)

	rec := post(t, h.ValidateGrant, `{"grant_token":"opaque-token"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp GrantStatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Identity != "user@example.com" {
		t.Errorf("identity = %q, want %q", resp.Identity, "user@example.com")
	}
	if resp.Purpose != string(domain.PurposePasswordReset) {
		t.Errorf("purpose = %q, want %q", resp.Purpose, domain.PurposePasswordReset)
	}
}

func TestValidateGrant_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrGrantNotFound, http.StatusUnauthorized},
		{domain.ErrGrantExpired, http.StatusUnauthorized},
		{domain.ErrGrantRevoked, http.StatusUnauthorized},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		h := testHandler(&stubCodeService{}, &stubGrantService{validateErr: tt.err})
		rec := post(t, h.ValidateGrant, `{"grant_token":"opaque-token"}`)
		if rec.Code != tt.want {
			t.Errorf("err %v: status = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}
}

func TestRevokeGrant(t *testing.T) {
	h := testHandler(&stubCodeService{}, &stubGrantService{})

	rec := post(t, h.RevokeGrant, `{"grant_token":"opaque-token"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	h = testHandler(&stubCodeService{}, &stubGrantService{revokeErr: domain.ErrGrantNotFound})
	rec = post(t, h.RevokeGrant, `{"grant_token":"opaque-token"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown grant: status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	rec = post(t, h.RevokeGrant, `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing token: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
