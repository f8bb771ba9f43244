package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dealflow/token"
)

type stubMailer struct {
	lastCode string
}

func (s *stubMailer) SendVerificationCode(_ context.Context, _, code string) error {
	s.lastCode = code
	return nil
}

type memTokenRepo struct {
	tokens     map[string]token.SigningToken
	challenges map[string]token.OtpChallenge
	// requests maps known signature request ids to their verified flag.
	requests map[string]bool
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{
		tokens:     make(map[string]token.SigningToken),
		challenges: make(map[string]token.OtpChallenge),
		requests:   map[string]bool{"req-1": false},
	}
}

func (m *memTokenRepo) InsertToken(_ context.Context, tok token.SigningToken) error {
	m.tokens[tok.Token] = tok
	return nil
}

func (m *memTokenRepo) GetToken(_ context.Context, value string) (token.SigningToken, error) {
	tok, ok := m.tokens[value]
	if !ok {
		return token.SigningToken{}, token.ErrTokenNotFound
	}
	return tok, nil
}

func (m *memTokenRepo) ConsumeToken(_ context.Context, value string) error {
	tok := m.tokens[value]
	now := time.Now()
	tok.ConsumedAt = &now
	m.tokens[value] = tok
	return nil
}

func (m *memTokenRepo) GetChallenge(_ context.Context, email string) (token.OtpChallenge, error) {
	ch, ok := m.challenges[email]
	if !ok {
		return token.OtpChallenge{}, token.ErrChallengeNotFound
	}
	return ch, nil
}

func (m *memTokenRepo) UpsertChallenge(_ context.Context, ch token.OtpChallenge) error {
	ch.LastSentAt = time.Now()
	m.challenges[ch.SignerEmail] = ch
	return nil
}

func (m *memTokenRepo) ConsumeAttempt(_ context.Context, email string) (int, error) {
	ch, ok := m.challenges[email]
	if !ok || ch.AttemptsRemaining <= 0 {
		return 0, token.ErrChallengeNotFound
	}
	ch.AttemptsRemaining--
	m.challenges[email] = ch
	return ch.AttemptsRemaining, nil
}

func (m *memTokenRepo) DeleteChallenge(_ context.Context, email string) error {
	delete(m.challenges, email)
	return nil
}

func (m *memTokenRepo) MarkVerified(_ context.Context, requestID string) (bool, error) {
	already, ok := m.requests[requestID]
	if !ok {
		return false, token.ErrRequestNotFound
	}
	m.requests[requestID] = true
	return already, nil
}

func newTestServer(repo *memTokenRepo, mailer *stubMailer) *Server {
	return &Server{
		tokens: token.NewService(repo, mailer, "test-secret", 0),
		signerEmail: func(_ context.Context, requestID string) (string, error) {
			return "signer@example.com", nil
		},
		webhooks: http.NotFoundHandler(),
	}
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("{}")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return payload.Error.Code
}

func TestSendCode_UnknownToken(t *testing.T) {
	server := newTestServer(newMemTokenRepo(), &stubMailer{})

	rec := do(t, server, http.MethodPost, "/signing/nope/otp/send", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "TOKEN_NOT_FOUND" {
		t.Fatalf("expected TOKEN_NOT_FOUND, got %s", code)
	}
}

func TestSendCode_ExpiredToken(t *testing.T) {
	repo := newMemTokenRepo()
	repo.tokens["stale"] = token.SigningToken{
		Token: "stale", SignatureRequestID: "req-1", ExpiresAt: time.Now().Add(-time.Hour),
	}
	server := newTestServer(repo, &stubMailer{})

	rec := do(t, server, http.MethodPost, "/signing/stale/otp/send", "")
	if rec.Code != http.StatusGone {
		t.Fatalf("expected 410, got %d", rec.Code)
	}
}

func TestSendCode_Success(t *testing.T) {
	repo := newMemTokenRepo()
	repo.tokens["live"] = token.SigningToken{
		Token: "live", SignatureRequestID: "req-1", ExpiresAt: time.Now().Add(time.Hour),
	}
	mailer := &stubMailer{}
	server := newTestServer(repo, mailer)

	rec := do(t, server, http.MethodPost, "/signing/live/otp/send", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		MaskedEmail    string `json:"masked_email"`
		ExpiresSeconds int    `json:"expires_seconds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.MaskedEmail != "si***@example.com" {
		t.Fatalf("unexpected masked email %q", payload.MaskedEmail)
	}
	if payload.ExpiresSeconds != 600 {
		t.Fatalf("expected 600s expiry, got %d", payload.ExpiresSeconds)
	}
	if mailer.lastCode == "" {
		t.Fatal("expected a code to be delivered")
	}
}

func TestSendCode_CooldownReturns429(t *testing.T) {
	repo := newMemTokenRepo()
	repo.tokens["live"] = token.SigningToken{
		Token: "live", SignatureRequestID: "req-1", ExpiresAt: time.Now().Add(time.Hour),
	}
	server := newTestServer(repo, &stubMailer{})

	if rec := do(t, server, http.MethodPost, "/signing/live/otp/send", ""); rec.Code != http.StatusOK {
		t.Fatalf("first send: expected 200, got %d", rec.Code)
	}
	rec := do(t, server, http.MethodPost, "/signing/live/otp/send", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "RESEND_COOLDOWN" {
		t.Fatalf("expected RESEND_COOLDOWN, got %s", code)
	}
}

func TestValidateCode_WrongCode(t *testing.T) {
	repo := newMemTokenRepo()
	repo.tokens["live"] = token.SigningToken{
		Token: "live", SignatureRequestID: "req-1", ExpiresAt: time.Now().Add(time.Hour),
	}
	server := newTestServer(repo, &stubMailer{})

	if rec := do(t, server, http.MethodPost, "/signing/live/otp/send", ""); rec.Code != http.StatusOK {
		t.Fatalf("send: expected 200, got %d", rec.Code)
	}

	rec := do(t, server, http.MethodPost, "/signing/live/otp/validate", `{"code":"000000"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "CODE_MISMATCH" {
		t.Fatalf("expected CODE_MISMATCH, got %s", code)
	}
}

func TestValidateCode_Success(t *testing.T) {
	repo := newMemTokenRepo()
	repo.tokens["live"] = token.SigningToken{
		Token: "live", SignatureRequestID: "req-1", ExpiresAt: time.Now().Add(time.Hour),
	}
	mailer := &stubMailer{}
	server := newTestServer(repo, mailer)

	if rec := do(t, server, http.MethodPost, "/signing/live/otp/send", ""); rec.Code != http.StatusOK {
		t.Fatalf("send: expected 200, got %d", rec.Code)
	}

	rec := do(t, server, http.MethodPost, "/signing/live/otp/validate", `{"code":"`+mailer.lastCode+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		SessionToken    string `json:"session_token"`
		AlreadyVerified bool   `json:"already_verified"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.SessionToken == "" {
		t.Fatal("expected a session token")
	}
	if payload.AlreadyVerified {
		t.Fatal("first verification must not be already-verified")
	}
	if repo.tokens["live"].ConsumedAt == nil {
		t.Fatal("signing token must be consumed after verification")
	}
}

func TestValidateCode_RequestRowGone(t *testing.T) {
	repo := newMemTokenRepo()
	repo.tokens["live"] = token.SigningToken{
		Token: "live", SignatureRequestID: "req-deleted", ExpiresAt: time.Now().Add(time.Hour),
	}
	mailer := &stubMailer{}
	server := newTestServer(repo, mailer)

	if rec := do(t, server, http.MethodPost, "/signing/live/otp/send", ""); rec.Code != http.StatusOK {
		t.Fatalf("send: expected 200, got %d", rec.Code)
	}

	// The request row vanished between issuing the token and validating; the
	// signer gets a 404, not a verified session.
	rec := do(t, server, http.MethodPost, "/signing/live/otp/validate", `{"code":"`+mailer.lastCode+`"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
	if code := errorCode(t, rec); code != "REQUEST_NOT_FOUND" {
		t.Fatalf("expected REQUEST_NOT_FOUND, got %s", code)
	}
}

func TestValidateCode_BadJSON(t *testing.T) {
	repo := newMemTokenRepo()
	repo.tokens["live"] = token.SigningToken{
		Token: "live", SignatureRequestID: "req-1", ExpiresAt: time.Now().Add(time.Hour),
	}
	server := newTestServer(repo, &stubMailer{})

	rec := do(t, server, http.MethodPost, "/signing/live/otp/validate", `{`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
