package main

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dealflow/config"
	"dealflow/dataroom"
	"dealflow/db"
	"dealflow/httpx"
	"dealflow/notify"
	"dealflow/signing"
	"dealflow/token"
	"dealflow/webhook"
)

// logMailer stands in for the transactional email provider; deliveries are
// written to the process log. Swap it for a real transport in deployment.
type logMailer struct{}

func (logMailer) SendVerificationCode(ctx context.Context, email, code string) error {
	log.Printf("mail: verification code for %s: %s", token.MaskEmail(email), code)
	return nil
}

// Server aggregates the HTTP surface. signerEmail resolves a signature
// request to the email that must be challenged; it is a func so handler tests
// can run without a database.
type Server struct {
	tokens      *token.Service
	signerEmail func(ctx context.Context, requestID string) (string, error)
	webhooks    http.Handler
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Post("/webhooks/esign", s.webhooks.ServeHTTP)

	// Signer-facing identity verification. Both endpoints are reached through
	// the opaque invitation token, never a bare request id.
	r.Route("/signing/{token}", func(api chi.Router) {
		api.Post("/otp/send", s.handleSendCode)
		api.Post("/otp/validate", s.handleValidateCode)
	})
	return r
}

func (s *Server) handleSendCode(w http.ResponseWriter, r *http.Request) {
	tok, ok := s.resolveToken(w, r)
	if !ok {
		return
	}
	email, err := s.signerEmail(r.Context(), tok.SignatureRequestID)
	if err != nil {
		httpx.WriteError(w, 404, "REQUEST_NOT_FOUND", "signature request not found", nil)
		return
	}

	res, err := s.tokens.SendCode(r.Context(), email)
	if err != nil {
		var cooldown *token.CooldownError
		if errors.As(err, &cooldown) {
			httpx.WriteError(w, 429, "RESEND_COOLDOWN", err.Error(),
				map[string]any{"retry_after_seconds": int(cooldown.Wait.Seconds())})
			return
		}
		httpx.WriteError(w, 500, "SEND_FAILED", "failed to send verification code", nil)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{
		"masked_email":    res.MaskedEmail,
		"expires_seconds": res.ExpiresSeconds,
	})
}

func (s *Server) handleValidateCode(w http.ResponseWriter, r *http.Request) {
	tok, ok := s.resolveToken(w, r)
	if !ok {
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	email, err := s.signerEmail(r.Context(), tok.SignatureRequestID)
	if err != nil {
		httpx.WriteError(w, 404, "REQUEST_NOT_FOUND", "signature request not found", nil)
		return
	}

	res, err := s.tokens.ValidateCode(r.Context(), tok.SignatureRequestID, email, req.Code)
	if err != nil {
		var mismatch *token.MismatchError
		switch {
		case errors.As(err, &mismatch):
			httpx.WriteError(w, 401, "CODE_MISMATCH", err.Error(),
				map[string]any{"attempts_remaining": mismatch.AttemptsRemaining})
		case errors.Is(err, token.ErrAttemptsExceeded):
			httpx.WriteError(w, 401, "ATTEMPTS_EXCEEDED", "verification attempts exceeded, request a new code", nil)
		case errors.Is(err, token.ErrCodeExpired):
			httpx.WriteError(w, 401, "CODE_EXPIRED", "verification code expired, request a new code", nil)
		case errors.Is(err, token.ErrRequestNotFound):
			httpx.WriteError(w, 404, "REQUEST_NOT_FOUND", "signature request not found", nil)
		default:
			httpx.WriteError(w, 500, "VALIDATE_FAILED", "failed to validate code", nil)
		}
		return
	}

	if err := s.tokens.ConsumeSigningToken(r.Context(), tok.Token); err != nil && !errors.Is(err, token.ErrTokenConsumed) {
		httpx.WriteError(w, 500, "VALIDATE_FAILED", "failed to consume signing token", nil)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{
		"session_token":    res.SessionToken,
		"already_verified": res.AlreadyVerified,
	})
}

func (s *Server) resolveToken(w http.ResponseWriter, r *http.Request) (token.SigningToken, bool) {
	tok, err := s.tokens.ResolveSigningToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		switch {
		case errors.Is(err, token.ErrTokenExpired):
			httpx.WriteError(w, 410, "TOKEN_EXPIRED", "signing link expired, request a new invitation", nil)
		case errors.Is(err, token.ErrTokenNotFound):
			httpx.WriteError(w, 404, "TOKEN_NOT_FOUND", "unknown signing link", nil)
		default:
			httpx.WriteError(w, 500, "TOKEN_LOOKUP_FAILED", "failed to resolve signing link", nil)
		}
		return token.SigningToken{}, false
	}
	return tok, true
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxConns: int32(cfg.DBMaxConns),
		MinConns: int32(cfg.DBMinConns),
	})
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	signingRepo := signing.NewRepository()
	completionSvc := signing.NewService(pool, signingRepo, notify.NewRepository(), dataroom.NewRepository())
	tokenSvc := token.NewService(token.NewRepository(pool), logMailer{}, cfg.SignerJWTSecret, cfg.SigningTokenTTLDays)

	server := &Server{
		tokens: tokenSvc,
		signerEmail: func(ctx context.Context, requestID string) (string, error) {
			return signingRepo.GetRequestSignerEmail(ctx, pool, requestID)
		},
		webhooks: webhook.NewHandler(webhook.NewVerifier(cfg.WebhookSecret), completionSvc),
	}

	log.Printf("api listening on %s", cfg.HTTPAddr)
	if err := http.ListenAndServe(cfg.HTTPAddr, server.router()); err != nil {
		log.Fatalf("http server: %v", err)
	}
}
