package server

import (
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubTokenValidator struct {
	device      string
	validateErr error
}

func (s stubTokenValidator) ValidateToken(string) (string, error) {
	return s.device, s.validateErr
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: stubTokenValidator{validateErr: jwt.ErrTokenExpired},
		ledger: &stubLedger{},
		logger: zap.New(core),
	}

	recorder := performSync(t, handler, sampleBatch, map[string]string{"Authorization": "Bearer expired-token"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel || entry.Message != "token validation failed" {
		t.Fatalf("unexpected log entry %s %q", entry.Level, entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), jwt.ErrTokenExpired) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: stubTokenValidator{validateErr: errors.New("signature mismatch")},
		ledger: &stubLedger{},
		logger: zap.New(core),
	}

	recorder := performSync(t, handler, sampleBatch, map[string]string{"Authorization": "Bearer invalid-token"})
	if recorder.Code != http.StatusUnauthorized || recorder.Body.String() != `{"error":"unauthorized"}` {
		t.Fatalf("unexpected response %d %s", recorder.Code, recorder.Body.String())
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn entry, got %v", entries)
	}
}

func TestAuthorizeRequestRequiresBearerHeader(t *testing.T) {
	handler := &httpHandler{tokens: stubTokenValidator{device: "phone"}, ledger: &stubLedger{}, logger: zap.NewNop()}
	recorder := performSync(t, handler, sampleBatch, map[string]string{"Authorization": "Basic abc"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", recorder.Code)
	}
}

func TestAuthorizeRequestUsesTokenSubjectAsDevice(t *testing.T) {
	gin.SetMode(gin.TestMode)
	applier := &stubLedger{}
	handler := &httpHandler{tokens: stubTokenValidator{device: "tablet-9"}, ledger: applier, logger: zap.NewNop()}

	recorder := performSync(t, handler, sampleBatch, map[string]string{
		"Authorization": "Bearer good-token",
		DeviceIDHeader:  "spoofed",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d", recorder.Code)
	}
	if applier.device != "tablet-9" {
		t.Fatalf("expected token subject as device, got %q", applier.device)
	}
}
