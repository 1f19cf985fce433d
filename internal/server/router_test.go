package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pelilauta/sidekick/internal/auth"
	"github.com/pelilauta/sidekick/internal/trigger"
	"go.uber.org/zap"
)

const testSigningSecret = "router-test-secret"

func newTestHandler(t *testing.T, registry *trigger.Registry) (http.Handler, *auth.WebhookTokens) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens := auth.NewWebhookTokens(auth.WebhookTokenConfig{
		SigningSecret: []byte(testSigningSecret),
	})
	handler, err := NewHTTPHandler(Dependencies{
		Tokens:   tokens,
		Registry: registry,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler, tokens
}

func postEvent(t *testing.T, handler http.Handler, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	request := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(payload))
	request.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		request.Header.Set("Authorization", "Bearer "+bearer)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestEventsRequireBearerToken(t *testing.T) {
	handler, _ := newTestHandler(t, trigger.NewRegistry(zap.NewNop()))

	recorder := postEvent(t, handler, "", map[string]any{"path": "stream/abc", "kind": "create"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}

	recorder = postEvent(t, handler, "not-a-token", map[string]any{"path": "stream/abc", "kind": "create"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", recorder.Code)
	}
}

func TestEventsDispatchToBoundHandler(t *testing.T) {
	registry := trigger.NewRegistry(zap.NewNop())
	var gotEvent trigger.Event
	err := registry.Bind("stream/{threadId}", trigger.KindCreate, "thread-created", func(ctx context.Context, event trigger.Event) error {
		gotEvent = event
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected bind error: %v", err)
	}

	handler, tokens := newTestHandler(t, registry)
	bearer, err := tokens.Issue("relay-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recorder := postEvent(t, handler, bearer, map[string]any{
		"path": "stream/abc123",
		"kind": "create",
		"data": map[string]any{"topic": "Taktiikka"},
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if gotEvent.Params["threadId"] != "abc123" {
		t.Fatalf("expected handler to receive params, got %v", gotEvent.Params)
	}
	if gotEvent.Doc.String("topic", "") != "Taktiikka" {
		t.Fatalf("expected handler to receive document payload")
	}
}

func TestEventsRejectMalformedPayload(t *testing.T) {
	handler, tokens := newTestHandler(t, trigger.NewRegistry(zap.NewNop()))
	bearer, err := tokens.Issue("relay-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recorder := postEvent(t, handler, bearer, map[string]any{"kind": "create"})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing path, got %d", recorder.Code)
	}

	recorder = postEvent(t, handler, bearer, map[string]any{"path": "stream/abc", "kind": "update"})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d", recorder.Code)
	}
}

func TestEventsReportHandlerFailure(t *testing.T) {
	registry := trigger.NewRegistry(zap.NewNop())
	err := registry.Bind("stream/{threadId}", trigger.KindCreate, "thread-created", func(ctx context.Context, event trigger.Event) error {
		return errors.New("boom")
	})
	if err != nil {
		t.Fatalf("unexpected bind error: %v", err)
	}

	handler, tokens := newTestHandler(t, registry)
	bearer, err := tokens.Issue("relay-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recorder := postEvent(t, handler, bearer, map[string]any{"path": "stream/abc", "kind": "create"})
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for handler failure, got %d", recorder.Code)
	}
}

func TestHealthEndpointIsUnauthenticated(t *testing.T) {
	handler, _ := newTestHandler(t, trigger.NewRegistry(zap.NewNop()))

	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}
