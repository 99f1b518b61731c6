package dispatcher

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blockrun/proxy/internal/config"
	"github.com/blockrun/proxy/internal/types"
)

func testDispatchRequest(t *testing.T, d *Dispatcher, chain []types.ModelID, key string) dispatchRequest {
	t.Helper()
	if !d.Cache.MarkInflight(key) {
		t.Fatalf("test setup: key %q already inflight", key)
	}
	return dispatchRequest{
		Ctx:          httptest.NewRequest(http.MethodPost, "/", nil).Context(),
		RequestID:    "req_test",
		Key:          key,
		Decision:     types.RoutingDecision{FallbackChain: chain, Tier: types.TierMedium},
		Profile:      types.ProfileAuto,
		RawFields:    map[string]json.RawMessage{"model": json.RawMessage(`"placeholder"`), "messages": json.RawMessage(`[]`)},
		MessagesRaw:  json.RawMessage(`[{"role":"user","content":"hi"}]`),
		ClientHeader: http.Header{},
		Config: config.DispatchConfig{
			MaxFallbackAttempts: 3,
			PerAttemptTimeout:   5 * time.Second,
			UpstreamBaseURL:     "http://upstream.internal",
		},
		Start: time.Now(),
	}
}

func TestDispatchWithFallback_RetriesOn5xxThenSucceeds(t *testing.T) {
	client := &fakeClient{responses: []*http.Response{
		jsonResponse(500, `{"error":{"message":"overloaded","type":"provider_error"}}`),
		jsonResponse(200, `{"choices":[{"message":{"content":"ok"}}]}`),
	}}
	d := testDispatcher(client)
	chain := []types.ModelID{"openrouter/a", "openrouter/b"}
	req := testDispatchRequest(t, d, chain, "key1")
	req.W = httptest.NewRecorder()

	d.dispatchWithFallback(req)

	w := req.W.(*httptest.ResponseRecorder)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 after fallback, got %d: %s", w.Code, w.Body.String())
	}
	if client.callCount != 2 {
		t.Errorf("expected 2 upstream attempts, got %d", client.callCount)
	}
}

func TestDispatchWithFallback_TerminalStopsChain(t *testing.T) {
	client := &fakeClient{responses: []*http.Response{
		jsonResponse(400, `{"error":{"message":"bad request","type":"invalid_request"}}`),
	}}
	d := testDispatcher(client)
	chain := []types.ModelID{"openrouter/a", "openrouter/b"}
	req := testDispatchRequest(t, d, chain, "key2")
	req.W = httptest.NewRecorder()

	d.dispatchWithFallback(req)

	w := req.W.(*httptest.ResponseRecorder)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected terminal 400 forwarded, got %d", w.Code)
	}
	if client.callCount != 1 {
		t.Errorf("expected exactly 1 attempt for a terminal error, got %d", client.callCount)
	}
}

func TestDispatchWithFallback_ProviderErrorJSONSniffOnSuccessTriggersRetry(t *testing.T) {
	client := &fakeClient{responses: []*http.Response{
		jsonResponse(200, `{"error":{"message":"insufficient balance","type":"insufficient_funds"}}`),
		jsonResponse(200, `{"choices":[{"message":{"content":"ok"}}]}`),
	}}
	d := testDispatcher(client)
	chain := []types.ModelID{"openrouter/a", "openrouter/b"}
	req := testDispatchRequest(t, d, chain, "key3")
	req.W = httptest.NewRecorder()

	d.dispatchWithFallback(req)

	w := req.W.(*httptest.ResponseRecorder)
	if w.Code != http.StatusOK {
		t.Fatalf("expected eventual 200, got %d: %s", w.Code, w.Body.String())
	}
	if client.callCount != 2 {
		t.Errorf("expected 2xx-body-sniffed error to trigger a retry, got %d calls", client.callCount)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("expected the second model's real response, got %s", w.Body.String())
	}
}

func TestDispatchWithFallback_EmergencyFallbackAfterExhaustion(t *testing.T) {
	client := &fakeClient{responses: []*http.Response{
		jsonResponse(500, `{"error":{"type":"provider_error"}}`),
		jsonResponse(500, `{"error":{"type":"provider_error"}}`),
		jsonResponse(200, `{"choices":[{"message":{"content":"free tier saved the day"}}]}`),
	}}
	d := testDispatcher(client)
	chain := []types.ModelID{"openrouter/a", "openrouter/b"}
	req := testDispatchRequest(t, d, chain, "key4")
	req.Config.MaxFallbackAttempts = 2
	req.Config.EmergencyFreeModel = "openrouter/free-tier"
	req.W = httptest.NewRecorder()

	d.dispatchWithFallback(req)

	w := req.W.(*httptest.ResponseRecorder)
	if w.Code != http.StatusOK {
		t.Fatalf("expected emergency model to succeed with 200, got %d: %s", w.Code, w.Body.String())
	}
	if client.callCount != 3 {
		t.Errorf("expected 2 chain attempts + 1 emergency attempt, got %d", client.callCount)
	}
}

func TestDispatchWithFallback_ExhaustionReturns502(t *testing.T) {
	client := &fakeClient{responses: []*http.Response{
		jsonResponse(500, `{"error":{"type":"provider_error","message":"down"}}`),
		jsonResponse(500, `{"error":{"type":"provider_error","message":"down"}}`),
	}}
	d := testDispatcher(client)
	chain := []types.ModelID{"openrouter/a", "openrouter/b"}
	req := testDispatchRequest(t, d, chain, "key5")
	req.W = httptest.NewRecorder()
	// No emergency model configured.

	d.dispatchWithFallback(req)

	w := req.W.(*httptest.ResponseRecorder)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on exhaustion, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "down") {
		t.Errorf("expected last upstream error body surfaced, got %s", w.Body.String())
	}
}

func TestDispatchWithFallback_OversizeResponseForwardedInFullButNotCached(t *testing.T) {
	huge := `{"choices":[{"message":{"content":"` + strings.Repeat("x", types.MaxBodySize+1024) + `"}}]}`
	client := &fakeClient{responses: []*http.Response{
		jsonResponse(200, huge),
	}}
	d := testDispatcher(client)
	chain := []types.ModelID{"openrouter/a"}
	req := testDispatchRequest(t, d, chain, "key-oversize")
	req.W = httptest.NewRecorder()

	d.dispatchWithFallback(req)

	w := req.W.(*httptest.ResponseRecorder)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.Len() != len(huge) {
		t.Fatalf("expected the full %d-byte body forwarded to the client, got %d bytes", len(huge), w.Body.Len())
	}
	if _, ok := d.Cache.GetCached(req.Ctx, "key-oversize"); ok {
		t.Error("oversize response must not be cached, per the MAX_BODY_SIZE invariant")
	}
}

func TestDispatchWithFallback_AllBreakersOpenFailsOpen(t *testing.T) {
	client := &fakeClient{responses: []*http.Response{
		jsonResponse(200, `{"choices":[{"message":{"content":"ok despite stale breaker state"}}]}`),
	}}
	d := testDispatcher(client)
	d.Health.RecordFailure("openrouter/a")
	d.Health.RecordFailure("openrouter/a")
	d.Health.RecordFailure("openrouter/a")
	if d.Health.IsAvailable("openrouter/a") {
		t.Fatal("test setup: expected circuit to be open after 3 failures")
	}

	chain := []types.ModelID{"openrouter/a"}
	req := testDispatchRequest(t, d, chain, "key-fail-open")
	req.W = httptest.NewRecorder()

	d.dispatchWithFallback(req)

	w := req.W.(*httptest.ResponseRecorder)
	if w.Code != http.StatusOK {
		t.Fatalf("expected the sole open-breaker model to still be attempted (fail open), got %d", w.Code)
	}
	if client.callCount != 1 {
		t.Errorf("expected 1 real attempt despite the open circuit, got %d", client.callCount)
	}
}

func TestDispatchWithFallback_CircuitBreakerSkipsOpenModel(t *testing.T) {
	client := &fakeClient{responses: []*http.Response{
		jsonResponse(200, `{"choices":[{"message":{"content":"ok"}}]}`),
	}}
	d := testDispatcher(client)
	d.Health.RecordFailure("openrouter/a")
	d.Health.RecordFailure("openrouter/a")
	d.Health.RecordFailure("openrouter/a")
	if d.Health.IsAvailable("openrouter/a") {
		t.Fatal("test setup: expected circuit to be open after 3 failures")
	}

	chain := []types.ModelID{"openrouter/a", "openrouter/b"}
	req := testDispatchRequest(t, d, chain, "key6")
	req.W = httptest.NewRecorder()

	d.dispatchWithFallback(req)

	w := req.W.(*httptest.ResponseRecorder)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from the second (healthy) model, got %d", w.Code)
	}
	if client.callCount != 1 {
		t.Errorf("expected the open-circuit model to be skipped entirely, got %d calls", client.callCount)
	}
	if len(client.requests) != 1 {
		t.Fatalf("expected 1 request recorded")
	}
}
