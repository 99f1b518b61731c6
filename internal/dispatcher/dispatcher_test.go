package dispatcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blockrun/proxy/internal/config"
	"github.com/blockrun/proxy/internal/dedup"
	"github.com/blockrun/proxy/internal/router"
	"github.com/blockrun/proxy/internal/selector"
	"github.com/blockrun/proxy/internal/scorer"
	"github.com/blockrun/proxy/internal/types"
)

// fakeClient answers every upstream request from a queue of canned
// responses, recording each request it saw.
type fakeClient struct {
	responses []*http.Response
	requests  []*http.Request
	callCount int
}

func (f *fakeClient) Do(req *http.Request) (*http.Response, error) {
	f.requests = append(f.requests, req)
	if f.callCount >= len(f.responses) {
		panic("fakeClient: ran out of canned responses")
	}
	resp := f.responses[f.callCount]
	f.callCount++
	return resp, nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

type fakeSigner struct{ addr string }

func (f *fakeSigner) Sign(ctx context.Context, amountUSD float64) (string, error) {
	return "signed-payment-token", nil
}
func (f *fakeSigner) Address() string { return f.addr }

func testDispatcher(client UpstreamClient) *Dispatcher {
	cache := dedup.New(30*time.Second, 1000, nil)
	facade := router.NewFacade(
		scorer.New(),
		func() types.ScoringConfig { return types.DefaultScoringConfig() },
		func() types.Overrides { return types.DefaultOverrides() },
		func() selector.Config {
			return selector.Config{
				Pricing: map[types.ModelID]types.ModelPricing{
					"openrouter/test-model": {InputPrice: 0.1, OutputPrice: 0.2},
				},
				BaselineModel: "openrouter/test-model",
			}
		},
	)
	return &Dispatcher{
		Cache:  cache,
		Signer: &fakeSigner{addr: "0xdeadbeef"},
		Client: client,
		Router: facade,
		Health: router.NewHealthTracker(3, time.Minute),
		// Metrics intentionally left nil: every call site is guarded, and
		// telemetry.NewMetrics() registers with the global Prometheus
		// registerer, so constructing it once per test would panic on
		// the second test's duplicate registration.
		Config: func() config.DispatchConfig {
			return config.DispatchConfig{
				MaxRequestSizeKB:    512,
				MaxFallbackAttempts: 3,
				PerAttemptTimeout:   5 * time.Second,
				UpstreamBaseURL:     "http://upstream.internal",
			}
		},
	}
}

func doRequest(d *Dispatcher, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	w := httptest.NewRecorder()
	d.Handle(w, req, "req_test")
	return w
}

func TestHandle_ExplicitModelSuccess(t *testing.T) {
	client := &fakeClient{responses: []*http.Response{
		jsonResponse(200, `{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`),
	}}
	d := testDispatcher(client)

	body := `{"model":"openrouter/test-model","messages":[{"role":"user","content":"hello"}]}`
	w := doRequest(d, body)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if client.callCount != 1 {
		t.Errorf("expected exactly 1 upstream call, got %d", client.callCount)
	}
}

// foxPerTurn is how many times each assistant turn built by
// repeatedAssistantBody repeats the "quick brown fox" sentence.
const foxPerTurn = 200

// repeatedAssistantBody builds a request body large enough to clear
// ShouldCompressFloorBytes whose assistant turns are exact duplicates,
// so the dedup layer collapses them when compression actually runs.
func repeatedAssistantBody(model string) string {
	big := strings.Repeat("the quick brown fox jumps over the lazy dog. ", foxPerTurn)
	msg := func(role, content string) string {
		return `{"role":"` + role + `","content":"` + content + `"}`
	}
	parts := []string{msg("user", "summarize this please")}
	for i := 0; i < 5; i++ {
		parts = append(parts, msg("assistant", big))
		parts = append(parts, msg("user", "again"))
	}
	return `{"model":"` + model + `","messages":[` + strings.Join(parts, ",") + `]}`
}

func testDispatcherWithCompression(client UpstreamClient, pricePerMTok float64) *Dispatcher {
	d := testDispatcher(client)
	d.Router = router.NewFacade(
		scorer.New(),
		func() types.ScoringConfig { return types.DefaultScoringConfig() },
		func() types.Overrides { return types.DefaultOverrides() },
		func() selector.Config {
			return selector.Config{
				Pricing: map[types.ModelID]types.ModelPricing{
					"openrouter/test-model": {InputPrice: pricePerMTok, OutputPrice: 0.2},
				},
				BaselineModel: "openrouter/test-model",
			}
		},
	)
	baseCfg := d.Config
	d.Config = func() config.DispatchConfig {
		c := baseCfg()
		c.AutoCompressRequests = true
		c.CompressionThresholdKB = 1
		return c
	}
	return d
}

func TestHandle_ExpensiveModelCompressesDuplicateContent(t *testing.T) {
	client := &fakeClient{responses: []*http.Response{
		jsonResponse(200, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`),
	}}
	d := testDispatcherWithCompression(client, 10) // well above MinViableInputPricePerMTok

	w := doRequest(d, repeatedAssistantBody("openrouter/test-model"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(client.requests) != 1 {
		t.Fatalf("expected 1 upstream request")
	}
	forwarded, _ := io.ReadAll(client.requests[0].Body)
	if strings.Count(string(forwarded), "quick brown fox") >= 5 {
		t.Errorf("expected duplicate assistant turns to be deduped for an expensive model, got %d occurrences", strings.Count(string(forwarded), "quick brown fox"))
	}
}

func TestHandle_CheapModelSkipsCompression(t *testing.T) {
	client := &fakeClient{responses: []*http.Response{
		jsonResponse(200, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`),
	}}
	d := testDispatcherWithCompression(client, 0.1) // below MinViableInputPricePerMTok

	w := doRequest(d, repeatedAssistantBody("openrouter/test-model"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(client.requests) != 1 {
		t.Fatalf("expected 1 upstream request")
	}
	forwarded, _ := io.ReadAll(client.requests[0].Body)
	if n := strings.Count(string(forwarded), "quick brown fox"); n != 5*foxPerTurn {
		t.Errorf("expected the economic skip to leave all 5 duplicate assistant turns untouched for a cheap model, got %d occurrences (%d turns)", n, n/foxPerTurn)
	}
}

func TestHandle_EmptyMessages(t *testing.T) {
	d := testDispatcher(&fakeClient{})
	w := doRequest(d, `{"model":"auto","messages":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandle_TooManyMessages(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(`{"model":"auto","messages":[`)
	for i := 0; i < 201; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"role":"user","content":"x"}`)
	}
	sb.WriteString(`]}`)

	d := testDispatcher(&fakeClient{})
	w := doRequest(d, sb.String())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandle_NegativeMaxTokens(t *testing.T) {
	d := testDispatcher(&fakeClient{})
	body := `{"model":"auto","messages":[{"role":"user","content":"hi"}],"max_tokens":-1}`
	w := doRequest(d, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandle_MalformedJSON(t *testing.T) {
	d := testDispatcher(&fakeClient{})
	w := doRequest(d, `{not valid json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandle_UnknownModelID(t *testing.T) {
	d := testDispatcher(&fakeClient{})
	body := `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`
	w := doRequest(d, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "model") {
		t.Errorf("expected error message to mention 'model', got %s", w.Body.String())
	}
}

func TestHandle_BodyExactlyAtLimitSucceeds(t *testing.T) {
	client := &fakeClient{responses: []*http.Response{
		jsonResponse(200, `{"ok":true}`),
	}}
	d := testDispatcher(client)
	d.Config = func() config.DispatchConfig {
		return config.DispatchConfig{
			MaxRequestSizeKB:    1,
			MaxFallbackAttempts: 3,
			PerAttemptTimeout:   5 * time.Second,
			UpstreamBaseURL:     "http://upstream.internal",
		}
	}

	prefix := `{"model":"openrouter/test-model","messages":[{"role":"user","content":"`
	suffix := `"}]}`
	padLen := 1024 - len(prefix) - len(suffix)
	body := prefix + strings.Repeat("a", padLen) + suffix
	if len(body) != 1024 {
		t.Fatalf("test setup error: body is %d bytes, want 1024", len(body))
	}

	w := doRequest(d, body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 at exactly the size limit, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandle_BodyOverLimitRejected(t *testing.T) {
	d := testDispatcher(&fakeClient{})
	d.Config = func() config.DispatchConfig {
		return config.DispatchConfig{
			MaxRequestSizeKB:    1,
			MaxFallbackAttempts: 3,
			PerAttemptTimeout:   5 * time.Second,
			UpstreamBaseURL:     "http://upstream.internal",
		}
	}

	prefix := `{"model":"openrouter/test-model","messages":[{"role":"user","content":"`
	suffix := `"}]}`
	padLen := 1025 - len(prefix) - len(suffix)
	body := prefix + strings.Repeat("a", padLen) + suffix

	w := doRequest(d, body)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 over the size limit, got %d", w.Code)
	}
}

func TestHandle_DedupHitReplaysWithoutUpstreamCall(t *testing.T) {
	client := &fakeClient{responses: []*http.Response{
		jsonResponse(200, `{"choices":[{"message":{"content":"first"}}]}`),
	}}
	d := testDispatcher(client)
	body := `{"model":"openrouter/test-model","messages":[{"role":"user","content":"identical"}]}`

	w1 := doRequest(d, body)
	if w1.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", w1.Code)
	}

	w2 := doRequest(d, body)
	if w2.Code != http.StatusOK {
		t.Fatalf("second request expected 200 (cached), got %d", w2.Code)
	}
	if client.callCount != 1 {
		t.Errorf("expected upstream called exactly once (second served from cache), got %d calls", client.callCount)
	}
	if !bytes.Equal(w1.Body.Bytes(), w2.Body.Bytes()) {
		t.Errorf("expected cached response body to match original")
	}
}
