package dispatcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/blockrun/proxy/internal/config"
	"github.com/blockrun/proxy/internal/httputil"
	"github.com/blockrun/proxy/internal/telemetry"
	"github.com/blockrun/proxy/internal/types"
)

// hopByHopHeaders are stripped in both directions per RFC 7230 §6.1.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"TE", "Trailers", "Transfer-Encoding", "Upgrade", "Host", "Content-Length",
}

// dispatchRequest bundles everything the fallback loop needs beyond the
// already-resolved RoutingDecision.
type dispatchRequest struct {
	Ctx          context.Context
	W            http.ResponseWriter
	RequestID    string
	Key          string
	Decision     types.RoutingDecision
	Profile      types.RoutingProfile
	RawFields    map[string]json.RawMessage
	MessagesRaw  json.RawMessage
	ClientHeader http.Header
	Stream       bool
	Config       config.DispatchConfig
	Start        time.Time
}

// attemptOutcome classifies what happened after one upstream call
// returned (or failed to return) a response.
type attemptOutcome int

const (
	outcomeSuccess attemptOutcome = iota
	outcomeRetry
	outcomeTerminal
	outcomeFatal
	// outcomeStreamed is success whose body has already been flushed to
	// the client by forwardStreamingSuccess; finish() must not write it
	// again, only complete the dedup cache entry.
	outcomeStreamed
)

// dispatchWithFallback runs the fallback loop: attempt each model in
// the chain (skipping ones whose circuit is open), forward the first
// success/terminal response to the client and populate the dedup
// cache, or fall through to the emergency free model and finally to
// exhaustion.
func (d *Dispatcher) dispatchWithFallback(req dispatchRequest) {
	chain := req.Decision.FallbackChain
	attempts := 0
	var lastBody []byte
	var lastStatus int

	// cacheCtx is deliberately detached from the client's request
	// context: a disconnecting client must not abort the upstream call
	// or skip populating the dedup cache for other waiters on the same
	// key.
	cacheCtx := context.Background()

	maxAttempts := req.Config.MaxFallbackAttempts
	if maxAttempts <= 0 {
		maxAttempts = len(chain)
	}

	// chainAvailable is false only when every model in the chain has an
	// open circuit. In that case the skip below is disabled entirely —
	// fail open and attempt the chain for real rather than refusing
	// every model on possibly-stale breaker state.
	chainAvailable := d.Health == nil || d.Health.AnyAvailable(chain)

	for _, model := range chain {
		if attempts >= maxAttempts {
			break
		}
		if chainAvailable && d.Health != nil && !d.Health.IsAvailable(model) {
			continue
		}
		attempts++

		outcome, status, body, headers, cacheable, err := d.attempt(req, model)
		switch outcome {
		case outcomeSuccess:
			d.recordHealth(model, true)
			d.finish(req, model, "success", attempts, status, body, headers, false, cacheable, cacheCtx)
			return
		case outcomeStreamed:
			d.recordHealth(model, true)
			d.finish(req, model, "success", attempts, status, body, headers, true, cacheable, cacheCtx)
			return
		case outcomeTerminal:
			// A non-retryable non-2xx: this attempt's own answer is
			// final. Forward it but do not retry or treat the chain as
			// exhausted.
			d.recordHealth(model, true)
			d.finish(req, model, "terminal", attempts, status, body, headers, false, cacheable, cacheCtx)
			return
		case outcomeFatal:
			d.Cache.RemoveInflight(req.Key)
			httputil.WriteInternalError(req.W, req.RequestID, err.Error())
			return
		case outcomeRetry:
			d.recordHealth(model, false)
			lastStatus, lastBody = status, body
			continue
		}
	}

	// Chain exhausted: try the emergency free model once, if configured
	// and not already part of the chain.
	emergency := req.Config.EmergencyFreeModel
	if emergency != "" && !chainContains(chain, emergency) {
		attempts++
		outcome, status, body, headers, cacheable, err := d.attempt(req, emergency)
		switch outcome {
		case outcomeSuccess, outcomeTerminal:
			d.recordHealth(emergency, true)
			d.finish(req, emergency, "emergency", attempts, status, body, headers, false, cacheable, cacheCtx)
			return
		case outcomeStreamed:
			d.recordHealth(emergency, true)
			d.finish(req, emergency, "emergency", attempts, status, body, headers, true, cacheable, cacheCtx)
			return
		case outcomeFatal:
			d.Cache.RemoveInflight(req.Key)
			httputil.WriteInternalError(req.W, req.RequestID, err.Error())
			return
		case outcomeRetry:
			d.recordHealth(emergency, false)
			lastStatus, lastBody = status, body
		}
	}

	d.Cache.RemoveInflight(req.Key)
	message := "all fallback models failed"
	if lastStatus != 0 {
		message = fmt.Sprintf("all fallback models failed, last upstream status %d: %s", lastStatus, string(lastBody))
	}
	if d.Metrics != nil {
		d.Metrics.RecordRequest(recordLabels(req, "unknown", "exhausted", attempts, 0))
	}
	httputil.WriteExhausted(req.W, req.RequestID, message)
}

// finish forwards the winning response to the client, completes the
// dedup cache entry, and records metrics. alreadyStreamed is true when
// forwardStreamingSuccess has already written status/headers/body to
// req.W, so finish only needs to decide what happens to the dedup
// entry. cacheable is false only when the response body could not be
// captured in full (the streamed capture overflowed its bound) — in
// that case there is no complete body to hand to other waiters, so
// they are released to retry instead of being handed truncated bytes.
// Forwarding to the client is never gated by size: only the cache
// write is, and Cache.Complete applies that size check itself.
func (d *Dispatcher) finish(req dispatchRequest, model types.ModelID, status string, attempts, httpStatus int, body []byte, headers http.Header, alreadyStreamed, cacheable bool, cacheCtx context.Context) {
	if !alreadyStreamed {
		forwardToClient(req.W, req.RequestID, httpStatus, headers, body)
	}

	if cacheable {
		d.Cache.Complete(cacheCtx, req.Key, types.CachedResponse{
			Status:  httpStatus,
			Headers: filteredHeaderMap(headers),
			Body:    body,
		})
	} else {
		d.Cache.RemoveInflight(req.Key)
	}

	if d.Metrics != nil {
		d.Metrics.RecordRequest(recordLabels(req, string(model), status, attempts, req.Decision.Savings))
	}
}

func recordLabels(req dispatchRequest, model, status string, attempts int, savings float64) telemetry.RequestLabels {
	return telemetry.RequestLabels{
		Model:            model,
		Tier:             req.Decision.Tier.String(),
		Status:           status,
		Profile:          string(req.Profile),
		DurationMs:       float64(time.Since(req.Start).Milliseconds()),
		FallbackAttempts: attempts,
		SavingsUSD:       savings,
	}
}

// recordHealth updates the circuit breaker for model and mirrors its
// resulting state into the circuit-state gauge. Both d.Health and
// d.Metrics are optional collaborators in tests.
func (d *Dispatcher) recordHealth(model types.ModelID, success bool) {
	if d.Health == nil {
		return
	}
	if success {
		d.Health.RecordSuccess(model)
	} else {
		d.Health.RecordFailure(model)
	}
	if d.Metrics != nil {
		d.Metrics.RecordCircuitState(string(model), int(d.Health.GetBreaker(model).State()))
	}
}

func chainContains(chain []types.ModelID, model types.ModelID) bool {
	for _, m := range chain {
		if m == model {
			return true
		}
	}
	return false
}

// attempt runs a single upstream call for one model: signs the payment
// header, builds and sends the request, applies the per-attempt timeout,
// and classifies the result. The returned body is always read in full —
// forwarding to the client is never truncated; only the bool return
// value tells finish() whether the body is safe to hand to Cache.Complete
// (Cache.Complete applies types.MaxBodySize itself, so this is normally
// true — it is false only for a streamed capture that overflowed its
// bound, where the bytes actually forwarded exceed what was buffered).
func (d *Dispatcher) attempt(req dispatchRequest, model types.ModelID) (attemptOutcome, int, []byte, http.Header, bool, error) {
	body, err := buildUpstreamBody(req.RawFields, model, req.MessagesRaw)
	if err != nil {
		return outcomeFatal, 0, nil, nil, false, fmt.Errorf("building upstream body: %w", err)
	}

	payment, err := d.Signer.Sign(req.Ctx, req.Decision.CostEstimate)
	if err != nil {
		return outcomeFatal, 0, nil, nil, false, fmt.Errorf("signing payment: %w", err)
	}

	timeout := req.Config.PerAttemptTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(req.Ctx, timeout)
	defer cancel()

	url := strings.TrimRight(req.Config.UpstreamBaseURL, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return outcomeFatal, 0, nil, nil, false, fmt.Errorf("building upstream request: %w", err)
	}
	copyForwardHeaders(httpReq.Header, req.ClientHeader)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Payment", payment)

	resp, err := d.Client.Do(httpReq)
	if err != nil {
		return outcomeRetry, 0, []byte(err.Error()), nil, false, nil
	}
	defer resp.Body.Close()

	if isRetryableStatus(resp.StatusCode) {
		b, _ := io.ReadAll(resp.Body)
		return outcomeRetry, resp.StatusCode, b, resp.Header.Clone(), false, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return outcomeTerminal, resp.StatusCode, b, resp.Header.Clone(), true, nil
	}

	// 2xx. Non-streaming responses get a bounded peek for an embedded
	// provider-error JSON body (some providers return 200 with an error
	// object instead of a non-2xx status); streaming responses are never
	// peeked, since consuming bytes here would desync SSE line framing.
	if !req.Stream && !isSSEContentType(resp.Header.Get("Content-Type")) {
		peeked, rest, sniffErr := peekBody(resp.Body, 4096)
		if sniffErr == nil && looksLikeProviderError(peeked) {
			full, _ := io.ReadAll(rest)
			full = append(peeked, full...)
			return outcomeRetry, resp.StatusCode, full, resp.Header.Clone(), false, nil
		}
		full, err := io.ReadAll(io.MultiReader(bytes.NewReader(peeked), rest))
		if err != nil {
			return outcomeRetry, resp.StatusCode, []byte(err.Error()), resp.Header.Clone(), false, nil
		}
		return outcomeSuccess, resp.StatusCode, full, resp.Header.Clone(), true, nil
	}

	// Streaming success: hand the live body reader off for SSE
	// forwarding rather than buffering it; callers recognize the
	// already-forwarded case by the outcomeStreamed result.
	return d.forwardStreamingSuccess(req, resp)
}

// forwardStreamingSuccess writes the SSE response directly to the client
// as it arrives and returns a synthetic success outcome carrying the
// captured bytes for cache population, since by the time attempt()
// returns the body has already been streamed out. The capture is
// bounded to types.MaxBodySize independent of the client-facing
// forward, which writes every byte regardless; if the capture
// overflowed, the returned bool is false so finish() knows not to hand
// the (incomplete) captured bytes to Cache.Complete.
func (d *Dispatcher) forwardStreamingSuccess(req dispatchRequest, resp *http.Response) (attemptOutcome, int, []byte, http.Header, bool, error) {
	flusher, ok := req.W.(http.Flusher)
	if !ok {
		b, _ := io.ReadAll(resp.Body)
		return outcomeSuccess, resp.StatusCode, b, resp.Header.Clone(), true, nil
	}

	headers := resp.Header.Clone()
	copyResponseHeaders(req.W.Header(), headers)
	req.W.Header().Set("Content-Type", "text/event-stream")
	req.W.Header().Set("Cache-Control", "no-cache")
	req.W.Header().Set("X-Request-ID", req.RequestID)
	req.W.WriteHeader(resp.StatusCode)
	flusher.Flush()

	capture := &boundedBuffer{limit: types.MaxBodySize}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		capture.WriteString(line)
		capture.WriteByte('\n')
		fmt.Fprintf(req.W, "%s\n", line)
		flusher.Flush()
	}

	return outcomeStreamed, resp.StatusCode, capture.Bytes(), headers, !capture.Overflowed(), nil
}

// forwardToClient writes status/headers/body to w in full, unconditionally
// — forwarding is never gated by types.MaxBodySize, only the dedup cache
// write is (and that gating lives in Cache.Complete, keyed off the same
// body this function just sent).
func forwardToClient(w http.ResponseWriter, requestID string, status int, headers http.Header, body []byte) {
	copyResponseHeaders(w.Header(), headers)
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	w.Write(body)
}

func isRetryableStatus(status int) bool {
	if status == 402 || status == 413 || status == 429 {
		return true
	}
	return status >= 500
}

// looksLikeProviderError sniffs a peeked JSON prefix for an embedded
// error object on an otherwise-2xx response.
func looksLikeProviderError(peeked []byte) bool {
	var probe struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(peeked, &probe); err != nil {
		// Prefix may be a truncated JSON document; a partial decode
		// failure is not itself evidence of a provider error.
		return false
	}
	switch probe.Error.Type {
	case "provider_error", "insufficient_funds", "billing_error":
		return true
	default:
		return false
	}
}

func isSSEContentType(ct string) bool {
	return strings.Contains(ct, "text/event-stream")
}

// peekBody reads up to n bytes from r without discarding the rest of the
// stream: callers get the peeked prefix plus a reader that continues
// exactly where the peek left off.
func peekBody(r io.Reader, n int) (peeked []byte, rest io.Reader, err error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, nil, err
	}
	return buf[:read], r, nil
}

func copyForwardHeaders(dst, src http.Header) {
	for k, vv := range src {
		if isHopByHop(k) || strings.EqualFold(k, "Authorization") {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func copyResponseHeaders(dst, src http.Header) {
	for k, vv := range src {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func filteredHeaderMap(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, vv := range h {
		if isHopByHop(k) {
			continue
		}
		out[k] = append([]string(nil), vv...)
	}
	return out
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

// boundedBuffer captures up to limit bytes and silently discards the
// rest, so a captured SSE stream never grows the cache entry unbounded
// while the client still receives every byte over the wire. It tracks
// the true total independent of what it kept, so callers can tell a
// complete small capture from a truncated large one.
type boundedBuffer struct {
	buf   bytes.Buffer
	limit int
	total int
}

func (b *boundedBuffer) WriteString(s string) {
	b.total += len(s)
	room := b.limit - b.buf.Len()
	if room <= 0 {
		return
	}
	if len(s) > room {
		s = s[:room]
	}
	b.buf.WriteString(s)
}

func (b *boundedBuffer) WriteByte(c byte) {
	b.total++
	if b.buf.Len() >= b.limit {
		return
	}
	b.buf.WriteByte(c)
}

func (b *boundedBuffer) Bytes() []byte { return b.buf.Bytes() }

// Overflowed reports whether more bytes were written than the buffer
// kept, i.e. the capture is incomplete.
func (b *boundedBuffer) Overflowed() bool { return b.total > b.limit }
