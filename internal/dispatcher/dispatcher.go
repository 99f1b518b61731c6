// Package dispatcher implements the request pipeline: read-with-cap,
// validate, optionally compress, dedup lookup, route, and run the
// fallback loop against the upstream inference endpoint, streaming or
// buffering the response back to the client while populating the
// dedup cache. The request flow follows a gateway handler's
// read/parse/validate/route/send/stream shape, generalized from an
// adapter-transform model to a pass-through wire contract with only
// "model" substituted.
package dispatcher

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/blockrun/proxy/internal/compress"
	"github.com/blockrun/proxy/internal/config"
	"github.com/blockrun/proxy/internal/dedup"
	"github.com/blockrun/proxy/internal/httputil"
	"github.com/blockrun/proxy/internal/router"
	"github.com/blockrun/proxy/internal/telemetry"
	"github.com/blockrun/proxy/internal/types"
	"github.com/blockrun/proxy/internal/wallet"
)

// UpstreamClient is the external collaborator that actually talks to the
// upstream inference endpoint. *http.Client already satisfies this.
type UpstreamClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Dispatcher holds every collaborator the request pipeline needs.
type Dispatcher struct {
	Cache             *dedup.Cache
	Signer            wallet.Signer
	Client            UpstreamClient
	Router            *router.Facade
	Health            *router.HealthTracker
	Metrics           *telemetry.Metrics
	Logger            *slog.Logger
	Config            func() config.DispatchConfig
	CompressionConfig func() types.CompressionConfig
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Dispatcher) compressionConfig() types.CompressionConfig {
	if d.CompressionConfig != nil {
		return d.CompressionConfig()
	}
	return types.DefaultCompressionConfig()
}

// tentativeInputPrice routes the pre-compression messages to find the
// $/Mtok input price ShouldCompress's economic skip needs, without
// committing to that routing decision: compression can change message
// content, so the real decision is still (re-)computed after
// compression runs, against the final normalized messages. A routing
// error here just disables the economic skip (price 0) rather than
// failing the request — Route is re-run for real further down and any
// genuine error surfaces there.
func (d *Dispatcher) tentativeInputPrice(normalized []types.NormalizedMessage, profile types.RoutingProfile, modelOverride types.ModelID, maxOutputTokens int) float64 {
	prompt, system := extractPromptSystem(normalized)
	decision, err := d.Router.Route(prompt, system, maxOutputTokens, router.RouteOptions{
		Profile:       profile,
		ModelOverride: modelOverride,
	})
	if err != nil {
		return 0
	}
	return d.Router.SelectorConfig().Pricing[decision.Model].InputPrice
}

// Handle runs the full pipeline for one chat-completion request and
// writes the client-facing response (success, cached replay, or error)
// directly to w.
func (d *Dispatcher) Handle(w http.ResponseWriter, r *http.Request, requestID string) {
	start := time.Now()
	cfg := d.Config()
	maxBytes := int64(cfg.MaxRequestSizeKB) * 1024

	body, ok := d.readBody(w, r, requestID, maxBytes)
	if !ok {
		return
	}

	parsed, err := parseRequest(body)
	if err != nil {
		httputil.WriteBadRequest(w, requestID, "invalid request: "+err.Error())
		return
	}
	if len(parsed.Messages) < 1 || len(parsed.Messages) > 200 {
		httputil.WriteBadRequest(w, requestID, "messages must contain between 1 and 200 entries")
		return
	}
	if parsed.MaxTokens != nil && *parsed.MaxTokens < 0 {
		httputil.WriteBadRequest(w, requestID, "max_tokens must be >= 0")
		return
	}
	profile, modelOverride, err := classifyModelField(parsed.Model)
	if err != nil {
		httputil.WriteBadRequest(w, requestID, err.Error())
		return
	}

	normalized := toNormalized(parsed.Messages)

	maxOutputTokens := 0
	if parsed.MaxTokens != nil {
		maxOutputTokens = *parsed.MaxTokens
	}

	if cfg.AutoCompressRequests && int64(len(body)) > int64(cfg.CompressionThresholdKB)*1024 {
		compCfg := d.compressionConfig()
		selectedInputPrice := d.tentativeInputPrice(normalized, profile, modelOverride, maxOutputTokens)
		if compress.ShouldCompress(normalized, compCfg, selectedInputPrice) {
			result := compress.Run(normalized, compCfg)
			normalized = result.Messages
			if d.Metrics != nil {
				saved := result.Stats.DedupRemoved + result.Stats.WhitespaceSaved
				d.Metrics.RecordCompressionSavings("pipeline", saved)
			}

			messagesRaw, err := marshalMessages(normalized)
			if err != nil {
				httputil.WriteInternalError(w, requestID, "failed to reserialize compressed messages")
				return
			}
			newBody, err := buildUpstreamBody(parsed.Raw, types.ModelID(parsed.Model), messagesRaw)
			if err != nil {
				httputil.WriteInternalError(w, requestID, "failed to rebuild compressed request body")
				return
			}
			if d.Metrics != nil {
				d.Metrics.RecordCompressionSavings("pipeline", len(body)-len(newBody))
			}
			body = newBody
			if int64(len(body)) > maxBytes {
				httputil.WriteRequestTooLarge(w, requestID, "compressed body still exceeds the size limit")
				return
			}
		}
	}

	messagesRaw, err := marshalMessages(normalized)
	if err != nil {
		httputil.WriteInternalError(w, requestID, "failed to serialize messages")
		return
	}

	canonical := dedup.Canonicalize(body)
	key := dedup.Key(canonical)

	if cached, ok := d.Cache.GetCached(r.Context(), key); ok {
		if d.Metrics != nil {
			d.Metrics.RecordDedupOutcome("hit")
		}
		writeCached(w, requestID, cached)
		return
	}
	if d.awaitInflight(w, r, requestID, key) {
		return
	}
	if d.Metrics != nil {
		d.Metrics.RecordDedupOutcome("miss")
	}

	prompt, system := extractPromptSystem(normalized)

	decision, err := d.Router.Route(prompt, system, maxOutputTokens, router.RouteOptions{
		Profile:       profile,
		ModelOverride: modelOverride,
	})
	if err != nil {
		d.Cache.RemoveInflight(key)
		httputil.WriteInternalError(w, requestID, err.Error())
		return
	}
	if d.Metrics != nil {
		d.Metrics.RecordClassification(decision.Tier.String(), decision.Method)
	}

	d.dispatchWithFallback(dispatchRequest{
		Ctx:          r.Context(),
		W:            w,
		RequestID:    requestID,
		Key:          key,
		Decision:     decision,
		Profile:      profile,
		RawFields:    parsed.Raw,
		MessagesRaw:  messagesRaw,
		ClientHeader: r.Header,
		Stream:       parsed.Stream,
		Config:       cfg,
		Start:        start,
	})
}

// readBody enforces the hard cap (same value as maxRequestSizeKB)
// before any parsing or payment attempt.
func (d *Dispatcher) readBody(w http.ResponseWriter, r *http.Request, requestID string, maxBytes int64) ([]byte, bool) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		httputil.WriteBadRequest(w, requestID, "failed to read request body")
		return nil, false
	}
	if int64(len(body)) > maxBytes {
		httputil.WriteRequestTooLarge(w, requestID, fmt.Sprintf("request body exceeds %d KB limit", maxBytes/1024))
		return nil, false
	}
	return body, true
}

// awaitInflight reports true (and has already written a response) if
// key already has an in-flight or just-lost-the-race entry to wait on.
func (d *Dispatcher) awaitInflight(w http.ResponseWriter, r *http.Request, requestID, key string) bool {
	ch, ok := d.Cache.GetInflight(key)
	if !ok {
		if d.Cache.MarkInflight(key) {
			return false
		}
		// Lost the race between GetInflight and MarkInflight; the
		// winner has since registered the entry.
		ch, ok = d.Cache.GetInflight(key)
		if !ok {
			return false
		}
	}
	if d.Metrics != nil {
		d.Metrics.RecordDedupOutcome("inflight")
	}
	select {
	case resp := <-ch:
		writeCached(w, requestID, resp)
	case <-r.Context().Done():
	}
	return true
}

// writeCached replays a CachedResponse (a completed hit, an inflight
// waiter's result, or the synthetic dedup_origin_failed body) verbatim.
func writeCached(w http.ResponseWriter, requestID string, resp types.CachedResponse) {
	for k, vv := range resp.Headers {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}
