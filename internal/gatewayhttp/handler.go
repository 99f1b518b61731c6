// Package gatewayhttp wires internal/dispatcher behind an HTTP surface:
// POST /v1/chat/completions, GET /health, GET /models, and a request-ID
// middleware in a chi-router shape. Handler and method layout follow an
// aegis-style gateway handler, generalized from an auth-gated surface
// to a local-loopback, unauthenticated one.
package gatewayhttp

import (
	"encoding/json"
	"net/http"

	"github.com/blockrun/proxy/internal/config"
	"github.com/blockrun/proxy/internal/dispatcher"
	"github.com/blockrun/proxy/internal/wallet"
)

// Handler holds every collaborator the HTTP surface needs: the
// dispatcher that runs the request pipeline, the wallet signer whose
// address is reported on /health, and a pricing-config accessor for
// /models.
type Handler struct {
	Dispatcher *dispatcher.Dispatcher
	Signer     wallet.Signer
	Pricing    func() *config.PricingConfig
	Version    string
}

func NewHandler(d *dispatcher.Dispatcher, signer wallet.Signer, pricing func() *config.PricingConfig, version string) *Handler {
	return &Handler{
		Dispatcher: d,
		Signer:     signer,
		Pricing:    pricing,
		Version:    version,
	}
}

// ChatCompletions handles POST /v1/chat/completions, the only
// pay-to-play route: it delegates straight to the dispatcher, which
// owns validation, dedup, routing, and fallback.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	h.Dispatcher.Handle(w, r, reqID)
}

type healthResponse struct {
	Status  string `json:"status"`
	Wallet  string `json:"wallet"`
	Version string `json:"version"`
}

// Health handles GET /health. It never touches the dispatcher or the
// dedup cache; it only reports that the process is up and which
// wallet it will sign payments from.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:  "ok",
		Wallet:  h.Signer.Address(),
		Version: h.Version,
	})
}

type modelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

type modelListResponse struct {
	Object string        `json:"object"`
	Data   []modelObject `json:"data"`
}

// ListModels handles GET /models, listing every model carrying a
// price in pricing.yaml. There is no allowed-models filtering here:
// this proxy is a local-loopback singleton with one caller, not a
// multi-tenant API-key entitlement system.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	pricing := h.Pricing()
	models := make([]modelObject, 0, len(pricing.Models))
	for id := range pricing.Models {
		models = append(models, modelObject{
			ID:      string(id),
			Object:  "model",
			OwnedBy: "blockrun",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(modelListResponse{
		Object: "list",
		Data:   models,
	})
}
