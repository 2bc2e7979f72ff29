package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ad419/lockchain-claimd/internal/chain"
	"github.com/ad419/lockchain-claimd/internal/domain"
	"github.com/ad419/lockchain-claimd/internal/service"
	"github.com/ad419/lockchain-claimd/internal/store"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claimd_http_requests_total",
		Help: "Total HTTP requests, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "claimd_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	}, []string{"method", "endpoint"})

	claimOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claimd_claim_outcomes_total",
		Help: "Claim attempts by outcome code",
	}, []string{"code"})
)

type Handler struct {
	claims *service.ClaimService
}

func NewHandler(claims *service.ClaimService) *Handler {
	return &Handler{claims: claims}
}

// CORS allows the dashboard origin to POST claims, including the preflight.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateClaim handles POST /api/v1/claims: the full verify-and-disburse
// pipeline for one signed claim request.
func (h *Handler) CreateClaim(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/claims"))
	defer timer.ObserveDuration()

	var req domain.ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondClaimError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}

	resp, err := h.claims.ProcessClaim(r.Context(), &req)
	if err != nil {
		status, code := classify(err)
		h.respondClaimError(w, status, code, err.Error())
		return
	}

	claimOutcomes.WithLabelValues("SUCCESS").Inc()
	httpReqTotal.WithLabelValues("POST", "/claims", "200").Inc()
	respondWithJSON(w, http.StatusOK, resp)
}

// GetClaims handles GET /api/v1/claims/{address}: ordered claimed weeks and
// the cumulative total for one wallet.
func (h *Handler) GetClaims(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	summary, err := h.claims.ClaimedSummary(r.Context(), address)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			httpReqTotal.WithLabelValues("GET", "/claims/{address}", "400").Inc()
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		httpReqTotal.WithLabelValues("GET", "/claims/{address}", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	httpReqTotal.WithLabelValues("GET", "/claims/{address}", "200").Inc()
	respondWithJSON(w, http.StatusOK, summary)
}

// classify maps pipeline failures onto HTTP status and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, service.ErrInvalidSignature):
		return http.StatusUnauthorized, "INVALID_SIGNATURE"
	case errors.Is(err, service.ErrStaleRequest):
		return http.StatusUnauthorized, "STALE_OR_FUTURE_REQUEST"
	case errors.Is(err, store.ErrDuplicateClaim):
		return http.StatusConflict, "DUPLICATE_CLAIM"
	case errors.Is(err, chain.ErrInsufficientFunds):
		return http.StatusInternalServerError, "INSUFFICIENT_FUNDS"
	case errors.Is(err, chain.ErrInsufficientGas):
		return http.StatusInternalServerError, "INSUFFICIENT_GAS"
	case errors.Is(err, chain.ErrNoHealthyEndpoint):
		return http.StatusInternalServerError, "NETWORK_UNAVAILABLE"
	case errors.Is(err, store.ErrLedgerUnavailable):
		return http.StatusInternalServerError, "LEDGER_UNAVAILABLE"
	case errors.Is(err, chain.ErrTransferFailed):
		return http.StatusInternalServerError, "TRANSFER_FAILED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (h *Handler) respondClaimError(w http.ResponseWriter, status int, code, message string) {
	claimOutcomes.WithLabelValues(code).Inc()
	httpReqTotal.WithLabelValues("POST", "/claims", strconv.Itoa(status)).Inc()
	respondWithJSON(w, status, map[string]interface{}{
		"success": false,
		"code":    code,
		"message": message,
	})
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"message": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
