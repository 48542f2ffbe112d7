package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/consciouslab/qrand/pkg/qrng"
)

// BitService is the cache surface the HTTP handlers serve from.
// *qrng.Cache satisfies it; tests substitute a fake.
type BitService interface {
	GetBit() (int, error)
	GetBits(count int) ([]int, error)
	Status() qrng.Status
	Stats() qrng.Stats
	BitStats() qrng.BitStats
	ResetStats()
}

// Appender receives served bits for write-behind persistence.
// *spool.Spool satisfies it.
type Appender interface {
	Append(bits []int)
}

// defaultMaxBitsPerRequest bounds GET /bits when no limit is configured.
const defaultMaxBitsPerRequest = 1000

// Handler serves the bit-delivery and observability endpoints.
type Handler struct {
	service BitService
	spool   Appender // nil disables spooling
	version string
	maxBits int
}

// NewHandler creates a Handler. spool may be nil to disable write-behind
// persistence of served bits. maxBits caps the count of a single /bits
// request independently of the cache's own per-call limit; a non-positive
// value applies the default.
func NewHandler(service BitService, spool Appender, version string, maxBits int) *Handler {
	if maxBits <= 0 {
		maxBits = defaultMaxBitsPerRequest
	}
	return &Handler{service: service, spool: spool, version: version, maxBits: maxBits}
}

type indexResponse struct {
	Service   string   `json:"service"`
	Version   string   `json:"version"`
	Endpoints []string `json:"endpoints"`
}

// Index describes the available endpoints.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, indexResponse{
		Service: "qrand",
		Version: h.version,
		Endpoints: []string{
			"GET /bit",
			"GET /bits?count=N",
			"GET /status",
			"GET /stats",
			"GET /bit-stats",
			"POST /reset-stats",
			"GET /health",
		},
	})
}

type bitResponse struct {
	Bit int `json:"bit"`
}

// GetBit serves a single random bit from the cache.
func (h *Handler) GetBit(w http.ResponseWriter, r *http.Request) {
	bit, err := h.service.GetBit()
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if h.spool != nil {
		h.spool.Append([]int{bit})
	}

	WriteJSONOK(w, bitResponse{Bit: bit})
}

type bitsResponse struct {
	Bits  []int `json:"bits"`
	Count int   `json:"count"`
}

// GetBits serves count random bits from the cache.
// A missing count query parameter defaults to 1; otherwise it must be a
// positive integer no larger than the per-request maximum.
func (h *Handler) GetBits(w http.ResponseWriter, r *http.Request) {
	count := 1
	if raw := r.URL.Query().Get("count"); raw != "" {
		var err error
		count, err = strconv.Atoi(raw)
		if err != nil {
			BadRequest(w, "count must be an integer")
			return
		}
	}
	if count < 1 {
		BadRequest(w, "count must be positive")
		return
	}
	if count > h.maxBits {
		BadRequest(w, fmt.Sprintf("count %d exceeds the per-request maximum of %d", count, h.maxBits))
		return
	}

	bits, err := h.service.GetBits(count)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if h.spool != nil {
		h.spool.Append(bits)
	}

	WriteJSONOK(w, bitsResponse{Bits: bits, Count: len(bits)})
}

// Status reports the buffer state of the cache.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, h.service.Status())
}

// Stats reports operational counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, h.service.Stats())
}

// BitStats reports the bit value distribution and bias test result.
func (h *Handler) BitStats(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, h.service.BitStats())
}

type resetResponse struct {
	Message string `json:"message"`
}

// ResetStats clears operational counters and the bit histogram.
func (h *Handler) ResetStats(w http.ResponseWriter, r *http.Request) {
	h.service.ResetStats()
	WriteJSONOK(w, resetResponse{Message: "statistics reset"})
}

type healthResponse struct {
	Status string `json:"status"`
}

// Health is a liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, healthResponse{Status: "ok"})
}

// writeServiceError maps cache errors to HTTP problem responses.
// Exhaustion and upstream load failures are 503 so clients know to retry;
// bad requests are 400; anything else is a 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var verr *qrng.ValidationError

	switch {
	case errors.As(err, &verr):
		BadRequest(w, verr.Error())
	case errors.Is(err, qrng.ErrNoData):
		ServiceUnavailable(w, "bit cache exhausted, refill in progress")
	case errors.Is(err, qrng.ErrInitialLoad):
		ServiceUnavailable(w, "initial cache load has not completed")
	default:
		InternalServerError(w, err.Error())
	}
}
