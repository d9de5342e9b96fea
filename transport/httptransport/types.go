package httptransport

import (
	"net/http"
	"time"

	syncerrors "github.com/c0deZ3R0/go-sync-engine/errors"
	"github.com/c0deZ3R0/go-sync-engine/syncengine"
)

// ServerOptions configures the HTTP surface.
type ServerOptions struct {
	// MaxRequestSize limits request body size in bytes.
	MaxRequestSize int64

	// RequestTimeout bounds the handling of a single request.
	RequestTimeout time.Duration

	// RateLimitPerSecond caps requests per client IP. Zero disables limiting.
	RateLimitPerSecond float64

	// RateLimitBurst is the per-IP burst allowance.
	RateLimitBurst int
}

// DefaultServerOptions returns sensible production defaults.
func DefaultServerOptions() ServerOptions {
	return ServerOptions{
		MaxRequestSize:     1 << 20, // 1MB
		RequestTimeout:     30 * time.Second,
		RateLimitPerSecond: 50,
		RateLimitBurst:     100,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type queueResponse struct {
	OperationID string `json:"operation_id"`
	Status      string `json:"status"`
}

type batchItemResult struct {
	OperationID string `json:"operation_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

type batchResponse struct {
	Results []batchItemResult `json:"results"`
	Queued  int               `json:"queued"`
	Failed  int               `json:"failed"`
}

type resolveRequest struct {
	Strategy   syncengine.Strategy `json:"strategy"`
	MergedData syncengine.Payload  `json:"merged_data,omitempty"`
}

type purgeRequest struct {
	OlderThanDays int `json:"older_than_days"`
}

type purgeResponse struct {
	OperationsPurged int `json:"operations_purged"`
}

// statusFromError maps an error to the HTTP status for the response.
func statusFromError(err error) int {
	switch syncerrors.KindOf(err) {
	case syncerrors.KindValidation, syncerrors.KindMissingMergeData:
		return http.StatusBadRequest
	case syncerrors.KindNotFound:
		return http.StatusNotFound
	case syncerrors.KindDuplicate, syncerrors.KindAlreadyResolved, syncerrors.KindVersionConflict:
		return http.StatusConflict
	case syncerrors.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
