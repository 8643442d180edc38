package webhooks

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/goliatone/go-billing-connect/core"
	glog "github.com/goliatone/go-logger/glog"
)

const defaultMaxBodyBytes = 1 << 20

// HTTPHandler adapts a Processor to net/http. The request body is
// captured raw before any parsing: signature verification depends on
// the exact bytes the provider sent.
type HTTPHandler struct {
	ProviderID   string
	Processor    *Processor
	MaxBodyBytes int64
	Logger       core.Logger
}

func NewHTTPHandler(providerID string, processor *Processor) *HTTPHandler {
	return &HTTPHandler{
		ProviderID:   strings.TrimSpace(providerID),
		Processor:    processor,
		MaxBodyBytes: defaultMaxBodyBytes,
		Logger:       glog.Ensure(nil),
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Processor == nil {
		http.Error(w, "webhook processor unavailable", http.StatusServiceUnavailable)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	maxBytes := h.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > maxBytes {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	req := core.InboundRequest{
		ProviderID: h.ProviderID,
		Headers:    flattenHeaders(r.Header),
		Body:       body,
	}
	result, processErr := h.Processor.Process(r.Context(), req)

	statusCode := result.StatusCode
	if statusCode == 0 {
		statusCode = http.StatusOK
		if processErr != nil {
			statusCode = http.StatusInternalServerError
		}
	}
	if processErr != nil {
		h.log(r).Error("webhook delivery failed",
			"provider_id", h.ProviderID,
			"status_code", statusCode,
			"error", processErr.Error(),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"received": result.Accepted,
	})
}

func (h *HTTPHandler) log(r *http.Request) core.Logger {
	logger := h.Logger
	if logger == nil {
		logger = glog.Ensure(nil)
	}
	if r != nil {
		logger = logger.WithContext(r.Context())
	}
	return logger
}

func flattenHeaders(header http.Header) map[string]string {
	if len(header) == 0 {
		return map[string]string{}
	}
	flattened := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) == 0 {
			continue
		}
		flattened[key] = values[0]
	}
	return flattened
}
