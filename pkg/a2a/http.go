package a2a

import (
	"encoding/json"
	"net/http"

	"github.com/zeromicro/go-zero/core/logx"
)

// HTTPHandler adapts Gateway to net/http for the HTTP leg of the A2A
// wire. The config's rest.RestConf supplies the Host/Port/Timeout the
// listener binds; the transport itself is plain net/http.
type HTTPHandler struct {
	gw *Gateway
}

func NewHTTPHandler(gw *Gateway) *HTTPHandler {
	return &HTTPHandler{gw: gw}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "a2a: POST required", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(nil, codeParseError, "a2a: invalid JSON body"))
		return
	}

	resp := h.gw.Dispatch(r.Context(), req)
	status := http.StatusOK
	if resp.Error != nil {
		status = statusFor(resp.Error)
	}
	writeJSON(w, status, resp)
}

func statusFor(e *RPCError) int {
	if e.Data == nil {
		return http.StatusBadRequest
	}
	switch e.Data.Code {
	case "rate_limited":
		return http.StatusTooManyRequests
	case "unauthorized":
		return http.StatusUnauthorized
	case "not_found":
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Errorf("a2a: encode response: %v", err)
	}
}
