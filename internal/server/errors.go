package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"crypto-market-analyzer/internal/model"
	"crypto-market-analyzer/pkg/ta"
)

// errorBody 所有失败响应的统一结构
type errorBody struct {
	Error   string `json:"error"`
	Status  int    `json:"status,omitempty"` // 上游状态码
	Details string `json:"details,omitempty"`
}

// classifyError 把错误分类映射为 HTTP 状态码
func classifyError(err error) (int, errorBody) {
	var (
		timeoutErr  *model.TimeoutError
		upstreamErr *model.UpstreamError
		formatErr   *model.FormatError
		networkErr  *model.NetworkError
	)

	switch {
	case errors.Is(err, model.ErrInvalidArgument):
		return http.StatusBadRequest, errorBody{Error: err.Error()}

	case errors.Is(err, ta.ErrInsufficientHistory):
		return http.StatusUnprocessableEntity, errorBody{Error: "not enough history to compute analytics"}

	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout, errorBody{
			Error:   "upstream request timed out",
			Details: timeoutErr.Error(),
		}

	case errors.As(err, &upstreamErr):
		// 5xx 重新标记为网关错误，4xx 原样透传
		if upstreamErr.IsServerSide() {
			return http.StatusBadGateway, errorBody{
				Error:   "upstream service error",
				Status:  upstreamErr.Status,
				Details: upstreamErr.Body,
			}
		}
		return upstreamErr.Status, errorBody{
			Error:   "upstream rejected the request",
			Status:  upstreamErr.Status,
			Details: upstreamErr.Body,
		}

	case errors.As(err, &formatErr):
		return http.StatusBadGateway, errorBody{
			Error:   "invalid response format from upstream",
			Details: formatErr.Reason,
		}

	case errors.As(err, &networkErr):
		return http.StatusBadGateway, errorBody{
			Error:   "upstream unreachable",
			Details: networkErr.Err.Error(),
		}
	}

	return http.StatusInternalServerError, errorBody{Error: "internal error"}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classifyError(err)

	logger := s.logger.With(
		zap.String("path", r.URL.Path),
		zap.String("request_id", requestID(r.Context())),
		zap.Int("status", status),
		zap.Error(err))
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed")
	} else {
		logger.Warn("Request rejected")
	}

	writeJSON(w, status, body)
}

// writeJSON 序列化并写回响应
func writeJSON(w http.ResponseWriter, status int, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, payload)
}

func writeRaw(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
