package utils

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/echoes/backend/internal/apperr"
)

// ErrorBody 是所有错误响应的JSON结构
type ErrorBody struct {
	Error  string                    `json:"error"`
	Notice string                    `json:"notice,omitempty"`
	Fields []*apperr.ValidationError `json:"fields,omitempty"`
}

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorBody{Error: message})
}

// RespondValidation 发送422响应，附带字段校验错误
func RespondValidation(w http.ResponseWriter, err error) {
	fields := apperr.Fields(err)
	message := "validation failed"
	if len(fields) > 0 {
		message = fields[0].Message
	}
	RespondJSON(w, http.StatusUnprocessableEntity, ErrorBody{Error: message, Fields: fields})
}

// RespondPermissionDenied 发送403响应，附带设备拒绝提示
func RespondPermissionDenied(w http.ResponseWriter, denied *apperr.PermissionDeniedError) {
	RespondJSON(w, http.StatusForbidden, ErrorBody{Error: "permission denied", Notice: denied.Notice})
}
