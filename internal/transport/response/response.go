package response

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"storefront-be/internal/apperror"
	"storefront-be/internal/logger"

	"go.uber.org/zap"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.L().Error("failed to encode response", zap.Error(err))
	}
}

// WriteError renders err as the error envelope. Errors without a code are
// reported as INTERNAL_ERROR and their text is never exposed.
func WriteError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := apperror.As(err)
	if typed == nil {
		typed = apperror.Wrap(apperror.CodeInternal, err, "unexpected error")
	}
	meta := apperror.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	if typed.Code() != apperror.CodeInternal && typed.Code() != apperror.CodePersistenceFailure {
		if m := typed.Message(); m != "" {
			msg = m
		}
	}

	payload := ErrorEnvelope{Error: APIError{Code: string(typed.Code()), Message: msg}}
	if meta.DetailsAllowed {
		payload.Error.Details = typed.Details()
	}

	log := logger.FromCtx(ctx).With(
		zap.String("error_code", string(typed.Code())),
		zap.Int("status", meta.HTTPStatus),
	)
	switch {
	case meta.Fatal:
		log.Error("request failed with unreconciled state", zap.Error(err))
	case meta.HTTPStatus >= http.StatusInternalServerError:
		log.Error("request failed", zap.Error(err))
	default:
		log.Debug("request rejected", zap.Error(err))
	}

	WriteJSON(w, meta.HTTPStatus, payload)
}
