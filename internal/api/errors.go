package api

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/eventhub/partner-portal/internal/apiclient"
	"github.com/eventhub/partner-portal/pkg/response"
)

const timeLayout = time.RFC3339

// upstreamError relays a failed external API call. The upstream message is
// shown as is; anything else becomes fallback.
func upstreamError(w http.ResponseWriter, logger *zap.Logger, err error, fallback string) {
	var apiErr *apiclient.APIError
	if !errors.As(err, &apiErr) {
		logger.Error(fallback, zap.Error(err))
		response.InternalError(w, fallback)
		return
	}

	if len(apiErr.ValidationErrors) > 0 {
		response.ValidationError(w, apiErr.Message, apiErr.ValidationErrors)
		return
	}

	switch apiErr.Status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		response.BadRequest(w, apiErr.Message)
	case http.StatusUnauthorized:
		response.Unauthorized(w, apiErr.Message)
	case http.StatusForbidden:
		response.Forbidden(w, apiErr.Message)
	case http.StatusNotFound:
		response.NotFound(w, apiErr.Message)
	case http.StatusConflict:
		response.Conflict(w, apiErr.Message)
	default:
		logger.Warn(fallback, zap.Int("status", apiErr.Status), zap.Error(err))
		response.BadGateway(w, fallback)
	}
}
