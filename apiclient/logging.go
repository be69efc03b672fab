package apiclient

import (
	"catcare.com/client/logger"
	"github.com/rs/zerolog"
)

var defaultLogger = logger.NewLogger("API client")

type endpointLoggerFields struct {
	Method    string `json:"method"`
	Path      string `json:"path"`
	RequestID string `json:"request_id"`
}

const RequestInfoFieldsKey = "request_info"

func makeRequestLogger(base zerolog.Logger, req Request, requestID string) zerolog.Logger {
	fields := endpointLoggerFields{
		Method:    req.Method,
		Path:      req.Path,
		RequestID: requestID,
	}
	return base.With().Interface(RequestInfoFieldsKey, fields).Logger()
}
