package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"cot-backend/internal/chain"
	"cot-backend/internal/models"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(message string) models.ErrorResponse {
	return models.ErrorResponse{Error: message}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
}

// clientGone reports whether err only reflects the caller disconnecting.
func clientGone(r *http.Request, err error) bool {
	return r.Context().Err() != nil && errors.Is(err, context.Canceled)
}

// logFailure records why a run failed with the detail each error type carries.
func logFailure(logger *zerolog.Logger, err error, msg string) {
	event := logger.Error().Err(err)

	var upstream *chain.UpstreamError
	var parseErr *chain.ParseError
	var violation *chain.SchemaViolationError
	switch {
	case errors.As(err, &upstream):
		event = event.Str("kind", "upstream").Str("role", string(upstream.Role)).Int("depth", upstream.Depth)
	case errors.As(err, &parseErr):
		event = event.Str("kind", "parse").Str("raw", parseErr.Raw)
	case errors.As(err, &violation):
		event = event.Str("kind", "schema").Str("role", string(violation.Role)).Interface("fields", violation.Fields)
	}
	event.Msg(msg)
}
