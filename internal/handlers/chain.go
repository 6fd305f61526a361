package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"cot-backend/internal/chain"
	"cot-backend/internal/middleware"
	"cot-backend/internal/models"
)

// RunIDHeader echoes the run id. It equals the request's X-Request-ID, so a
// client that sends its own request id knows the progress channel up front.
const RunIDHeader = "X-Chain-Run-ID"

type chainRunner interface {
	Run(ctx context.Context, problem string) (*chain.Result, error)
}

// RunReporter is told about every run that completes successfully.
type RunReporter interface {
	RunFinished(ctx context.Context, result *chain.Result)
}

type ChainHandler struct {
	runner   chainRunner
	reporter RunReporter
}

// NewChainHandler serves chain runs. reporter may be nil.
func NewChainHandler(runner chainRunner, reporter RunReporter) *ChainHandler {
	return &ChainHandler{runner: runner, reporter: reporter}
}

func (h *ChainHandler) RunChain(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	var req models.ChainRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("Invalid request body"))
		return
	}

	if strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("Prompt is required"))
		return
	}

	ctx := r.Context()
	if id := middleware.GetRequestID(ctx); id != "" {
		ctx = chain.WithRunID(ctx, id)
	}

	result, err := h.runner.Run(ctx, req.Prompt)
	if err != nil {
		switch {
		case clientGone(r, err):
			logger.Info().Msg("client disconnected during chain run")
		case errors.Is(err, chain.ErrMissingInput):
			writeJSON(w, http.StatusBadRequest, errorResp("Prompt is required"))
		default:
			logFailure(logger, err, "chain run failed")
			writeJSON(w, http.StatusInternalServerError, errorResp("Failed to process the request."))
		}
		return
	}

	if h.reporter != nil {
		h.reporter.RunFinished(r.Context(), result)
	}

	summaries := result.Summaries
	if summaries == nil {
		summaries = []string{}
	}

	w.Header().Set(RunIDHeader, result.RunID)
	writeJSON(w, http.StatusOK, models.ChainResponse{
		FinalContent: result.FinalAnswer,
		Summaries:    summaries,
	})
}
