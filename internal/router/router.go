package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"cot-backend/internal/handlers"
	"cot-backend/internal/middleware"
)

// Options carries the optional pieces of the HTTP surface.
type Options struct {
	CORSOrigin string
	// JWTAuth guards /chain and /message when set.
	JWTAuth *middleware.JWTAuth
	// RateLimit is applied to /chain and /message when set.
	RateLimit func(http.Handler) http.Handler
}

func New(
	logger zerolog.Logger,
	chainHandler *handlers.ChainHandler,
	messageHandler *handlers.MessageHandler,
	opts Options,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(opts.CORSOrigin))

	r.Get("/health", handlers.Health)

	r.Group(func(r chi.Router) {
		if opts.RateLimit != nil {
			r.Use(opts.RateLimit)
		}
		if opts.JWTAuth != nil {
			r.Use(opts.JWTAuth.Middleware)
		}

		r.Route("/chain", func(r chi.Router) {
			r.Post("/", chainHandler.RunChain)
		})
		r.Post("/message", messageHandler.SendMessage)
	})

	return r
}
