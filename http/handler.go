package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stephnangue/wopihost/content"
	"github.com/stephnangue/wopihost/helper"
	"github.com/stephnangue/wopihost/logger"
	"github.com/stephnangue/wopihost/token"
	"github.com/stephnangue/wopihost/users"
)

// DiscoveryResolver resolves the editor URL for a file from the WOPI
// client's discovery document.
type DiscoveryResolver interface {
	URLSrc(ctx context.Context, fileID string) (string, error)
}

// HandlerProperties contains configuration for the HTTP handler
type HandlerProperties struct {
	Tokens    *token.Manager
	Content   content.Store
	Discovery DiscoveryResolver
	Users     users.Resolver

	// Enabled gates token issuance for this host.
	Enabled bool

	// URLEncodeTokens makes the handlers accept base64url-encoded
	// access_token and file id parameters.
	URLEncodeTokens bool

	// PostMessageOrigin overrides the origin reported in CheckFileInfo.
	PostMessageOrigin string

	Logger logger.Logger
}

// Handler creates and returns the main HTTP handler for the WOPI host.
func Handler(props *HandlerProperties) http.Handler {
	h := &wopiHandler{
		tokens:            props.Tokens,
		content:           props.Content,
		discovery:         props.Discovery,
		users:             props.Users,
		enabled:           props.Enabled,
		urlEncodeTokens:   props.URLEncodeTokens,
		postMessageOrigin: props.PostMessageOrigin,
		logger:            props.Logger,
	}

	r := chi.NewRouter()

	r.Route("/wopi/files/{id}", func(r chi.Router) {
		// Protocol endpoints called by the editor.
		r.Get("/", h.handleCheckFileInfo)
		r.Get("/contents", h.handleGetFile)
		r.Post("/contents", h.handlePutFile)

		// Token lifecycle endpoints called by the frontend.
		r.Get("/token", h.handleGetToken)
		r.Post("/token", h.handleReleaseToken)
		r.Put("/token/extend", h.handleExtendToken)
	})

	return wrapGenericHandler(r, props.Logger)
}

// wrapGenericHandler wraps the main handler with cross-cutting concerns:
// - Request ID injection
// - Request logging
func wrapGenericHandler(handler http.Handler, log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := helper.GenerateRequestID()
		w.Header().Set("X-Request-Id", requestID)

		start := time.Now()
		handler.ServeHTTP(w, r)

		if log != nil {
			log.Debug("request handled",
				logger.String("request_id", requestID),
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Duration("duration", time.Since(start)),
			)
		}
	})
}
