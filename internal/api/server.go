package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lucasduarte0/whatsapp-api/internal/proxy"
	"github.com/lucasduarte0/whatsapp-api/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(streamServer *proxy.Server, rateLimiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLogger(h.logger), corsMiddleware)

	r.HandleFunc("/ping", h.Ping).Methods(http.MethodGet)

	// everything else is authenticated and rate limited
	api := r.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(rateLimiter), APIKeyMiddleware(h.opts.APIKey), BodyLimitMiddleware(h.opts.MaxBodySize))

	if h.opts.EnableLocalCallback {
		api.HandleFunc("/localCallbackExample", h.LocalCallbackExample).Methods(http.MethodPost)
	}

	sessions := api.PathPrefix("/session").Subrouter()
	sessions.HandleFunc("/terminateInactive", h.TerminateInactive).Methods(http.MethodGet)
	sessions.HandleFunc("/terminateAll", h.TerminateAll).Methods(http.MethodGet)
	sessions.HandleFunc("/getSessions", h.ListSessions).Methods(http.MethodGet)

	named := sessions.NewRoute().Subrouter()
	named.Use(SessionNameMiddleware)
	named.HandleFunc("/start/{sessionId}", h.StartSession).Methods(http.MethodGet)
	named.HandleFunc("/status/{sessionId}", h.SessionStatus).Methods(http.MethodGet)
	named.HandleFunc("/qr/{sessionId}", h.SessionQR).Methods(http.MethodGet)
	named.HandleFunc("/restart/{sessionId}", h.RestartSession).Methods(http.MethodGet)
	named.HandleFunc("/terminate/{sessionId}", h.TerminateSession).Methods(http.MethodGet)
	named.HandleFunc("/events/{sessionId}", func(w http.ResponseWriter, r *http.Request) {
		streamServer.HandleEvents(w, r, mux.Vars(r)["sessionId"])
	}).Methods(http.MethodGet)

	messages := api.PathPrefix("/message").Subrouter()
	messages.Use(SessionNameMiddleware, SessionValidationMiddleware(h.manager))
	messages.HandleFunc("/getClassInfo/{sessionId}", h.GetClassInfo).Methods(http.MethodPost)

	return r
}
