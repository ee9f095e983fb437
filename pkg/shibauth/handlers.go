package shibauth

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/perimeterlabs/shibgate/pkg/httputil"
	"github.com/perimeterlabs/shibgate/pkg/identity"
	"github.com/perimeterlabs/shibgate/pkg/observability"
	"github.com/perimeterlabs/shibgate/pkg/session"
)

// Handlers exposes the SSO login endpoint and its session companions.
type Handlers struct {
	engine   *Engine
	store    identity.Store
	policies *PolicyProvider
	sessions *session.Manager
	basePath string
	logger   *logrus.Logger
	metrics  *observability.Metrics
}

// NewHandlers creates the handler set. basePath is the post-login
// redirect target when the request carries no usable "next" parameter.
func NewHandlers(engine *Engine, store identity.Store, policies *PolicyProvider, sessions *session.Manager, basePath string, logger *logrus.Logger, metrics *observability.Metrics) *Handlers {
	if basePath == "" {
		basePath = "/"
	}
	return &Handlers{
		engine:   engine,
		store:    store,
		policies: policies,
		sessions: sessions,
		basePath: basePath,
		logger:   logger,
		metrics:  metrics,
	}
}

// RegisterRoutes registers the authentication routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/shib/login", h.login).Methods("GET")
	router.HandleFunc("/auth/shib/logout", h.logout).Methods("GET", "POST")
	router.HandleFunc("/auth/shib/whoami", h.whoami).Methods("GET")
}

// login handles GET /auth/shib/login. The attribute-injecting front end
// protects this route; everything the engine needs arrives as headers.
func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	policy := h.policies.Current()
	assertion := ExtractAssertion(r, policy)

	result, err := h.engine.Authenticate(r.Context(), policy, assertion)
	if err != nil {
		var unauthorized *UnauthorizedIdPError
		var missingAttr *MissingAttributeError
		switch {
		case errors.Is(err, ErrMissingIdentityProvider):
			h.metrics.LoginsTotal.WithLabelValues(observability.OutcomeMissingIdP).Inc()
			httputil.WriteBadRequest(w, "invalid response from IdP")
		case errors.As(err, &unauthorized):
			h.metrics.LoginsTotal.WithLabelValues(observability.OutcomeUnauthorizedIdP).Inc()
			httputil.WriteForbidden(w, "unauthorized IdP: "+unauthorized.IdP)
		case errors.As(err, &missingAttr):
			h.metrics.LoginsTotal.WithLabelValues(observability.OutcomeMissingAttr).Inc()
			httputil.WriteBadRequest(w, "invalid response from IdP")
		default:
			h.metrics.LoginsTotal.WithLabelValues(observability.OutcomeStoreError).Inc()
			h.logger.WithError(err).Error("SSO login failed")
			httputil.WriteInternalError(w)
		}
		return
	}

	if _, err := h.sessions.Establish(r.Context(), w, result.User); err != nil {
		h.metrics.LoginsTotal.WithLabelValues(observability.OutcomeStoreError).Inc()
		h.logger.WithError(err).Error("Failed to establish session")
		httputil.WriteInternalError(w)
		return
	}

	h.metrics.LoginsTotal.WithLabelValues(observability.OutcomeSuccess).Inc()
	h.metrics.SessionsEstablishedTotal.Inc()
	h.logger.WithFields(logrus.Fields{
		"username": result.User.Username,
		"idp":      assertion.IdP,
		"groups":   result.Entitled,
	}).Info("SSO login succeeded")

	http.Redirect(w, r, h.redirectTarget(r), http.StatusFound)
}

// redirectTarget picks the post-login destination: the "next" query
// parameter when it names a local path, otherwise the configured base
// path. Absolute URLs and protocol-relative paths are rejected to keep
// the endpoint from being used as an open redirect.
func (h *Handlers) redirectTarget(r *http.Request) string {
	next := r.URL.Query().Get("next")
	if next == "" {
		return h.basePath
	}

	parsed, err := url.Parse(next)
	if err != nil || parsed.Scheme != "" || parsed.Host != "" {
		return h.basePath
	}
	if !strings.HasPrefix(parsed.Path, "/") || strings.HasPrefix(parsed.Path, "//") || strings.Contains(next, "\\") {
		return h.basePath
	}
	return next
}

// logout destroys the current session and redirects to the base path.
func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Destroy(r.Context(), w, r); err != nil {
		h.logger.WithError(err).Error("Failed to destroy session")
		httputil.WriteInternalError(w)
		return
	}
	h.metrics.SessionsDestroyedTotal.Inc()
	http.Redirect(w, r, h.basePath, http.StatusFound)
}

// whoami returns the authenticated user for the request's session.
func (h *Handlers) whoami(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.FromRequest(r.Context(), r)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load session")
		httputil.WriteInternalError(w)
		return
	}
	if sess == nil {
		httputil.WriteUnauthorized(w, "no active session")
		return
	}

	user, err := h.store.FindUserByUsername(r.Context(), sess.Username)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load user")
		httputil.WriteInternalError(w)
		return
	}
	if user == nil {
		httputil.WriteUnauthorized(w, "no active session")
		return
	}

	groups, err := h.store.ListGroups(r.Context(), user.ID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list groups")
		httputil.WriteInternalError(w)
		return
	}
	names := make([]string, 0, len(groups))
	for _, group := range groups {
		names = append(names, group.Name)
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"user":   user,
		"groups": names,
	})
}
