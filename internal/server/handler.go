// Package server hosts the site page locally. Every page load runs the
// session initializer, so the login callback is completed by whichever page
// the identity provider redirects back to.
package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"
	"github.com/savaki/authsession/internal/location"
	"github.com/savaki/authsession/internal/session"
)

const flashSessionName = "authsession_flash"

//go:embed page.html
var pageHTML string

var pageTemplate = template.Must(template.New("page").Parse(pageHTML))

type ErrorResponse struct {
	Error string `json:"error"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type pageData struct {
	BasePath string
	State    session.State
	Flashes  []string
}

// Handler serves the page and its auth routes under a base path.
type Handler struct {
	facade   *session.Facade
	store    sessions.Store
	basePath string
}

// NewHandler returns a Handler. basePath must be normalized with leading and
// trailing slashes.
func NewHandler(facade *session.Facade, store sessions.Store, basePath string) *Handler {
	return &Handler{
		facade:   facade,
		store:    store,
		basePath: basePath,
	}
}

// NewSessionStore returns the cookie store used for flash messages. keys are
// newest first; the first signs and encrypts, the rest still decode.
func NewSessionStore(keys [][]byte, secure bool, basePath string) *sessions.CookieStore {
	pairs := make([][]byte, 0, 2*len(keys))
	for _, key := range keys {
		pairs = append(pairs, key, key)
	}

	store := sessions.NewCookieStore(pairs...)
	store.Options = &sessions.Options{
		Path:     basePath,
		MaxAge:   300,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// Routes returns the router for every page route.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+h.basePath+"{$}", h.handlePage)
	mux.HandleFunc("GET "+h.basePath+"login", h.handleLogin)
	mux.HandleFunc("GET "+h.basePath+"logout", h.handleLogout)
	mux.HandleFunc("GET "+h.basePath+"api/token", h.handleToken)
	mux.HandleFunc("GET "+h.basePath+"api/user", h.handleUser)
	return mux
}

// NewRouter wraps the routes with request logging.
func (h *Handler) NewRouter(logger zerolog.Logger) http.Handler {
	return loggingMiddleware(logger)(h.Routes())
}

func pageContext(r *http.Request) (context.Context, *location.Request) {
	loc := location.FromRequest(r)
	return location.WithContext(r.Context(), loc), loc
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	ctx, loc := pageContext(r)
	state := h.facade.Init(ctx)

	// callback processed: reload the clean URL so a refresh cannot replay it
	if path, ok := loc.Replaced(); ok {
		if state.Authenticated && state.User != nil {
			h.flash(w, r, fmt.Sprintf("Signed in as %s.", state.User.Name))
		} else if !state.Authenticated {
			h.flash(w, r, "Sign in did not complete. Please try again.")
		}
		http.Redirect(w, r, path, http.StatusSeeOther)
		return
	}

	data := pageData{
		BasePath: h.basePath,
		State:    state,
		Flashes:  h.flashes(w, r),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := pageTemplate.Execute(w, data); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to render page")
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, loc := pageContext(r)
	h.facade.Login(ctx)
	if !loc.Flush(w) {
		h.flash(w, r, "Login is unavailable right now.")
		http.Redirect(w, r, h.basePath, http.StatusFound)
	}
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx, loc := pageContext(r)
	h.facade.Logout(ctx)
	if !loc.Flush(w) {
		http.Redirect(w, r, h.basePath, http.StatusFound)
	}
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	token, ok := h.facade.Token(r.Context())
	if !ok {
		h.errorResponse(w, http.StatusUnauthorized, "login required")
		return
	}
	h.jsonResponse(w, http.StatusOK, TokenResponse{AccessToken: token, TokenType: "Bearer"})
}

func (h *Handler) handleUser(w http.ResponseWriter, r *http.Request) {
	user := h.facade.User(r.Context())
	if user == nil {
		h.errorResponse(w, http.StatusUnauthorized, "login required")
		return
	}
	h.jsonResponse(w, http.StatusOK, user)
}

func (h *Handler) flash(w http.ResponseWriter, r *http.Request, message string) {
	logger := zerolog.Ctx(r.Context())

	sess, err := h.store.Get(r, flashSessionName)
	if err != nil {
		logger.Debug().Err(err).Msg("Discarding unreadable flash cookie")
	}
	sess.AddFlash(message)
	if err := sess.Save(r, w); err != nil {
		logger.Error().Err(err).Msg("Failed to save flash")
	}
}

func (h *Handler) flashes(w http.ResponseWriter, r *http.Request) []string {
	sess, err := h.store.Get(r, flashSessionName)
	if err != nil || sess.IsNew {
		return nil
	}

	var messages []string
	for _, v := range sess.Flashes() {
		if s, ok := v.(string); ok {
			messages = append(messages, s)
		}
	}
	if len(messages) > 0 {
		if err := sess.Save(r, w); err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to clear flashes")
		}
	}
	return messages
}

// jsonResponse writes a JSON response
func (h *Handler) jsonResponse(w http.ResponseWriter, statusCode int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to marshal response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}

// errorResponse writes an error JSON response
func (h *Handler) errorResponse(w http.ResponseWriter, statusCode int, message string) {
	h.jsonResponse(w, statusCode, ErrorResponse{Error: message})
}

// ListenAndServe serves handler on addr until ctx is cancelled, then shuts
// down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		return nil
	}
}
