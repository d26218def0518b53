package tokenauth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// API exposes the authentication flows over HTTP
type API struct {
	Auth       *AuthService
	Authorizer *Authorizer
	Logger     *slog.Logger

	// Prefix all routes are mounted under. Defaults to "/v1".
	Prefix string
	// StoreTimeout bounds each request's store work. Zero means no limit.
	StoreTimeout time.Duration
}

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Error   string    `json:"error"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
}

func (a *API) EnsureReasonableDefaults() {
	if a.Prefix == "" {
		a.Prefix = "/v1"
	}
	if a.Logger == nil {
		a.Logger = slog.Default()
	}
	a.Authorizer.EnsureReasonableDefaults()
}

// Handler builds the router
func (a *API) Handler() http.Handler {
	a.EnsureReasonableDefaults()
	r := mux.NewRouter()
	r.Use(a.accessLog)
	v1 := r.PathPrefix(a.Prefix).Subrouter()

	v1.HandleFunc("/status", a.handleStatus).Methods(http.MethodGet)

	auth := v1.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", a.handleRegister).Methods(http.MethodPost)
	auth.HandleFunc("/login", a.handleLogin).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", a.handleRefresh).Methods(http.MethodPost)
	auth.HandleFunc("/send-password-reset", a.handleSendPasswordReset).Methods(http.MethodPost)
	auth.HandleFunc("/reset-password", a.handleResetPassword).Methods(http.MethodPost)
	auth.Handle("/facebook", a.Authorizer.OAuth(ServiceFacebook)(http.HandlerFunc(a.handleOAuth))).Methods(http.MethodPost)
	auth.Handle("/google", a.Authorizer.OAuth(ServiceGoogle)(http.HandlerFunc(a.handleOAuth))).Methods(http.MethodPost)

	a.userRoutes(v1.PathPrefix("/users").Subrouter())

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, NewAuthError(CodeNotFound, "Not found"))
	})
	return r
}

func (a *API) withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	// Writes must not be torn by a client disconnect
	ctx := context.WithoutCancel(r.Context())
	if a.StoreTimeout > 0 {
		return context.WithTimeout(ctx, a.StoreTimeout)
	}
	return context.WithCancel(ctx)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("OK"))
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := a.withTimeout(r)
	defer cancel()
	res, err := a.Auth.Register(ctx, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := a.withTimeout(r)
	defer cancel()
	res, err := a.Auth.Login(ctx, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleOAuth(w http.ResponseWriter, r *http.Request) {
	u := UserFromContext(r.Context())
	if u == nil {
		a.fail(w, r, ErrUnauthorized)
		return
	}
	ctx, cancel := a.withTimeout(r)
	defer cancel()
	res, err := a.Auth.LoginUser(ctx, u)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := a.withTimeout(r)
	defer cancel()
	bundle, err := a.Auth.Refresh(ctx, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (a *API) handleSendPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req SendPasswordResetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := a.withTimeout(r)
	defer cancel()
	if err := a.Auth.SendPasswordReset(ctx, req); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "success")
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := a.withTimeout(r)
	defer cancel()
	if err := a.Auth.ResetPassword(ctx, req); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Password Updated")
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	if StatusCode(err) >= http.StatusInternalServerError {
		a.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, err)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.Logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeError(w, ValidationError("body", "Invalid request body"))
		return false
	}
	return true
}

// readJSON decodes an optional body. An empty body leaves target untouched
// so field validation can name what is missing.
func readJSON(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return ValidationError("body", "Invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps err onto its status code. Internal errors get a generic message.
func writeError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	resp := ErrorResponse{
		Code:    "internal_error",
		Error:   http.StatusText(status),
		Message: "Internal server error",
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		resp.Code = ae.Code
		if status < http.StatusInternalServerError {
			resp.Message = ae.Message
			resp.Field = ae.Field
		}
	}
	writeJSON(w, status, resp)
}
