package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fintrack-auth/internal/domain"
	"fintrack-auth/internal/dto"
	"fintrack-auth/internal/netutil"
	"fintrack-auth/internal/observability/metrics"
	obsmw "fintrack-auth/internal/observability/middleware"
	"fintrack-auth/internal/service"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	CORSOrigins []string
	// Requests per minute per IP on the credential endpoints.
	AuthRateLimit int
	// TrustProxy folds X-Forwarded-For / X-Real-IP into the client address.
	// Only enable behind a proxy that sets them, or clients can spoof the IP
	// the rate limiter and session rows see.
	TrustProxy bool
	// ReadyCheck reports downstream health on /healthz; nil means always ready.
	ReadyCheck func(ctx context.Context) error
}

func NewRouter(auth service.AuthService, tokens TokenVerifier, sessions SessionReader, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	if cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(obsmw.WithRequestAndTrace)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(countRequests)

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadyCheck != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.ReadyCheck(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "degraded",
					"error":  err.Error(),
				})
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	limit := cfg.AuthRateLimit
	if limit <= 0 {
		limit = 30
	}

	r.Route("/v1/auth", func(r chi.Router) {
		// Credential endpoints are the brute-force surface.
		r.Use(httprate.LimitByIP(limit, 1*time.Minute))

		r.Post("/register", func(w http.ResponseWriter, r *http.Request) {
			var req dto.RegisterRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request")
				return
			}
			res, err := auth.Register(r.Context(), req)
			if err != nil {
				writeAuthError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, res)
		})

		r.Post("/confirm-email", func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Token string `json:"token"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request")
				return
			}
			if err := auth.ConfirmEmail(r.Context(), body.Token); err != nil {
				writeAuthError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Post("/login", func(w http.ResponseWriter, r *http.Request) {
			var req dto.LoginRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request")
				return
			}
			res, err := auth.Login(r.Context(), req, clientIP(r), r.UserAgent())
			if err != nil {
				writeAuthError(w, err)
				return
			}
			if res.TwoFactor != nil {
				writeJSON(w, http.StatusOK, res.TwoFactor)
				return
			}
			writeJSON(w, http.StatusOK, res.Tokens)
		})

		r.Post("/login/2fa", func(w http.ResponseWriter, r *http.Request) {
			var req dto.LoginTwoFactorRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request")
				return
			}
			res, err := auth.LoginTwoFactor(r.Context(), req, clientIP(r), r.UserAgent())
			if err != nil {
				writeAuthError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		r.Post("/refresh", func(w http.ResponseWriter, r *http.Request) {
			var req dto.RefreshRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request")
				return
			}
			res, err := auth.Refresh(r.Context(), req, clientIP(r), r.UserAgent())
			if err != nil {
				writeAuthError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})
	})

	// Bearer-only surface. Domain services mount their routers behind the
	// same middleware and never interpret auth failures themselves.
	r.Group(func(r chi.Router) {
		r.Use(RequireSession(tokens, sessions))

		r.Post("/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
			ident, ok := IdentityFrom(r.Context())
			if !ok {
				writeUnauthorized(w, "missing_token")
				return
			}
			if err := auth.Logout(r.Context(), ident.SessionID.String()); err != nil {
				writeAuthError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Get("/v1/me", func(w http.ResponseWriter, r *http.Request) {
			ident, ok := IdentityFrom(r.Context())
			if !ok {
				writeUnauthorized(w, "missing_token")
				return
			}
			res, err := auth.CurrentUser(r.Context(), ident.UserID.String())
			if err != nil {
				writeAuthError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})
	})

	return r
}

// countRequests records one http_requests_total sample per request, labelled
// with the matched route pattern rather than the raw path.
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, path, strconv.Itoa(ww.Status()),
		).Inc()
	})
}

func clientIP(r *http.Request) string {
	// With TrustProxy, chi's RealIP has already folded X-Forwarded-For /
	// X-Real-IP into RemoteAddr; otherwise this is the socket peer.
	if normalized, ok := netutil.NormalizeIP(r.RemoteAddr); ok {
		return normalized
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}

func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials),
		errors.Is(err, domain.ErrTwoFactorInvalidCode),
		errors.Is(err, domain.ErrRefreshTokenInvalid),
		errors.Is(err, domain.ErrSessionRevoked),
		errors.Is(err, domain.ErrTokenExpired):
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":  "unauthorized",
			"reason": reasonFor(err),
		})
	case errors.Is(err, domain.ErrAccountLocked):
		writeJSON(w, http.StatusLocked, map[string]string{
			"error":  "account_locked",
			"reason": "too_many_failures",
		})
	case errors.Is(err, domain.ErrEmailNotConfirmed), errors.Is(err, domain.ErrUserDisabled):
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error": strings.ReplaceAll(err.Error(), " ", "_"),
		})
	case errors.Is(err, domain.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_taken")
	case errors.Is(err, domain.ErrTokenInvalid):
		writeError(w, http.StatusBadRequest, "invalid_token")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrSessionRevoked):
		return "session_revoked"
	case errors.Is(err, domain.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, domain.ErrRefreshTokenInvalid):
		return "refresh_token_invalid"
	case errors.Is(err, domain.ErrTwoFactorInvalidCode):
		return "two_factor_invalid_code"
	default:
		return "invalid_credentials"
	}
}
