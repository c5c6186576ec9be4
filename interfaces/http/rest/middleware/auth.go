package middleware

import (
	"errors"
	"net"
	"net/http"
	"slices"
	"strings"

	"github.com/awslabs/aws-lambda-go-api-proxy/core"
	"go.uber.org/zap"

	"loci/domain/core/valueobjects"
	"loci/pkg/auth"
	pkgerrors "loci/pkg/errors"
)

// GuestSessionHeader carries the opaque session token of a guest caller.
const GuestSessionHeader = "X-Guest-Session"

// AuthConfig configures Authenticate.
type AuthConfig struct {
	Validator *auth.JWTValidator
	// AllowGuests accepts GuestSessionHeader from callers without a token.
	AllowGuests bool
	// TrustGateway reads the subject from the API Gateway Lambda authorizer
	// context when the request arrived through the Lambda proxy.
	TrustGateway bool
}

// Authenticate resolves the caller into a Principal on the request context.
// Requests with no credentials continue as anonymous; each operation decides
// whether that is enough. A token that is present but invalid is rejected.
func Authenticate(cfg AuthConfig, errHandler *pkgerrors.ErrorHandler, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var principal valueobjects.Principal

			if userID, ok := gatewaySubject(r, cfg.TrustGateway); ok {
				principal = valueobjects.UserPrincipal(userID)
			} else if token := extractToken(r); token != "" {
				if cfg.Validator == nil {
					errHandler.Handle(w, r, pkgerrors.NewUnauthenticatedError("token authentication is not configured"))
					return
				}
				claims, err := cfg.Validator.ValidateToken(token)
				if err != nil {
					logger.Debug("Rejected bearer token",
						zap.String("clientIP", getClientIP(r)),
						zap.Error(err),
					)
					errHandler.Handle(w, r, pkgerrors.NewUnauthenticatedError(tokenMessage(err)))
					return
				}
				principal = valueobjects.UserPrincipal(claims.UserID())
			} else if session := strings.TrimSpace(r.Header.Get(GuestSessionHeader)); session != "" && cfg.AllowGuests {
				principal = valueobjects.GuestPrincipal(session)
			}

			if err := checkNamespace(principal); err != nil {
				errHandler.Handle(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireAdmin lets through only signed-in users listed in admins.
func RequireAdmin(admins []string, errHandler *pkgerrors.ErrorHandler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := auth.PrincipalFrom(r.Context())
			if err := p.RequireUser(); err != nil {
				errHandler.Handle(w, r, err)
				return
			}
			if !slices.Contains(admins, p.UserID) {
				errHandler.Handle(w, r, pkgerrors.NewForbiddenError("administrator access required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// checkNamespace rejects identities that would read as another caller's
// owner key once guest keys are prefixed.
func checkNamespace(p valueobjects.Principal) error {
	switch {
	case strings.HasPrefix(p.UserID, valueobjects.GuestOwnerPrefix):
		return pkgerrors.NewUnauthenticatedError("subject uses a reserved prefix")
	case strings.HasPrefix(p.GuestSession, valueobjects.GuestOwnerPrefix):
		return pkgerrors.NewValidationError("guest session uses a reserved prefix")
	}
	return nil
}

func gatewaySubject(r *http.Request, trusted bool) (string, bool) {
	if !trusted {
		return "", false
	}
	proxyCtx, ok := core.GetAPIGatewayV2ContextFromContext(r.Context())
	if !ok || proxyCtx.Authorizer == nil || proxyCtx.Authorizer.Lambda == nil {
		return "", false
	}
	userID, ok := proxyCtx.Authorizer.Lambda["sub"].(string)
	return userID, ok && userID != ""
}

// extractToken extracts the bearer token from the Authorization header
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func tokenMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token has expired"
	case errors.Is(err, auth.ErrInvalidSignature):
		return "Invalid token signature"
	default:
		return "Invalid token"
	}
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
