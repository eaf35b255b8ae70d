package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/Ashennwitch/mbg-tracker/internal/httpserver"
)

// Verifier checks bearer tokens on inbound requests.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a verifier for secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("auth: empty secret")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify validates an Authorization header value.
func (v *Verifier) Verify(header string) (*Claims, error) {
	token := bearerToken(header)
	if token == "" {
		return nil, ErrMissingToken
	}
	return ParseJWT(token, v.secret)
}

// Wrap rejects requests without a valid token and stores the origin in context.
func (v *Verifier) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := v.Verify(r.Header.Get("Authorization"))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="mbg"`)
			httpserver.WriteError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOrigin(r.Context(), claims.OriginID)))
	})
}

// UnaryServerInterceptor verifies the "authorization" metadata entry.
// Health checks are exempt.
func (v *Verifier) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}
		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get("authorization"); len(values) > 0 {
				header = values[0]
			}
		}
		claims, err := v.Verify(header)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(WithOrigin(ctx, claims.OriginID), req)
	}
}
