package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/domain"
)

// Claims extends standard registered claims with role information. Role is
// "driver" or "customer"; business authorization beyond that stays with the
// product's auth service.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is what the relay derives from a verified token.
type Identity struct {
	Subject string
	Kind    domain.PartyKind
}

var ErrInvalidToken = errors.New("invalid token")
var ErrUnknownRole = errors.New("unknown role")

// Verify parses an HMAC-signed token and maps its role onto a party kind.
// Used by the socket handshake where there is no HTTP header to middleware.
func Verify(secret, tokenString string) (Identity, error) {
	claims, err := parse(secret, tokenString)
	if err != nil {
		return Identity{}, err
	}
	kind, err := kindFromRole(claims.Role)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Subject: claims.Subject, Kind: kind}, nil
}

// Middleware validates bearer tokens on the admin HTTP surface and injects
// claims into the request context.
func Middleware(secret string, roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := tokenFromHeader(r.Header.Get("Authorization"))
			if tokenString == "" {
				http.Error(w, "missing token", http.StatusUnauthorized)
				return
			}
			claims, err := parse(secret, tokenString)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if len(allowed) > 0 {
				if _, ok := allowed[claims.Role]; !ok {
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
			}
			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext retrieves claims from context.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}

type claimsKey struct{}

func parse(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func kindFromRole(role string) (domain.PartyKind, error) {
	switch strings.ToLower(role) {
	case "driver":
		return domain.PartyDriver, nil
	case "customer", "rider", "parent":
		return domain.PartyCustomer, nil
	default:
		return "", ErrUnknownRole
	}
}

func tokenFromHeader(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
