package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const bearerPrefix = "Bearer "

// ErrInvalidToken covers every verification failure. The wrapped cause is
// for server-side logs only.
var ErrInvalidToken = errors.New("invalid or expired token")

// Verifier validates HS256 bearer credentials against one shared secret.
// It is immutable after construction and safe for concurrent use.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(secret []byte, audience string, leeway time.Duration) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(leeway),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Verifier{secret: key, parser: jwt.NewParser(opts...)}
}

// Verify checks an Authorization header value and returns the claims along
// with the raw token.
func (v *Verifier) Verify(authorization string) (*Claims, string, error) {
	if !strings.HasPrefix(authorization, bearerPrefix) {
		return nil, "", fmt.Errorf("%w: missing bearer prefix", ErrInvalidToken)
	}
	raw := authorization[len(bearerPrefix):]
	if raw == "" {
		return nil, "", fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims, err := v.parse(raw)
	if err != nil {
		return nil, "", err
	}
	return claims, raw, nil
}

func (v *Verifier) parse(raw string) (*Claims, error) {
	tc := new(tokenClaims)
	token, err := v.parser.ParseWithClaims(raw, tc, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if tc.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if tc.Role == "" {
		return nil, fmt.Errorf("%w: missing role", ErrInvalidToken)
	}
	if tc.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing issued-at", ErrInvalidToken)
	}

	claims := &Claims{
		Subject:   tc.Subject,
		Role:      tc.Role,
		IssuedAt:  tc.IssuedAt.Time,
		ExpiresAt: tc.ExpiresAt.Time,
	}

	if tc.TenantID != "" {
		id, err := uuid.Parse(tc.TenantID)
		if err == nil {
			claims.TenantID = id
		} else if !claims.IsPending() {
			return nil, fmt.Errorf("%w: malformed tenant id", ErrInvalidToken)
		}
	}
	if !claims.IsPending() && claims.TenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing tenant id", ErrInvalidToken)
	}

	return claims, nil
}
