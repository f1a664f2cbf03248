// Package auth reads the caller's identity from a bearer token issued by the
// identity provider. Token issuance and login live outside this service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/models"
	"github.com/dgrijalva/jwt-go"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

type Claims struct {
	Role           models.Role `json:"role"`
	ApprovalStatus string      `json:"approval_status"`
	jwt.StandardClaims
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify checks an HS256 token and returns its principal.
func (v *Verifier) Verify(tokenString string) (models.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return models.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ExpiresAt == 0 {
		return models.Principal{}, fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return models.Principal{}, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, claims.Subject)
	}

	switch claims.Role {
	case models.RoleCustomer, models.RolePharmacist, models.RoleRegulator:
	default:
		return models.Principal{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	status := claims.ApprovalStatus
	if status == "" {
		status = models.ApprovalStatusApproved
	}

	return models.Principal{ID: id, Role: claims.Role, ApprovalStatus: status}, nil
}

// Issue signs a token for p. The identity provider does this in production;
// it is kept here for tooling and tests.
func (v *Verifier) Issue(p models.Principal, ttl time.Duration) (string, error) {
	claims := &Claims{
		Role:           p.Role,
		ApprovalStatus: p.ApprovalStatus,
		StandardClaims: jwt.StandardClaims{
			Subject:   strconv.FormatInt(p.ID, 10),
			IssuedAt:  time.Now().Unix(),
			ExpiresAt: time.Now().Add(ttl).Unix(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

type contextKey struct{}

func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func PrincipalFrom(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(models.Principal)
	return p, ok
}
