package jwt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rental-portal/internal/config"
	"rental-portal/internal/nonce"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidNonce     = errors.New("invalid nonce")
	ErrNonValidToken    = errors.New("token did not pass validation")
	ErrInvalidClaimType = errors.New("invalid claim type")
	ErrInvalidAccess    = errors.New("token does not grant access")
)

var tokenSignatureAlg = jwt.SigningMethodHS256

// Capability granted by the entry wall token.
const ACCESS_CAPABILITY = "rentals"

// AccessClaim is the payload of the entry wall cookie.
type AccessClaim struct {
	Access string `json:"access"`
	jwt.RegisteredClaims
}

// NewAccessClaim creates the fixed capability claim, expiring 7 days from now.
func NewAccessClaim() AccessClaim {
	now := time.Now().UTC()
	return AccessClaim{
		Access: ACCESS_CAPABILITY,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(config.ACCESS_TTL * time.Second)),
		},
	}
}

// DecodeAccessJWT verifies an entry wall token. The gate itself only checks
// for cookie presence and does not call this.
func DecodeAccessJWT(tokenString string) (*AccessClaim, error) {
	claims, err := decodeJWT(tokenString, &AccessClaim{})
	if err != nil {
		return nil, err
	}
	if claims.Access != ACCESS_CAPABILITY {
		return nil, ErrInvalidAccess
	}
	return claims, nil
}

// SessionClaim identifies a signed-in user. The jti is a nonce, so a session
// is revoked by consuming it.
type SessionClaim struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Session lifetime in seconds.
func SessionTTL() uint {
	return config.Cfg.UserAuthTTL * 24 * 60 * 60
}

func NewSessionClaim(userID, email, name string) (SessionClaim, error) {
	registered, err := createRegisteredClaim(SessionTTL())
	if err != nil {
		return SessionClaim{}, err
	}
	return SessionClaim{
		UserID:           userID,
		Email:            email,
		Name:             name,
		RegisteredClaims: registered,
	}, nil
}

// DecodeSessionJWT verifies the token and checks that its nonce has not been
// revoked. The nonce is left in place.
func DecodeSessionJWT(tokenString string) (*SessionClaim, error) {
	claims, err := decodeJWT(tokenString, &SessionClaim{})
	if err != nil {
		return nil, err
	}
	if nonce.Store == nil || !nonce.Store.Exists(context.Background(), claims.ID) {
		return nil, ErrInvalidNonce
	}
	return claims, nil
}

// RevokeSession consumes the session nonce.
func RevokeSession(ctx context.Context, claims *SessionClaim) error {
	if nonce.Store == nil {
		return ErrInvalidNonce
	}
	if ok, err := nonce.Store.Consume(ctx, claims.ID); err != nil || !ok {
		if err != nil {
			return err
		}
		return ErrInvalidNonce
	}
	return nil
}

func createRegisteredClaim(ttl uint) (jwt.RegisteredClaims, error) {
	if ttl == 0 {
		return jwt.RegisteredClaims{}, fmt.Errorf("invalid token TTL")
	}
	// nonce TTL is slightly longer than token TTL to allow for clock skew
	id, err := nonce.Nonce(time.Duration(ttl+10) * time.Second)
	if err != nil {
		return jwt.RegisteredClaims{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := time.Now().UTC()
	return jwt.RegisteredClaims{
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttl) * time.Second)),
	}, nil
}

// Generic JWT token generation function
func GenerateJWT(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(tokenSignatureAlg, claims)
	return token.SignedString([]byte(config.Cfg.Secret))
}

func decodeJWT[T jwt.Claims](tokenString string, claimsType T) (T, error) {
	var zero T

	parsedToken, err := jwt.ParseWithClaims(tokenString, claimsType, func(token *jwt.Token) (interface{}, error) {
		return []byte(config.Cfg.Secret), nil
	}, jwt.WithValidMethods([]string{tokenSignatureAlg.Alg()}))

	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrNonValidToken, err)
	} else if parsedToken == nil || !parsedToken.Valid {
		return zero, ErrNonValidToken
	} else if claims, ok := parsedToken.Claims.(T); ok {
		return claims, nil
	}

	return zero, ErrInvalidClaimType
}
