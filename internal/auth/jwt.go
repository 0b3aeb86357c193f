package auth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/fableden/fableden/internal/models"
)

const jwtIssuer = "fableden"

// apiClaims are the JWT claims issued to the browser for API calls.
type apiClaims struct {
	jwt.RegisteredClaims
	FamilyID  string `json:"fam"`
	SessionID string `json:"sid"`
	Role      string `json:"role"`
	Email     string `json:"email,omitempty"`
}

// JWTIssuer signs short-lived ES256 API tokens for authenticated sessions.
type JWTIssuer struct {
	signingKey *ecdsa.PrivateKey
	ttl        time.Duration
}

// NewJWTIssuer creates an issuer from a PEM-encoded ECDSA private key.
func NewJWTIssuer(signingKeyPEM string, ttl time.Duration) (*JWTIssuer, error) {
	signingKey, err := jwt.ParseECPrivateKeyFromPEM([]byte(signingKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT signing key: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWTIssuer{signingKey: signingKey, ttl: ttl}, nil
}

// Issue creates a signed token for the principal.
func (i *JWTIssuer) Issue(principal *Principal) (string, time.Duration, error) {
	now := time.Now()
	claims := &apiClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			Issuer:    jwtIssuer,
		},
		FamilyID:  principal.FamilyID.String(),
		SessionID: principal.SessionID.String(),
		Role:      string(principal.Role),
		Email:     principal.Email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := token.SignedString(i.signingKey)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, i.ttl, nil
}

// JWTVerifier validates ES256 API tokens.
type JWTVerifier struct {
	publicKey *ecdsa.PublicKey
}

// NewJWTVerifier creates a verifier from a PEM-encoded ECDSA public key.
func NewJWTVerifier(publicKeyPEM string) (*JWTVerifier, error) {
	publicKey, err := jwt.ParseECPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT public key: %w", err)
	}
	return &JWTVerifier{publicKey: publicKey}, nil
}

// NewJWTVerifierForIssuer derives a verifier from an issuer's key pair.
// Used when website and API run in the same process.
func NewJWTVerifierForIssuer(issuer *JWTIssuer) *JWTVerifier {
	return &JWTVerifier{publicKey: &issuer.signingKey.PublicKey}
}

// Verify parses and validates a token string, returning the principal.
func (v *JWTVerifier) Verify(tokenStr string) (*Principal, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &apiClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodES256 {
			return nil, errors.New("invalid signing method")
		}
		return v.publicKey, nil
	}, jwt.WithIssuer(jwtIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	claims, ok := parsed.Claims.(*apiClaims)
	if !ok || !parsed.Valid {
		return nil, ErrUnauthenticated
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	familyID, err := uuid.Parse(claims.FamilyID)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	role := models.Role(claims.Role)
	if !role.Valid() {
		return nil, ErrUnauthenticated
	}

	// Session ID is optional in token auth
	sessionID, _ := uuid.Parse(claims.SessionID)

	return &Principal{
		UserID:    userID,
		FamilyID:  familyID,
		SessionID: sessionID,
		Role:      role,
		Email:     claims.Email,
	}, nil
}
