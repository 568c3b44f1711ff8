package session

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/facebookgo/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmerrifield20/GreenLedger/internal/catalog"
)

// Token types.
const (
	TypeActor = "actor"
	TypeAdmin = "admin"
)

const defaultIssuer = "greenledger"

// Claims are the JWT claims of a GreenLedger session.
type Claims struct {
	jwt.RegisteredClaims
	Type     string `json:"type"`               // "actor" or "admin"
	Category string `json:"category,omitempty"` // actor only
	Role     string `json:"role,omitempty"`     // actor only
	Email    string `json:"email,omitempty"`    // admin only
}

// IsAdmin reports whether the claims belong to an administrator.
func (c *Claims) IsAdmin() bool { return c.Type == TypeAdmin }

// CanAccess reports whether the holder may read batches of category.
func (c *Claims) CanAccess(category string) bool {
	return c.IsAdmin() || c.Category == category
}

// Issuer issues and verifies session tokens.
type Issuer struct {
	key    *rsa.PrivateKey
	pub    *rsa.PublicKey
	issuer string
	ttl    time.Duration
	clock  clock.Clock
}

// NewIssuer creates an Issuer. ttl defaults to 24 hours.
func NewIssuer(key *rsa.PrivateKey, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{key: key, pub: &key.PublicKey, issuer: defaultIssuer, ttl: ttl, clock: clock.New()}
}

// SetClock replaces the time source. Intended for tests.
func (i *Issuer) SetClock(c clock.Clock) { i.clock = c }

// TTL returns the token lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// IssueActor signs a token for role working in category. The pairing is
// checked against the catalog.
func (i *Issuer) IssueActor(category, role string) (string, error) {
	cat, err := catalog.Lookup(category)
	if err != nil {
		return "", err
	}
	idx, err := cat.RoleIndex(role)
	if err != nil {
		return "", err
	}
	return i.sign(Claims{
		Type:     TypeActor,
		Category: cat.ID,
		Role:     cat.Roles[idx],
	}, cat.ID+"/"+cat.Roles[idx])
}

// IssueAdmin signs an administrator token.
func (i *Issuer) IssueAdmin(email string) (string, error) {
	return i.sign(Claims{Type: TypeAdmin, Email: email}, "admin")
}

func (i *Issuer) sign(claims Claims, subject string) (string, error) {
	now := i.clock.Now().UTC()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		ID:        uuid.New().String(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", claims.Type, err)
	}
	return signed, nil
}

// Verify parses and validates a session token, returning its claims.
func (i *Issuer) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return i.pub, nil
		},
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("verify session token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid session token claims")
	}
	if claims.Type != TypeActor && claims.Type != TypeAdmin {
		return nil, errors.New("not a session token")
	}
	return claims, nil
}
