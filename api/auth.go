package api

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"tasktracker/service"
)

const defaultJWKSCacheTTL = 15 * time.Minute

// AuthConfig configures bearer token validation. A non-empty TestSecret
// switches validation to HS256 with that secret instead of the JWKS.
type AuthConfig struct {
	JWKS        *keyfunc.JWKS
	Audience    string
	Issuer      string
	TestSecret  []byte
	KeyCacheTTL time.Duration
}

// Auth validates incoming JWT tokens.
type Auth struct {
	jwks       *keyfunc.JWKS
	audience   string
	issuer     string
	testMode   bool
	testSecret []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates a new Auth instance.
func NewAuth(cfg AuthConfig) *Auth {
	a := &Auth{
		jwks:        cfg.JWKS,
		audience:    cfg.Audience,
		issuer:      cfg.Issuer,
		keyCacheTTL: cfg.KeyCacheTTL,
	}
	if a.keyCacheTTL == 0 {
		a.keyCacheTTL = defaultJWKSCacheTTL
	}
	if len(cfg.TestSecret) > 0 {
		a.testMode = true
		a.testSecret = cfg.TestSecret
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	} else {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	}
	return a
}

// IdentityFromAuthHeader validates the bearer token in an Authorization
// header value and returns the subject it was issued to.
func (a *Auth) IdentityFromAuthHeader(h string) (service.Identity, error) {
	token, err := bearerToken(h)
	if err != nil {
		return service.Identity{}, err
	}
	return a.IdentityFromBearer(token)
}

// IdentityFromBearer validates a raw bearer token.
func (a *Auth) IdentityFromBearer(token string) (service.Identity, error) {
	if token == "" {
		return service.Identity{}, errBadAuthorization
	}
	parsed, err := a.parser.Parse(token, func(t *jwt.Token) (any, error) {
		if a.testMode {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.testSecret, nil
		}
		return a.keyForToken(t)
	})
	if err != nil {
		return service.Identity{}, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return service.Identity{}, errors.New("invalid claims")
	}

	// tolerate a minute of clock skew
	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return service.Identity{}, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return service.Identity{}, errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now, false) {
		return service.Identity{}, errors.New("token used before issued")
	}
	if a.audience != "" && !claims.VerifyAudience(a.audience, false) {
		return service.Identity{}, errors.New("invalid audience")
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, false) {
		return service.Identity{}, errors.New("invalid issuer")
	}

	sub, _ := claims["sub"].(string)
	if strings.TrimSpace(sub) == "" {
		return service.Identity{}, errors.New("missing sub")
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	return service.Identity{Subject: sub, Email: email, Name: name}, nil
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.jwks == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.jwks.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}

// SignTestToken mints an HS256 token accepted by an Auth created with the
// same TestSecret.
func SignTestToken(secret []byte, id service.Identity, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("test secret must be set")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := jwt.MapClaims{
		"sub": id.Subject,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	if id.Email != "" {
		claims["email"] = id.Email
	}
	if id.Name != "" {
		claims["name"] = id.Name
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
