// ABOUTME: JWT verification for attestation and identity tokens
// ABOUTME: HS256 shared secret or RS256 public key; decodes identity claims into a Principal

package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token expired")
	ErrMissingClaim       = errors.New("missing required claim")
	ErrNoVerificationKey  = errors.New("no verification key configured")
	ErrSigningUnsupported = errors.New("token signing requires a shared secret")
)

// Claims that map onto Principal fields. Everything else lands in Principal.Extra.
const (
	claimSubject = "sub"
	claimUID     = "uid"
	claimEmail   = "email"
	claimRole    = "role"
)

// Principal is the decoded identity of the caller, valid for one request.
type Principal struct {
	UID   string
	Email string
	Role  string
	Extra map[string]any
}

// Verifier checks attestation and identity tokens. Failures are returned, never panicked.
type Verifier interface {
	VerifyAttestation(ctx context.Context, token string) error
	VerifyIdentity(ctx context.Context, token string) (*Principal, error)
}

// JWTConfig configures a JWTVerifier. PublicKeyPEM takes precedence over Secret.
type JWTConfig struct {
	Secret       []byte
	PublicKeyPEM []byte
	Issuer       string
	Audience     string
}

// JWTVerifier validates JWTs signed with HS256 or RS256.
type JWTVerifier struct {
	secret    []byte
	publicKey *rsa.PublicKey
	opts      []jwt.ParserOption
}

// NewJWTVerifier creates a verifier from cfg.
func NewJWTVerifier(cfg JWTConfig) (*JWTVerifier, error) {
	v := &JWTVerifier{}
	methods := []string{jwt.SigningMethodHS256.Alg()}

	switch {
	case len(cfg.PublicKeyPEM) > 0:
		key, err := jwt.ParseRSAPublicKeyFromPEM(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parsing public key: %w", err)
		}
		v.publicKey = key
		methods = []string{jwt.SigningMethodRS256.Alg()}
	case len(cfg.Secret) > 0:
		v.secret = cfg.Secret
	default:
		return nil, ErrNoVerificationKey
	}

	v.opts = append(v.opts, jwt.WithValidMethods(methods), jwt.WithExpirationRequired())
	if cfg.Issuer != "" {
		v.opts = append(v.opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		v.opts = append(v.opts, jwt.WithAudience(cfg.Audience))
	}
	return v, nil
}

func (v *JWTVerifier) keyFunc(token *jwt.Token) (interface{}, error) {
	if v.publicKey != nil {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	}
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return v.secret, nil
}

// Parse validates tokenString and returns its claims.
func (v *JWTVerifier) Parse(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, v.keyFunc, v.opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Generate signs claims with the shared secret, adding iat and exp.
// Used for local development tokens; RS256 verifiers cannot sign.
func (v *JWTVerifier) Generate(claims map[string]any, expiresIn time.Duration) (string, error) {
	if v.secret == nil {
		return "", ErrSigningUnsupported
	}
	now := time.Now()
	mc := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	for k, val := range claims {
		mc[k] = val
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mc)
	return token.SignedString(v.secret)
}

// PrincipalFromClaims maps decoded identity claims onto a Principal.
// The subject comes from "sub", falling back to "uid".
func PrincipalFromClaims(claims jwt.MapClaims) (*Principal, error) {
	p := &Principal{Extra: make(map[string]any)}

	p.UID, _ = claims[claimSubject].(string)
	if p.UID == "" {
		p.UID, _ = claims[claimUID].(string)
	}
	if p.UID == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	p.Email, _ = claims[claimEmail].(string)
	p.Role, _ = claims[claimRole].(string)

	for k, val := range claims {
		switch k {
		case claimSubject, claimUID, claimEmail, claimRole:
			continue
		}
		p.Extra[k] = val
	}
	return p, nil
}

// Verifiers composes one verifier per token kind into a Verifier.
type Verifiers struct {
	Attestation *JWTVerifier
	Identity    *JWTVerifier
}

// VerifyAttestation validates an attestation token. Its claims are not carried forward.
func (v Verifiers) VerifyAttestation(_ context.Context, token string) error {
	if v.Attestation == nil {
		return ErrNoVerificationKey
	}
	_, err := v.Attestation.Parse(token)
	return err
}

// VerifyIdentity validates an identity token and decodes its Principal.
func (v Verifiers) VerifyIdentity(_ context.Context, token string) (*Principal, error) {
	if v.Identity == nil {
		return nil, ErrNoVerificationKey
	}
	claims, err := v.Identity.Parse(token)
	if err != nil {
		return nil, err
	}
	return PrincipalFromClaims(claims)
}
