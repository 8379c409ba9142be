package scantoken

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("expired token")
	ErrEventMismatch = errors.New("token event does not match scan event")
)

const defaultIssuer = "attendance-qr"

type Config struct {
	Key    string
	Issuer string
}

// ConfigFromEnv reads SCAN_TOKEN_KEY and SCAN_TOKEN_ISSUER.
func ConfigFromEnv() Config {
	iss := os.Getenv("SCAN_TOKEN_ISSUER")
	if iss == "" {
		iss = defaultIssuer
	}
	return Config{Key: os.Getenv("SCAN_TOKEN_KEY"), Issuer: iss}
}

// Verifier checks QR scan tokens against the issuer key. It holds no state
// beyond its configuration and is safe for concurrent use.
type Verifier struct {
	key    []byte
	issuer string
	parser *jwt.Parser
}

func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.Key == "" {
		return nil, errors.New("scan token key is required")
	}
	iss := cfg.Issuer
	if iss == "" {
		iss = defaultIssuer
	}
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(iss),
	)
	return &Verifier{key: []byte(cfg.Key), issuer: iss, parser: p}, nil
}

// Verify validates raw and returns the identity it carries. eventID is the
// event the scanner is operating for; zero skips the event check.
func (v *Verifier) Verify(raw string, eventID int64) (*Identity, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}
	var claims Claims
	_, err := v.parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if claims.Kind != KindParticipant && claims.Kind != KindStall {
		return nil, ErrInvalidToken
	}
	if claims.SubjectID <= 0 || claims.EventID <= 0 {
		return nil, ErrInvalidToken
	}
	if eventID != 0 && claims.EventID != eventID {
		return nil, ErrEventMismatch
	}
	return &Identity{Kind: claims.Kind, SubjectID: claims.SubjectID, EventID: claims.EventID}, nil
}

// Signer produces tokens Verifier accepts. ttl <= 0 issues a token without
// an expiry, which is how printed badges are minted.
type Signer struct {
	key    []byte
	issuer string
}

func NewSigner(cfg Config) *Signer {
	iss := cfg.Issuer
	if iss == "" {
		iss = defaultIssuer
	}
	return &Signer{key: []byte(cfg.Key), issuer: iss}
}

func (s *Signer) Sign(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Kind:      id.Kind,
		SubjectID: id.SubjectID,
		EventID:   id.EventID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}
