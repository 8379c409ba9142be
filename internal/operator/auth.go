package operator

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-attendance/internal/operator/entity"
	"github.com/ovaphlow/pitchfork/service-attendance/pkg/utilities"
)

type AuthConfig struct {
	Key    string
	Issuer string
}

// AuthConfigFromEnv reads OPERATOR_TOKEN_KEY and OPERATOR_TOKEN_ISSUER.
func AuthConfigFromEnv() AuthConfig {
	return AuthConfig{Key: os.Getenv("OPERATOR_TOKEN_KEY"), Issuer: os.Getenv("OPERATOR_TOKEN_ISSUER")}
}

// Claims are the operator access token claims minted by the identity service.
type Claims struct {
	OperatorType string `json:"operator_type"`
	jwt.RegisteredClaims
}

// Authenticator turns a bearer token into a resolved Operator.
type Authenticator struct {
	key      []byte
	parser   *jwt.Parser
	resolver *Resolver
}

func NewAuthenticator(cfg AuthConfig, resolver *Resolver) (*Authenticator, error) {
	if cfg.Key == "" {
		return nil, errors.New("operator token key is required")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &Authenticator{key: []byte(cfg.Key), parser: jwt.NewParser(opts...), resolver: resolver}, nil
}

// Parse verifies the token and decodes the operator variant. It does not
// consult the directory.
func (a *Authenticator) Parse(token string) (entity.Operator, error) {
	var claims Claims
	_, err := a.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return a.key, nil
	})
	if err != nil {
		return entity.Operator{}, ErrUnauthorized
	}
	kind, err := entity.ParseKind(claims.OperatorType)
	if err != nil {
		return entity.Operator{}, ErrUnauthorized
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return entity.Operator{}, ErrUnauthorized
	}
	return entity.Operator{Kind: kind, ID: id}, nil
}

// Authenticate parses the bearer token and checks the operator is active.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (entity.Operator, error) {
	op, err := a.Parse(token)
	if err != nil {
		return entity.Operator{}, err
	}
	return a.resolver.Resolve(ctx, op)
}

type ctxKey struct{}

// WithOperator stores op in ctx.
func WithOperator(ctx context.Context, op entity.Operator) context.Context {
	return context.WithValue(ctx, ctxKey{}, op)
}

// FromContext returns the operator placed by Middleware.
func FromContext(ctx context.Context) (entity.Operator, bool) {
	op, ok := ctx.Value(ctxKey{}).(entity.Operator)
	return op, ok
}

// Middleware rejects requests without a valid, active operator.
func (a *Authenticator) Middleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				utilities.WriteError(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
				return
			}
			token := strings.TrimSpace(auth[len("bearer "):])
			op, err := a.Authenticate(r.Context(), token)
			if err != nil {
				if !errors.Is(err, ErrUnauthorized) && !errors.Is(err, ErrInactive) {
					logger.Errorw("operator lookup failed", utilities.FieldError, err)
					utilities.WriteError(w, http.StatusInternalServerError, "Internal", "operator lookup failed")
					return
				}
				logger.Debugw("operator rejected", utilities.FieldError, err)
				utilities.WriteError(w, http.StatusUnauthorized, "Unauthorized", err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), op)))
		})
	}
}
