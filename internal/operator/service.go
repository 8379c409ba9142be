package operator

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-attendance/internal/operator/entity"
	operatorrepo "github.com/ovaphlow/pitchfork/service-attendance/internal/operator/repo"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrInactive     = errors.New("operator not found or inactive")
)

// Directory is the authoritative identity lookup.
type Directory interface {
	IsActive(ctx context.Context, op entity.Operator) (bool, error)
}

type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// CacheConfigFromEnv reads OPERATOR_CACHE_SIZE and OPERATOR_CACHE_TTL.
func CacheConfigFromEnv() CacheConfig {
	cfg := CacheConfig{Size: 1024, TTL: time.Minute}
	if v, err := strconv.Atoi(os.Getenv("OPERATOR_CACHE_SIZE")); err == nil && v > 0 {
		cfg.Size = v
	}
	if v, err := time.ParseDuration(os.Getenv("OPERATOR_CACHE_TTL")); err == nil && v > 0 {
		cfg.TTL = v
	}
	return cfg
}

// Resolver confirms an operator is a live account. Positive answers are kept
// in a process-local LRU for a bounded TTL; misses and negatives always go
// to the directory.
type Resolver struct {
	dir   Directory
	cache *expirable.LRU[entity.Operator, struct{}]
}

func NewResolver(dir Directory, cfg CacheConfig) *Resolver {
	size := cfg.Size
	if size <= 0 {
		size = 1024
	}
	return &Resolver{dir: dir, cache: expirable.NewLRU[entity.Operator, struct{}](size, nil, cfg.TTL)}
}

// NewDBResolver wires a Resolver to the identity tables.
func NewDBResolver(db *sqlx.DB, cfg CacheConfig) *Resolver {
	return NewResolver(operatorrepo.NewOperatorRepo(db), cfg)
}

func (r *Resolver) Resolve(ctx context.Context, op entity.Operator) (entity.Operator, error) {
	if !op.Valid() {
		return entity.Operator{}, ErrUnauthorized
	}
	if _, ok := r.cache.Get(op); ok {
		return op, nil
	}
	active, err := r.dir.IsActive(ctx, op)
	if err != nil {
		return entity.Operator{}, err
	}
	if !active {
		return entity.Operator{}, ErrInactive
	}
	r.cache.Add(op, struct{}{})
	return op, nil
}

// Forget drops op from the cache, e.g. after it was deactivated.
func (r *Resolver) Forget(op entity.Operator) {
	r.cache.Remove(op)
}
