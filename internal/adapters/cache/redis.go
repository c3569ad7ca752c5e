package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alejandrodnm/polypnl/internal/ports"
)

var _ ports.ResultCache = (*Redis)(nil)

// RedisOptions configura el backend Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // se antepone a cada clave; default "polypnl:"
}

// Redis es un ResultCache respaldado por Redis. Sirve para compartir resultados
// entre procesos (varias ejecuciones del CLI, o un cron).
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis crea el cliente y verifica la conexión con PING.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("cache.NewRedis: ping %s: %w", opts.Addr, err)
	}
	return newRedis(rdb, opts.Prefix), nil
}

func newRedis(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "polypnl:"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache.Redis.Get: %w", err)
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache.Redis.Set: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("cache.Redis.Delete: %w", err)
	}
	return nil
}

// Close cierra el pool de conexiones.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
