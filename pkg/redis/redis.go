package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config is bound from REDIS_* variables. It is only dialed when a
// component (session store, weather cache) asks for a client.
type Config struct {
	URL          string `split_words:"true" default:"redis://localhost:6379/0"`
	ReadTimeout  int    `split_words:"true" default:"3"`
	WriteTimeout int    `split_words:"true" default:"3"`
	DialTimeout  int    `split_words:"true" default:"5"`
}

func (r *Config) New(ctx context.Context) (*redis.Client, error) {
	opts, err := redis.ParseURL(r.URL)
	if err != nil {
		return nil, err
	}

	opts.ReadTimeout = time.Duration(r.ReadTimeout) * time.Second
	opts.WriteTimeout = time.Duration(r.WriteTimeout) * time.Second
	opts.DialTimeout = time.Duration(r.DialTimeout) * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

func (r *Config) MustNew(ctx context.Context) *redis.Client {
	client, err := r.New(ctx)
	if err != nil {
		panic(err)
	}

	return client
}
