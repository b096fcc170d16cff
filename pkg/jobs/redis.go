package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/logflow/tabprep/pkg/errors"
)

// RedisConfig configures the Redis job store.
type RedisConfig struct {
	Address  string
	Password string
	Database int

	// Prefix is prepended to every key.
	Prefix string

	// TTL expires job records; 0 keeps them.
	TTL time.Duration

	Timeout  time.Duration
	PoolSize int
}

// DefaultRedisConfig returns the settings used by the server.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:  address,
		Prefix:   "tabprep:jobs:",
		TTL:      24 * time.Hour,
		Timeout:  5 * time.Second,
		PoolSize: 10,
	}
}

// RedisStore keeps each job as a JSON string plus a sorted-set index by
// creation time, so several server instances can share job status.
type RedisStore struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "tabprep:jobs:"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	pctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, errors.CodeJobStore, "connect to redis").WithContext("addr", cfg.Address)
	}
	return &RedisStore{cfg: cfg, client: client}, nil
}

func (s *RedisStore) key(id string) string { return s.cfg.Prefix + id }

func (s *RedisStore) indexKey() string { return s.cfg.Prefix + "index" }

// Put writes the job record and indexes it.
func (s *RedisStore) Put(ctx context.Context, job *Job) error {
	if job.ID == "" {
		return errors.New(errors.CodeJobStore, "job has no id")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, errors.CodeJobStore, "encode job")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(job.ID), data, s.cfg.TTL)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(job.CreatedAt.UnixNano()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, errors.CodeJobStore, "save job").WithContext("job_id", job.ID)
	}
	return nil
}

// Get loads one job.
func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, errors.JobNotFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeJobStore, "load job").WithContext("job_id", id)
	}
	return decodeJob(data)
}

// List loads indexed jobs newest first. Index entries whose record has
// expired are pruned.
func (s *RedisStore) List(ctx context.Context) ([]*Job, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeJobStore, "list jobs")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeJobStore, "load jobs")
	}

	var (
		out   []*Job
		stale []any
	)
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		j, err := decodeJob([]byte(str))
		if err != nil {
			continue
		}
		out = append(out, j)
	}
	if len(stale) > 0 {
		s.client.ZRem(ctx, s.indexKey(), stale...)
	}
	return out, nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeJob(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, errors.Wrap(err, errors.CodeJobStore, "decode job")
	}
	return &j, nil
}
