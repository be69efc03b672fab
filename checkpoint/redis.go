package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-redis/redis/v8"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LockExpiration          time.Duration `envconfig:"CATCARE_REDIS_LOCK_EXPIRATION" default:"2m"`
	CheckpointTTL           time.Duration `envconfig:"CATCARE_REDIS_CHECKPOINT_TTL" default:"24h"`
	Host                    string        `envconfig:"CATCARE_REDIS_HOST" required:"true"`
	Port                    string        `envconfig:"CATCARE_REDIS_PORT" default:"6379"`
	DB                      int           `envconfig:"CATCARE_REDIS_DB" default:"0"`
	HASentinelPort          string        `envconfig:"CATCARE_REDIS_HA_SENTINEL_PORT" default:"26379"`
	HASentinelMasterName    string        `envconfig:"CATCARE_REDIS_HA_MASTER_NAME" default:"mymaster"`
	Password                string        `envconfig:"CATCARE_REDIS_AUTH_PASSWORD"`
	AuthRequired            bool          `envconfig:"CATCARE_REDIS_AUTH_REQUIRED" default:"false"`
	HAMode                  bool          `envconfig:"CATCARE_REDIS_HA_MODE" default:"false"`
	HASentinelSocketTimeout float32       `envconfig:"CATCARE_REDIS_SOCKET_TIMEOUT" default:"0.5"`
}

func ReadConfig() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RedisStore keeps checkpoints in Redis so that several processes talking to
// the same backend share attempt counters and claims.
type RedisStore struct {
	client         redis.UniversalClient
	locker         *redislock.Client
	namespace      string
	lockExpiration time.Duration
	ttl            time.Duration
}

type document struct {
	Attempts  int       `json:"attempts"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewRedisStore(cfg *Config, baseURL string) *RedisStore {
	var client redis.UniversalClient
	if cfg.HAMode {
		client = CreateClusterClient(cfg)
	} else {
		client = CreateClient(cfg)
	}
	return NewRedisStoreWithClient(client, baseURL, cfg.LockExpiration, cfg.CheckpointTTL)
}

func NewRedisStoreWithClient(client redis.UniversalClient, baseURL string, lockExpiration, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client:         client,
		locker:         redislock.New(client),
		namespace:      Namespace(baseURL),
		lockExpiration: lockExpiration,
		ttl:            ttl,
	}
}

func CreateClusterClient(cfg *Config) *redis.ClusterClient {
	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.HASentinelPort)
	timeout := time.Duration(cfg.HASentinelSocketTimeout * float32(time.Second))
	options := redis.FailoverOptions{
		SentinelAddrs: []string{addr},
		ReadTimeout:   timeout,
		WriteTimeout:  timeout,
		MaxRetries:    6,
		DB:            cfg.DB,
		MasterName:    cfg.HASentinelMasterName,
	}
	if cfg.AuthRequired {
		options.Password = cfg.Password
	}
	return redis.NewFailoverClusterClient(&options)
}

func CreateClient(cfg *Config) *redis.Client {
	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	options := redis.Options{
		Addr:       addr,
		MaxRetries: 6,
		DB:         cfg.DB,
	}
	if cfg.AuthRequired {
		options.Password = cfg.Password
	}
	return redis.NewClient(&options)
}

// Claim takes the per-diagnosis lock, retrying for a few seconds before
// giving up with ErrClaimed.
func (store *RedisStore) Claim(ctx context.Context, diagnosisID string) (func() error, error) {
	str := redislock.LimitRetry(redislock.LinearBackoff(500*time.Millisecond), 6)
	lockKey := fmt.Sprintf("lock:%s", store.key(diagnosisID))
	lock, err := store.locker.Obtain(ctx, lockKey, store.lockExpiration, &redislock.Options{RetryStrategy: str})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrClaimed
	}
	if err != nil {
		return nil, err
	}
	return func() error {
		err := lock.Release(context.Background())
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return nil
		}
		return err
	}, nil
}

func (store *RedisStore) Load(ctx context.Context, diagnosisID string) (int, error) {
	b, err := store.client.Get(ctx, store.key(diagnosisID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return 0, fmt.Errorf("corrupt checkpoint %s: %w", store.key(diagnosisID), err)
	}
	return doc.Attempts, nil
}

func (store *RedisStore) Save(ctx context.Context, diagnosisID string, attempts int) error {
	b, err := json.Marshal(document{Attempts: attempts, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return store.client.Set(ctx, store.key(diagnosisID), b, store.ttl).Err()
}

func (store *RedisStore) Clear(ctx context.Context, diagnosisID string) error {
	return store.client.Del(ctx, store.key(diagnosisID)).Err()
}

func (store *RedisStore) Close() error {
	return store.client.Close()
}

func (store *RedisStore) key(diagnosisID string) string {
	return Key(store.namespace, diagnosisID)
}
