package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/turmony/douBao/internal/model"
	"github.com/turmony/douBao/internal/pkg/logger"
)

const channelPrefix = "douBao:session:"

// Redis publishes snapshots over Redis pub/sub so that every server
// instance can push to its own subscribers.
type Redis struct {
	rdb *redis.Client
}

// NewRedis connects to url and checks the connection with a ping.
func NewRedis(url string, poolSize int) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse Redis connection string")
	}
	opt.PoolSize = poolSize
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, errors.Wrap(err, "Redis ping test failed")
	}
	logger.Infof("Redis connected to %s, database: %d", opt.Addr, opt.DB)
	return &Redis{rdb: rdb}, nil
}

func (r *Redis) Publish(ctx context.Context, s *model.Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshal session")
	}
	return r.rdb.Publish(ctx, channelPrefix+s.OpenID, payload).Err()
}

func (r *Redis) Subscribe(ctx context.Context, openid string) (<-chan *model.Session, func(), error) {
	pubsub := r.rdb.Subscribe(ctx, channelPrefix+openid)
	// 等待订阅确认，保证之后的 Publish 不会丢
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, errors.Wrap(err, "subscribe session channel")
	}

	out := make(chan *model.Session, bufferSize)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := pubsub.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var s model.Session
				if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
					logger.Warnf("解析会话推送失败: %v", err)
					continue
				}
				select {
				case out <- &s:
				default:
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}
	return out, cancel, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
