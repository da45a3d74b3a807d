// Package notify fans session snapshots out to live subscribers.
package notify

import (
	"context"
	"sync"

	"github.com/turmony/douBao/internal/model"
)

// Notifier publishes session changes keyed by openid.
type Notifier interface {
	Publish(ctx context.Context, s *model.Session) error
	// Subscribe returns a channel of snapshots for openid and a cancel func
	// that releases the subscription and closes the channel.
	Subscribe(ctx context.Context, openid string) (<-chan *model.Session, func(), error)
}

const bufferSize = 16

// Hub is the in-process Notifier used when Redis is not configured.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

type subscriber struct {
	ch   chan *model.Session
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

func (h *Hub) Publish(ctx context.Context, s *model.Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[s.OpenID] {
		snap := *s
		select {
		case sub.ch <- &snap:
		default:
			// 订阅方消费过慢时丢弃，客户端还有轮询兜底
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, openid string) (<-chan *model.Session, func(), error) {
	sub := &subscriber{ch: make(chan *model.Session, bufferSize)}

	h.mu.Lock()
	if h.subs[openid] == nil {
		h.subs[openid] = make(map[*subscriber]struct{})
	}
	h.subs[openid][sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		sub.once.Do(func() {
			h.mu.Lock()
			delete(h.subs[openid], sub)
			if len(h.subs[openid]) == 0 {
				delete(h.subs, openid)
			}
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel, nil
}

// Subscribers reports the number of live subscriptions for openid.
func (h *Hub) Subscribers(openid string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[openid])
}
