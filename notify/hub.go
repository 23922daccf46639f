// Package notify fans new notifications out to connected dashboard clients.
// With Redis configured every API instance relays through the
// notifications:<userID> channels; otherwise delivery stays in-process.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ariebrainware/physio-practice/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	channelPrefix = "notifications:"
	bufferSize    = 16
)

func Channel(userID uint) string {
	return channelPrefix + strconv.FormatUint(uint64(userID), 10)
}

type Hub struct {
	rdb *redis.Client

	mu        sync.RWMutex
	subs      map[uint]map[chan model.Notification]struct{}
	listening bool
	pubsub    *redis.PubSub
}

// NewHub accepts a nil client for in-process delivery only.
func NewHub(rdb *redis.Client) *Hub {
	return &Hub{
		rdb:  rdb,
		subs: make(map[uint]map[chan model.Notification]struct{}),
	}
}

// Start subscribes to every user channel and relays messages to local
// subscribers until ctx is done. It returns once the subscription is confirmed.
func (h *Hub) Start(ctx context.Context) error {
	if h.rdb == nil {
		return nil
	}
	ps := h.rdb.PSubscribe(ctx, channelPrefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("notify: subscribe: %w", err)
	}

	h.mu.Lock()
	h.listening = true
	h.pubsub = ps
	h.mu.Unlock()

	msgs := ps.Channel()
	go func() {
		defer func() {
			h.mu.Lock()
			h.listening = false
			h.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				_ = ps.Close()
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				h.relay(msg)
			}
		}
	}()
	return nil
}

func (h *Hub) relay(msg *redis.Message) {
	var n model.Notification
	if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
		log.Warn().Err(err).Str("channel", msg.Channel).Msg("notify: dropping malformed payload")
		return
	}
	if id, err := strconv.ParseUint(strings.TrimPrefix(msg.Channel, channelPrefix), 10, 64); err == nil {
		n.UserID = uint(id)
	}
	h.fanout(n)
}

// Publish delivers n to its user's subscribers on every instance.
func (h *Hub) Publish(ctx context.Context, n model.Notification) error {
	h.mu.RLock()
	viaRedis := h.rdb != nil && h.listening
	h.mu.RUnlock()

	if viaRedis {
		payload, err := json.Marshal(n)
		if err != nil {
			return err
		}
		err = h.rdb.Publish(ctx, Channel(n.UserID), payload).Err()
		if err == nil {
			return nil
		}
		log.Warn().Err(err).Uint("user_id", n.UserID).Msg("notify: redis publish failed, delivering locally")
	}
	h.fanout(n)
	return nil
}

// Deliver stores n and publishes it. A nil hub only stores.
func (h *Hub) Deliver(ctx context.Context, db *gorm.DB, n *model.Notification) error {
	if err := db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("notify: store notification: %w", err)
	}
	if h == nil {
		return nil
	}
	if err := h.Publish(ctx, *n); err != nil {
		log.Warn().Err(err).Uint("user_id", n.UserID).Msg("notify: publish failed")
	}
	return nil
}

// Subscribe registers a listener for userID. The returned func releases it
// and is safe to call more than once; ctx cancellation releases it too.
func (h *Hub) Subscribe(ctx context.Context, userID uint) (<-chan model.Notification, func()) {
	ch := make(chan model.Notification, bufferSize)

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan model.Notification]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			h.mu.Lock()
			delete(h.subs[userID], ch)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			close(ch)
			h.mu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel
}

// Subscribers returns the number of local listeners for userID.
func (h *Hub) Subscribers(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

func (h *Hub) fanout(n model.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[n.UserID] {
		select {
		case ch <- n:
		default:
			log.Warn().Uint("user_id", n.UserID).Msg("notify: subscriber buffer full, dropping notification")
		}
	}
}
