// Package service carries the cross-cutting services shared by the
// infrastructure adapters. The change signal is the invalidation bus:
// every committed write announces the collection it touched, and the
// document store re-queries live subscriptions on arrival.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const changeChannel = "amarkotha:changes"

// ChangeEvent names a collection whose contents may have changed. Doc is
// set for single-document writes so listeners can skip unrelated ids.
type ChangeEvent struct {
	Collection string `json:"collection"`
	Doc        string `json:"doc,omitempty"`
}

type SignalService struct {
	rdb *redis.Client
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb: redisClient,
	}
}

// Publish announces a change. Writers call this after commit, never
// inside a transaction.
func (s *SignalService) Publish(ctx context.Context, event ChangeEvent) error {
	jsonstr, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return s.rdb.Publish(ctx, changeChannel, jsonstr).Err()
}

// Listen delivers change events to fn until ctx is cancelled. Undecodable
// payloads are dropped with a warning.
func (s *SignalService) Listen(ctx context.Context, fn func(ChangeEvent)) {
	pubsub := s.rdb.Subscribe(ctx, changeChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.Warn(
					"Failed to decode change event",
					slog.String("error", err.Error()),
					slog.String("module", "signal"),
				)
				continue
			}
			fn(event)
		}
	}
}
