package gateway

import (
	"context"
	"strings"

	goredis "github.com/go-redis/redis/v8"

	redisstore "ta-enginev1/internal/store/redis"
)

// RunRedis relays updates published to Redis by engine processes, so a
// gateway can serve streams computed elsewhere. Channels are keyed by
// stream id. Blocks until ctx is done.
func (h *Hub) RunRedis(ctx context.Context, rdb *goredis.Client) {
	pubsub := rdb.PSubscribe(ctx, redisstore.UpdatePattern)
	defer pubsub.Close()

	prefix := redisstore.UpdateChannel("")
	h.log.Info("relaying redis updates", "pattern", redisstore.UpdatePattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			data := []byte(msg.Payload)
			h.Broadcast(strings.TrimPrefix(msg.Channel, prefix), data, emittedAt(data))
		}
	}
}
