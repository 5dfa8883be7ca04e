package ratelimit

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"sahayak/pkg/redis"
)

// ILimiter bounds how fast a single user may open agent connections and
// push inbound messages. Both checks fail open: when the counter store is
// unreachable, availability wins over strict enforcement.
type ILimiter interface {
	CheckConnection(ctx context.Context, userID string) bool
	CheckMessage(ctx context.Context, userID string) bool
}

const (
	DefaultConnectionsPerMinute = 10
	DefaultMessagesPerSecond    = 5
)

type limiter struct {
	redis                redis.IRedis
	log                  *logrus.Logger
	connectionsPerMinute int64
	messagesPerSecond    int64
	enabled              bool
}

func New(redisServer redis.IRedis, log *logrus.Logger) ILimiter {
	appEnv := os.Getenv("APP_ENV")

	return &limiter{
		redis:                redisServer,
		log:                  log,
		connectionsPerMinute: DefaultConnectionsPerMinute,
		messagesPerSecond:    DefaultMessagesPerSecond,
		enabled:              appEnv != "development" && appEnv != "test",
	}
}

func (l *limiter) CheckConnection(ctx context.Context, userID string) bool {
	if !l.enabled {
		return true
	}

	key := fmt.Sprintf("ws_conn_rate:%s", userID)
	count, err := l.redis.IncrWindow(ctx, key, time.Minute)
	if err != nil {
		l.log.WithFields(logrus.Fields{
			"user_id": userID,
			"error":   err.Error(),
		}).Warn("Connection rate check failed open")
		return true
	}

	if count > l.connectionsPerMinute {
		l.log.WithFields(logrus.Fields{
			"user_id": userID,
			"count":   count,
		}).Warn("Connection rate exceeded")
		return false
	}

	return true
}

func (l *limiter) CheckMessage(ctx context.Context, userID string) bool {
	if !l.enabled {
		return true
	}

	key := fmt.Sprintf("ws_msg_rate:%s", userID)
	count, err := l.redis.IncrWindow(ctx, key, time.Second)
	if err != nil {
		l.log.WithFields(logrus.Fields{
			"user_id": userID,
			"error":   err.Error(),
		}).Warn("Message rate check failed open")
		return true
	}

	return count <= l.messagesPerSecond
}
