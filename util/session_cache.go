package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariebrainware/physio-practice/config"
	"github.com/redis/go-redis/v9"
)

// CachedSession is the identity Redis keeps for a session token so requests
// can skip the sessions table.
type CachedSession struct {
	UserID uint   `json:"uid"`
	RoleID uint32 `json:"rid"`
}

func sessionKey(token string) string { return "session:" + token }

func userSessionsKey(userID uint) string { return fmt.Sprintf("user_sessions:%d", userID) }

// CacheSession stores s under token for ttl and indexes the token in the
// user's set. The set's TTL follows the most recent write.
func CacheSession(ctx context.Context, token string, s CachedSession, ttl time.Duration) error {
	rdb := config.GetRedisClient()
	if rdb == nil || ttl <= 0 || s.UserID == 0 {
		return nil
	}
	val, err := json.Marshal(s)
	if err != nil {
		return err
	}
	set := userSessionsKey(s.UserID)
	_, err = rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(token), val, ttl)
		pipe.SAdd(ctx, set, token)
		pipe.Expire(ctx, set, ttl)
		return nil
	})
	return err
}

// LookupSession reads the cached identity for token. Misses, Redis errors
// and unreadable values all report false.
func LookupSession(ctx context.Context, token string) (CachedSession, bool) {
	rdb := config.GetRedisClient()
	if rdb == nil {
		return CachedSession{}, false
	}
	raw, err := rdb.Get(ctx, sessionKey(token)).Bytes()
	if err != nil {
		return CachedSession{}, false
	}
	var s CachedSession
	if err := json.Unmarshal(raw, &s); err != nil || s.UserID == 0 || s.RoleID == 0 {
		return CachedSession{}, false
	}
	return s, true
}

var dropSessionScript = redis.NewScript(`
redis.call('DEL', KEYS[1])
local removed = redis.call('SREM', KEYS[2], ARGV[1])
if redis.call('SCARD', KEYS[2]) == 0 then
	redis.call('DEL', KEYS[2])
end
return removed
`)

// DropSession forgets one token, deleting the user's set once it is empty.
func DropSession(ctx context.Context, userID uint, token string) error {
	rdb := config.GetRedisClient()
	if rdb == nil {
		return nil
	}
	err := dropSessionScript.Run(ctx, rdb, []string{sessionKey(token), userSessionsKey(userID)}, token).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// DropUserSessions forgets every cached token of userID.
func DropUserSessions(ctx context.Context, userID uint) error {
	rdb := config.GetRedisClient()
	if rdb == nil {
		return nil
	}
	set := userSessionsKey(userID)
	tokens, err := rdb.SMembers(ctx, set).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	keys := make([]string, 0, len(tokens)+1)
	for _, tok := range tokens {
		keys = append(keys, sessionKey(tok))
	}
	return rdb.Del(ctx, append(keys, set)...).Err()
}
