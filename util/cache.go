package util

import (
	"strconv"
	"time"

	cache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"
)

var userEmailCache = cache.New(30*time.Minute, 10*time.Minute)

// GetUserEmail returns the email for userID using the in-memory cache, falling back to DB.
func GetUserEmail(db *gorm.DB, userID uint) string {
	if userID == 0 {
		return ""
	}
	key := cacheKey(userID)
	if v, ok := userEmailCache.Get(key); ok {
		if email, ok := v.(string); ok {
			return email
		}
	}
	if db == nil {
		return ""
	}
	var u struct{ Email string }
	if err := db.Table("users").Select("email").Where("id = ?", userID).Take(&u).Error; err != nil {
		return ""
	}
	if u.Email != "" {
		userEmailCache.SetDefault(key, u.Email)
	}
	return u.Email
}

// ForgetUserEmail drops a cached email, e.g. after the account changes.
func ForgetUserEmail(userID uint) {
	userEmailCache.Delete(cacheKey(userID))
}

func cacheKey(id uint) string {
	return "user:" + strconv.FormatUint(uint64(id), 10)
}

// Memo is a small TTL cache keyed by string, used to memoize derived views.
type Memo struct {
	c *cache.Cache
}

// NewMemo returns a Memo whose entries expire after ttl.
func NewMemo(ttl time.Duration) *Memo {
	return &Memo{c: cache.New(ttl, 2*ttl)}
}

func (m *Memo) Get(key string) (interface{}, bool) {
	if m == nil {
		return nil, false
	}
	return m.c.Get(key)
}

func (m *Memo) Set(key string, v interface{}) {
	if m == nil {
		return
	}
	m.c.SetDefault(key, v)
}

// Invalidate removes key so the next Get misses.
func (m *Memo) Invalidate(key string) {
	if m == nil {
		return
	}
	m.c.Delete(key)
}
