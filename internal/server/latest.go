package server

import (
	"time"

	"github.com/patrickmn/go-cache"

	"live-timing/internal/models"
)

const latestKey = "latest"

// LatestStore keeps the most recent update for ttl
type LatestStore struct {
	cache *cache.Cache
}

// NewLatestStore creates a store whose entries expire after ttl
func NewLatestStore(ttl time.Duration) *LatestStore {
	return &LatestStore{cache: cache.New(ttl, ttl)}
}

// Set replaces the latest update and the per-session entry
func (l *LatestStore) Set(update models.CanonicalUpdate) {
	l.cache.SetDefault(latestKey, update)
	if update.SessionID != "" {
		l.cache.SetDefault(sessionKey(update.SessionID), update)
	}
}

// Get returns the latest update of any session
func (l *LatestStore) Get() (models.CanonicalUpdate, bool) {
	return l.get(latestKey)
}

// GetSession returns the latest update of one session
func (l *LatestStore) GetSession(sessionID string) (models.CanonicalUpdate, bool) {
	return l.get(sessionKey(sessionID))
}

// Flush drops every stored update
func (l *LatestStore) Flush() {
	l.cache.Flush()
}

func (l *LatestStore) get(key string) (models.CanonicalUpdate, bool) {
	v, ok := l.cache.Get(key)
	if !ok {
		return models.CanonicalUpdate{}, false
	}
	update, ok := v.(models.CanonicalUpdate)
	return update, ok
}

func sessionKey(id string) string {
	return "session:" + id
}
