package client

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/cockroachdb/pebble"

	"chat-node/internal/models"
)

const (
	chatKeyPrefix = "chat/"
	lastSyncKey   = "meta/last_sync"
)

// Cache persists the client's chat snapshot between runs in an embedded
// key-value store, keyed chat/<chat_id>.
type Cache struct {
	db *pebble.DB
}

// OpenCache opens (or creates) the cache at path. An empty path disables
// caching and returns nil.
func OpenCache(path string) (*Cache, error) {
	if path == "" {
		return nil, nil
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Cache{db: db}, nil
}

// PutChat writes one chat snapshot.
func (c *Cache) PutChat(chat models.Chat) error {
	payload, err := json.Marshal(chat)
	if err != nil {
		return err
	}
	return c.db.Set([]byte(chatKeyPrefix+chat.ID), payload, pebble.Sync)
}

// DeleteChat removes a cached chat.
func (c *Cache) DeleteChat(chatID string) error {
	return c.db.Delete([]byte(chatKeyPrefix+chatID), pebble.Sync)
}

// Chats loads every cached chat.
func (c *Cache) Chats() ([]models.Chat, error) {
	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(chatKeyPrefix),
		UpperBound: []byte(chatKeyPrefix + "\xff"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var chats []models.Chat
	for iter.First(); iter.Valid(); iter.Next() {
		var chat models.Chat
		if err := json.Unmarshal(iter.Value(), &chat); err != nil {
			// Skip corrupt entries; the next resync rewrites them.
			continue
		}
		chats = append(chats, chat)
	}
	return chats, iter.Error()
}

// SetLastSync records when the last full resync completed.
func (c *Cache) SetLastSync(ts int64) error {
	return c.db.Set([]byte(lastSyncKey), []byte(strconv.FormatInt(ts, 10)), pebble.Sync)
}

// LastSync returns the last resync time, or zero when never synced.
func (c *Cache) LastSync() (int64, error) {
	val, closer, err := c.db.Get([]byte(lastSyncKey))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	defer closer.Close()
	return strconv.ParseInt(string(val), 10, 64)
}

// Close flushes and closes the store.
func (c *Cache) Close() error {
	return c.db.Close()
}
