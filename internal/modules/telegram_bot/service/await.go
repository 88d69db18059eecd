package service

import (
	"sync"
	"time"
)

const awaitTTL = 5 * time.Minute

type awaitEntry struct {
	key string
	at  time.Time
}

// awaitStore — какое значение настройки ждём от чата следующим сообщением.
type awaitStore struct {
	mu sync.Mutex
	m  map[int64]awaitEntry
}

func newAwaitStore() *awaitStore {
	return &awaitStore{m: make(map[int64]awaitEntry)}
}

func (t *Telegram) setAwait(chatID int64, key string) {
	t.await.mu.Lock()
	defer t.await.mu.Unlock()
	t.await.m[chatID] = awaitEntry{key: key, at: time.Now()}
}

// peekAwait — протухшее ожидание забываем.
func (t *Telegram) peekAwait(chatID int64) (string, bool) {
	t.await.mu.Lock()
	defer t.await.mu.Unlock()
	e, ok := t.await.m[chatID]
	if !ok {
		return "", false
	}
	if time.Since(e.at) > awaitTTL {
		delete(t.await.m, chatID)
		return "", false
	}
	return e.key, true
}

func (t *Telegram) clearAwait(chatID int64) {
	t.await.mu.Lock()
	defer t.await.mu.Unlock()
	delete(t.await.m, chatID)
}
