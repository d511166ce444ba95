package gateway

import (
	"sync"
	"time"
)

type typingKey struct {
	userUUID string
	roomID   string
}

type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

// typingTracker : машина состояний idle/typing на пару (пользователь, комната).
// typing:start взводит таймер; истечение таймера, явный stop или отправка
// сообщения возвращают пару в idle. Рассылка typing=false происходит ровно
// один раз на переход - за это отвечает поле gen, отсекающее устаревшие
// срабатывания таймера
type typingTracker struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[typingKey]*typingEntry
	nextGen  uint64
	onExpire func(userUUID, roomID string)
}

func newTypingTracker(ttl time.Duration, onExpire func(userUUID, roomID string)) *typingTracker {
	return &typingTracker{
		ttl:      ttl,
		entries:  make(map[typingKey]*typingEntry),
		onExpire: onExpire,
	}
}

// start переводит пару в typing либо перевзводит таймер.
// Возвращает true только на переходе idle -> typing
func (t *typingTracker) start(userUUID, roomID string) bool {
	key := typingKey{userUUID: userUUID, roomID: roomID}

	t.mu.Lock()
	defer t.mu.Unlock()

	started := true
	if entry, ok := t.entries[key]; ok {
		entry.timer.Stop()
		started = false
	}

	gen := t.nextGen
	t.nextGen++
	t.entries[key] = &typingEntry{
		gen: gen,
		timer: time.AfterFunc(t.ttl, func() {
			t.expire(key, gen)
		}),
	}

	return started
}

// stop переводит пару в idle.
// Возвращает true, только если пользователь действительно печатал:
// повторные stop в idle - no-op, без повторной рассылки
func (t *typingTracker) stop(userUUID, roomID string) bool {
	key := typingKey{userUUID: userUUID, roomID: roomID}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[key]
	if !ok {
		return false
	}

	entry.timer.Stop()
	delete(t.entries, key)
	return true
}

func (t *typingTracker) typing(userUUID, roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.entries[typingKey{userUUID: userUUID, roomID: roomID}]
	return ok
}

func (t *typingTracker) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	entry, ok := t.entries[key]
	if !ok || entry.gen != gen {
		// пару успели остановить или перевзвести
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire(key.userUUID, key.roomID)
	}
}
