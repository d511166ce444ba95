package gateway

import (
	"realtime-chat-server/internal/model"
	"sync"
	"time"
)

// presenceTracker : машина состояний online/away/offline на процесс.
// Все изменения идут через один мьютекс: соединения одного пользователя
// открываются и закрываются конкурентно, счетчик нельзя терять
type presenceTracker struct {
	mu        sync.Mutex
	connCount map[string]int
	status    map[string]model.PresenceStatus
	lastSeen  map[string]time.Time
}

func newPresenceTracker() *presenceTracker {
	return &presenceTracker{
		connCount: make(map[string]int),
		status:    make(map[string]model.PresenceStatus),
		lastSeen:  make(map[string]time.Time),
	}
}

// connected учитывает новое соединение.
// Возвращает true на переходе offline -> online (первое соединение)
func (t *presenceTracker) connected(userUUID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.connCount[userUUID]++
	if t.connCount[userUUID] == 1 {
		t.status[userUUID] = model.PresenceOnline
		return true
	}
	return false
}

// disconnected учитывает закрытие соединения.
// Переход в offline происходит ровно один раз - когда закрывается
// последнее соединение пользователя
func (t *presenceTracker) disconnected(userUUID string) (bool, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connCount[userUUID] == 0 {
		return false, time.Time{}
	}

	t.connCount[userUUID]--
	if t.connCount[userUUID] > 0 {
		return false, time.Time{}
	}

	delete(t.connCount, userUUID)
	t.status[userUUID] = model.PresenceOffline
	now := time.Now()
	t.lastSeen[userUUID] = now
	return true, now
}

// setStatus применяет явное обновление статуса (online/away).
// Offline выставляется только учетом соединений, явное событие его не дает
func (t *presenceTracker) setStatus(userUUID string, status model.PresenceStatus) bool {
	if status != model.PresenceOnline && status != model.PresenceAway {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connCount[userUUID] == 0 {
		return false
	}
	if t.status[userUUID] == status {
		return false
	}

	t.status[userUUID] = status
	return true
}

func (t *presenceTracker) state(userUUID string) model.PresenceState {
	t.mu.Lock()
	defer t.mu.Unlock()

	status, ok := t.status[userUUID]
	if !ok {
		status = model.PresenceOffline
	}

	state := model.PresenceState{
		UserUUID: userUUID,
		Status:   status,
	}
	if seen, ok := t.lastSeen[userUUID]; ok {
		state.LastSeen = &seen
	}
	return state
}
