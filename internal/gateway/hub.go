package gateway

import "sync"

// roomHub : реестр подписчиков комнат внутри одного процесса
type roomHub struct {
	mu    sync.Mutex
	rooms map[string]map[*Connection]struct{}
}

func newRoomHub() *roomHub {
	return &roomHub{rooms: make(map[string]map[*Connection]struct{})}
}

func (h *roomHub) join(roomID string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[roomID]
	if !ok {
		room = make(map[*Connection]struct{})
		h.rooms[roomID] = room
	}
	room[conn] = struct{}{}
}

func (h *roomHub) leave(roomID string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(room, conn)
	if len(room) == 0 {
		delete(h.rooms, roomID)
	}
}

func (h *roomHub) connections(roomID string) []*Connection {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[roomID]
	conns := make([]*Connection, 0, len(room))
	for conn := range room {
		conns = append(conns, conn)
	}
	return conns
}

// userInRoom : остались ли у пользователя соединения в комнате
func (h *roomHub) userInRoom(roomID string, userUUID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.rooms[roomID] {
		if conn.UserUUID == userUUID {
			return true
		}
	}
	return false
}
