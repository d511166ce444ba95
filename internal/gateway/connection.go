package gateway

import (
	"io"
	"sync"
)

// Connection : аутентифицированное соединение.
// Принадлежит исключительно принявшему его процессу;
// у пользователя может быть несколько соединений (вкладки, устройства)
type Connection struct {
	UUID     string
	UserUUID string
	Role     string
	UserName string

	peer   *peer
	closer io.Closer

	mu    sync.Mutex
	rooms map[string]struct{}
}

func newConnection(uuid, userUUID, role, userName string, peer *peer, closer io.Closer) *Connection {
	return &Connection{
		UUID:     uuid,
		UserUUID: userUUID,
		Role:     role,
		UserName: userName,
		peer:     peer,
		closer:   closer,
		rooms:    make(map[string]struct{}),
	}
}

// close разрывает соединение; цикл чтения завершится и выполнит очистку
func (c *Connection) close() {
	if c.closer != nil {
		_ = c.closer.Close()
	}
}

func (c *Connection) addRoom(roomID string) {
	c.mu.Lock()
	c.rooms[roomID] = struct{}{}
	c.mu.Unlock()
}

func (c *Connection) removeRoom(roomID string) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

func (c *Connection) inRoom(roomID string) bool {
	c.mu.Lock()
	_, ok := c.rooms[roomID]
	c.mu.Unlock()
	return ok
}

func (c *Connection) roomList() []string {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
	}
	c.mu.Unlock()
	return rooms
}
