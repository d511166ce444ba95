package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"realtime-chat-server/internal/fanout"
	"realtime-chat-server/internal/model"
	"realtime-chat-server/internal/ports"
	"realtime-chat-server/internal/security"
	"realtime-chat-server/internal/util"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

const maxDecodeErrorsPerConn = 5

// Gateway принимает постоянные соединения, аутентифицирует их через
// сервис токенов и ведет состояние сессий, комнат, typing и presence
// своего процесса. Создается один раз на процесс и передается по ссылке
type Gateway struct {
	jwtService ports.JWTServiceInterface
	membership ports.MembershipRepository
	users      ports.UserRepository
	limiter    ports.RateLimiter
	adapter    ports.FanoutAdapter

	handshakeTimeout time.Duration

	mu          sync.Mutex
	connections map[string]*Connection

	hub      *roomHub
	presence *presenceTracker
	typing   *typingTracker
}

func NewGateway(
	jwtService ports.JWTServiceInterface,
	membership ports.MembershipRepository,
	users ports.UserRepository,
	limiter ports.RateLimiter,
	adapter ports.FanoutAdapter,
	typingTTL time.Duration,
	handshakeTimeout time.Duration,
) *Gateway {
	g := &Gateway{
		jwtService:       jwtService,
		membership:       membership,
		users:            users,
		limiter:          limiter,
		adapter:          adapter,
		handshakeTimeout: handshakeTimeout,
		connections:      make(map[string]*Connection),
		hub:              newRoomHub(),
		presence:         newPresenceTracker(),
	}
	g.typing = newTypingTracker(typingTTL, g.onTypingExpired)
	return g
}

// Start подписывает шлюз на межпроцессные каналы fan-out
func (g *Gateway) Start(ctx context.Context) error {
	return g.adapter.Subscribe(ctx, "fanout:*", g.handleRemote)
}

// Handler отдает обработчик handshake для маршрута /ws.
// Access токен проверяется до апгрейда соединения:
// при отказе состояние Connection не создается вовсе.
// Попытки считаются по origin: перебор токенов через handshake
// ограничен так же, как перебор паролей через /api/auth
func (g *Gateway) Handler() http.Handler {
	wsHandler := websocket.Handler(g.handleConn)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		key := security.AttemptKey("handshake", clientOrigin(r))
		allowed, _, retryAfter := g.limiter.CheckAttempt(key)
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			util.HandleError(w, "превышен лимит попыток", http.StatusTooManyRequests)
			return
		}

		token := accessTokenFromRequest(r)
		if token == "" {
			util.HandleError(w, "требуется аутентификация", http.StatusUnauthorized)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), g.handshakeTimeout)
		claims, err := g.jwtService.ValidateAccess(ctx, token)
		cancel()
		if err != nil {
			g.limiter.RegisterFailure(key)
			log.Printf("отказ в handshake: %v", err)
			util.HandleError(w, "невалидный токен", http.StatusUnauthorized)
			return
		}
		g.limiter.Reset(key)

		r = r.WithContext(context.WithValue(r.Context(), security.UserContextKey, claims))
		wsHandler.ServeHTTP(w, r)
	})
}

func clientOrigin(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func accessTokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	authorizationHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authorizationHeader, "Bearer ") {
		return strings.TrimPrefix(authorizationHeader, "Bearer ")
	}
	return ""
}

func (g *Gateway) handleConn(ws *websocket.Conn) {
	defer func() {
		_ = ws.Close()
	}()

	request := ws.Request()
	claims, err := security.GetClaimsFromContext(request.Context())
	if err != nil {
		// сюда можно попасть только в обход Handler
		return
	}

	conn := newConnection(
		uuid.New().String(),
		claims.Subject,
		claims.Role,
		g.displayName(request.Context(), claims.Subject),
		newPeer(json.NewEncoder(ws)),
		ws,
	)

	g.register(conn)
	defer g.unregister(conn)

	decoder := json.NewDecoder(ws)
	decodeErrors := 0

	for {
		var frame Frame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			decodeErrors++
			g.sendError(conn, CodeInvalidPayload, "некорректный кадр")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		g.dispatch(request.Context(), conn, frame)
	}
}

// register создает состояние соединения: запись в реестре, приватная
// комната пользователя, учет в presence
func (g *Gateway) register(conn *Connection) {
	g.mu.Lock()
	g.connections[conn.UUID] = conn
	g.mu.Unlock()

	g.hub.join(userRoom(conn.UserUUID), conn)

	if g.presence.connected(conn.UserUUID) {
		g.broadcastPresence(Frame{
			Type: EventPresenceUser,
			Payload: mustJSON(PresenceUserPayload{
				UserID: conn.UserUUID,
				Status: string(model.PresenceOnline),
			}),
		})
	}
}

// unregister выполняет очистку соединения одним неделимым шагом:
// комнаты, typing-таймеры, счетчик presence
func (g *Gateway) unregister(conn *Connection) {
	g.mu.Lock()
	delete(g.connections, conn.UUID)
	g.mu.Unlock()

	for _, roomID := range conn.roomList() {
		g.hub.leave(roomID, conn)
		// таймер typing гасим, только если в комнате не осталось
		// других соединений этого пользователя
		if !g.hub.userInRoom(roomID, conn.UserUUID) && g.typing.stop(conn.UserUUID, roomID) {
			g.broadcastTyping(roomID, conn.UserUUID, conn.UserName, false)
		}
	}
	g.hub.leave(userRoom(conn.UserUUID), conn)

	if wentOffline, lastSeen := g.presence.disconnected(conn.UserUUID); wentOffline {
		g.broadcastPresence(Frame{
			Type: EventPresenceUser,
			Payload: mustJSON(PresenceUserPayload{
				UserID:   conn.UserUUID,
				Status:   string(model.PresenceOffline),
				LastSeen: &lastSeen,
			}),
		})
	}
}

func (g *Gateway) dispatch(ctx context.Context, conn *Connection, frame Frame) {
	switch frame.Type {
	case EventJoinConversation:
		g.handleJoin(ctx, conn, frame)
	case EventLeaveConversation:
		g.handleLeave(conn, frame)
	case EventMessageSend:
		g.handleSend(conn, frame)
	case EventTypingStart:
		g.handleTypingStart(conn, frame)
	case EventTypingStop:
		g.handleTypingStop(conn, frame)
	case EventPresenceUpdate:
		g.handlePresenceUpdate(conn, frame)
	case EventReactionAdd:
		g.handleReaction(conn, frame, "add")
	case EventReactionRemove:
		g.handleReaction(conn, frame, "remove")
	case EventConversationRead:
		g.handleRead(conn, frame)
	default:
		g.sendError(conn, CodeInvalidPayload, "неизвестный тип события")
	}
}

func (g *Gateway) handleJoin(ctx context.Context, conn *Connection, frame Frame) {
	var payload RoomPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.RoomID == "" {
		g.sendError(conn, CodeInvalidPayload, "некорректный payload события join")
		return
	}

	member, err := g.membership.IsMember(ctx, payload.RoomID, conn.UserUUID)
	if err != nil {
		g.sendError(conn, CodeMembershipUnavailable, "проверка членства недоступна")
		return
	}
	if !member {
		g.sendError(conn, CodeNotARoomMember, model.ErrNotARoomMember.Error())
		return
	}

	conn.addRoom(payload.RoomID)
	g.hub.join(payload.RoomID, conn)
}

func (g *Gateway) handleLeave(conn *Connection, frame Frame) {
	var payload RoomPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.RoomID == "" {
		g.sendError(conn, CodeInvalidPayload, "некорректный payload события leave")
		return
	}
	if !conn.inRoom(payload.RoomID) {
		g.sendError(conn, CodeNotARoomMember, model.ErrNotARoomMember.Error())
		return
	}

	conn.removeRoom(payload.RoomID)
	g.hub.leave(payload.RoomID, conn)

	if !g.hub.userInRoom(payload.RoomID, conn.UserUUID) {
		if g.typing.stop(conn.UserUUID, payload.RoomID) {
			g.broadcastTyping(payload.RoomID, conn.UserUUID, conn.UserName, false)
		}
		// остальным участникам сообщается, что присутствие пользователя
		// в комнате закончилось
		g.broadcastToRoom(payload.RoomID, Frame{
			Type: EventConversationLeft,
			Payload: mustJSON(ConversationLeftPayload{
				RoomID: payload.RoomID,
				UserID: conn.UserUUID,
			}),
		})
	}
}

func (g *Gateway) handleSend(conn *Connection, frame Frame) {
	var payload SendMessagePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.RoomID == "" || payload.Content == "" {
		g.sendError(conn, CodeInvalidPayload, "некорректный payload события message:send")
		return
	}
	if !conn.inRoom(payload.RoomID) {
		g.sendError(conn, CodeNotARoomMember, model.ErrNotARoomMember.Error())
		return
	}

	// отправка сообщения неявно гасит typing отправителя,
	// typing=false уходит раньше самого сообщения
	if g.typing.stop(conn.UserUUID, payload.RoomID) {
		g.broadcastTyping(payload.RoomID, conn.UserUUID, conn.UserName, false)
	}

	g.broadcastToRoom(payload.RoomID, Frame{
		Type: EventMessageNew,
		Payload: mustJSON(MessageNewPayload{
			MessageID:   uuid.New().String(),
			RoomID:      payload.RoomID,
			SenderID:    conn.UserUUID,
			SenderName:  conn.UserName,
			Content:     payload.Content,
			ReplyTo:     payload.ReplyTo,
			Attachments: payload.Attachments,
			SentAt:      time.Now().UTC().Format(time.RFC3339),
		}),
	})
}

func (g *Gateway) handleTypingStart(conn *Connection, frame Frame) {
	var payload RoomPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.RoomID == "" {
		g.sendError(conn, CodeInvalidPayload, "некорректный payload события typing:start")
		return
	}
	if !conn.inRoom(payload.RoomID) {
		g.sendError(conn, CodeNotARoomMember, model.ErrNotARoomMember.Error())
		return
	}

	if g.typing.start(conn.UserUUID, payload.RoomID) {
		g.broadcastTyping(payload.RoomID, conn.UserUUID, conn.UserName, true)
	}
}

func (g *Gateway) handleTypingStop(conn *Connection, frame Frame) {
	var payload RoomPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.RoomID == "" {
		g.sendError(conn, CodeInvalidPayload, "некорректный payload события typing:stop")
		return
	}

	if g.typing.stop(conn.UserUUID, payload.RoomID) {
		g.broadcastTyping(payload.RoomID, conn.UserUUID, conn.UserName, false)
	}
}

func (g *Gateway) handlePresenceUpdate(conn *Connection, frame Frame) {
	var payload PresenceUpdatePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		g.sendError(conn, CodeInvalidPayload, "некорректный payload события presence:update")
		return
	}

	status := model.PresenceStatus(payload.Status)
	if status != model.PresenceOnline && status != model.PresenceAway {
		g.sendError(conn, CodeInvalidPayload, "допустимые статусы: online, away")
		return
	}

	if g.presence.setStatus(conn.UserUUID, status) {
		g.broadcastPresence(Frame{
			Type: EventPresenceUser,
			Payload: mustJSON(PresenceUserPayload{
				UserID: conn.UserUUID,
				Status: string(status),
			}),
		})
	}
}

func (g *Gateway) handleReaction(conn *Connection, frame Frame, action string) {
	var payload ReactionPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.RoomID == "" || payload.MessageID == "" {
		g.sendError(conn, CodeInvalidPayload, "некорректный payload события reaction")
		return
	}
	if !conn.inRoom(payload.RoomID) {
		g.sendError(conn, CodeNotARoomMember, model.ErrNotARoomMember.Error())
		return
	}

	g.broadcastToRoom(payload.RoomID, Frame{
		Type: EventReactionUpdate,
		Payload: mustJSON(ReactionUpdatePayload{
			RoomID:    payload.RoomID,
			MessageID: payload.MessageID,
			UserID:    conn.UserUUID,
			Emoji:     payload.Emoji,
			Action:    action,
		}),
	})
}

func (g *Gateway) handleRead(conn *Connection, frame Frame) {
	var payload ReadPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.RoomID == "" {
		g.sendError(conn, CodeInvalidPayload, "некорректный payload события conversation:read")
		return
	}
	if !conn.inRoom(payload.RoomID) {
		g.sendError(conn, CodeNotARoomMember, model.ErrNotARoomMember.Error())
		return
	}

	g.broadcastToRoom(payload.RoomID, Frame{
		Type: EventConversationRead,
		Payload: mustJSON(ConversationReadPayload{
			RoomID:            payload.RoomID,
			UserID:            conn.UserUUID,
			LastReadMessageID: payload.LastReadMessageID,
		}),
	})
}

func (g *Gateway) onTypingExpired(userUUID, roomID string) {
	g.broadcastTyping(roomID, userUUID, g.displayName(context.Background(), userUUID), false)
}

func (g *Gateway) broadcastTyping(roomID, userUUID, userName string, isTyping bool) {
	g.broadcastToRoom(roomID, Frame{
		Type: EventTypingUser,
		Payload: mustJSON(TypingUserPayload{
			RoomID:   roomID,
			UserID:   userUUID,
			UserName: userName,
			IsTyping: isTyping,
		}),
	})
}

// broadcastToRoom доставляет кадр сначала локальным подписчикам комнаты,
// затем публикует его для остальных процессов
func (g *Gateway) broadcastToRoom(roomID string, frame Frame) {
	g.deliverToRoom(roomID, frame)
	g.publish(fanout.RoomChannelPrefix+roomID, frame)
}

// DisconnectUser разрывает все живые соединения пользователя на этом
// процессе ("выйти на всех устройствах"). Очистка состояния происходит
// в unregister при завершении цикла чтения каждого соединения
func (g *Gateway) DisconnectUser(userUUID string) error {
	g.mu.Lock()
	conns := make([]*Connection, 0)
	for _, conn := range g.connections {
		if conn.UserUUID == userUUID {
			conns = append(conns, conn)
		}
	}
	g.mu.Unlock()

	if len(conns) == 0 {
		return model.ErrConnectionNotFound
	}

	for _, conn := range conns {
		conn.close()
	}
	return nil
}

// BroadcastToUser доставляет кадр во все соединения пользователя во флоте
func (g *Gateway) BroadcastToUser(userUUID string, frame Frame) {
	g.deliverToRoom(userRoom(userUUID), frame)
	g.publish(fanout.UserChannelPrefix+userUUID, frame)
}

// broadcastPresence рассылает событие presence всем соединениям флота:
// глобальный статус может показываться в любом UI
func (g *Gateway) broadcastPresence(frame Frame) {
	g.deliverToAll(frame)
	g.publish(fanout.PresenceChannel, frame)
}

func (g *Gateway) deliverToRoom(roomID string, frame Frame) {
	for _, conn := range g.hub.connections(roomID) {
		if err := conn.peer.writeFrame(frame); err != nil {
			log.Printf("ошибка записи в соединение %s: %v", conn.UUID, err)
		}
	}
}

func (g *Gateway) deliverToAll(frame Frame) {
	g.mu.Lock()
	conns := make([]*Connection, 0, len(g.connections))
	for _, conn := range g.connections {
		conns = append(conns, conn)
	}
	g.mu.Unlock()

	for _, conn := range conns {
		if err := conn.peer.writeFrame(frame); err != nil {
			log.Printf("ошибка записи в соединение %s: %v", conn.UUID, err)
		}
	}
}

func (g *Gateway) publish(channel string, frame Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("ошибка сериализации кадра для fan-out: %v", err)
		return
	}
	if err := g.adapter.Publish(context.Background(), channel, payload); err != nil {
		log.Printf("ошибка публикации в fan-out: %v", err)
	}
}

// handleRemote доставляет кадры, пришедшие от других процессов.
// Повторная публикация не выполняется
func (g *Gateway) handleRemote(channel string, payload []byte) {
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		log.Printf("ошибка десериализации удаленного кадра: %v", err)
		return
	}

	switch {
	case strings.HasPrefix(channel, fanout.RoomChannelPrefix):
		g.deliverToRoom(strings.TrimPrefix(channel, fanout.RoomChannelPrefix), frame)
	case strings.HasPrefix(channel, fanout.UserChannelPrefix):
		g.deliverToRoom(userRoom(strings.TrimPrefix(channel, fanout.UserChannelPrefix)), frame)
	case channel == fanout.PresenceChannel:
		g.deliverToAll(frame)
	}
}

func (g *Gateway) sendError(conn *Connection, code, message string) {
	frame := Frame{
		Type: EventError,
		Payload: mustJSON(ErrorPayload{
			Message: message,
			Code:    code,
		}),
	}
	if err := conn.peer.writeFrame(frame); err != nil {
		log.Printf("ошибка отправки события error: %v", err)
	}
}

func (g *Gateway) displayName(ctx context.Context, userUUID string) string {
	if g.users != nil {
		if user, err := g.users.FindByUUID(ctx, userUUID); err == nil && user.DisplayName != "" {
			return user.DisplayName
		}
	}
	return userUUID
}

func userRoom(userUUID string) string {
	return "user:" + userUUID
}
