package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"realtime-chat-server/config"
	"realtime-chat-server/internal/fanout"
	"realtime-chat-server/internal/model"
	"realtime-chat-server/internal/repository"
	"realtime-chat-server/internal/security"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

// ===== FAKES =====

type fakeMembership struct {
	allow map[string]map[string]bool
	err   error
}

func (f *fakeMembership) IsMember(ctx context.Context, conversationUUID, userUUID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.allow[conversationUUID][userUUID], nil
}

func membershipFor(rooms map[string][]string) *fakeMembership {
	allow := make(map[string]map[string]bool)
	for room, users := range rooms {
		allow[room] = make(map[string]bool)
		for _, user := range users {
			allow[room][user] = true
		}
	}
	return &fakeMembership{allow: allow}
}

// ===== HELPERS =====

func newTestGatewayServer(t *testing.T, membership *fakeMembership, limiter *security.AttemptLimiter) (*httptest.Server, func(userUUID string) string, *Gateway) {
	t.Helper()

	store := repository.NewMemoryTokenStore()
	jwtService := security.NewJWTService(&config.JWTConfig{
		SecretKey:       "test-secret",
		AccessTokenTTL:  "15m",
		RefreshTokenTTL: "168h",
		Issuer:          "realtime-chat-server",
		Audience:        "realtime-chat-client",
	}, store)

	// без брокера: режим одного процесса
	adapter := fanout.NewAdapter(nil, "test-instance")

	gw := NewGateway(jwtService, membership, nil, limiter, adapter, 200*time.Millisecond, time.Second)
	require.NoError(t, gw.Start(context.Background()))

	server := httptest.NewServer(gw.Handler())
	t.Cleanup(server.Close)

	issueToken := func(userUUID string) string {
		pair, _, err := jwtService.IssueTokenPair(&model.User{UUID: userUUID, Login: userUUID, Role: "member"})
		require.NoError(t, err)
		return pair.AccessToken
	}
	return server, issueToken, gw
}

func newTestServer(t *testing.T, membership *fakeMembership) (*httptest.Server, func(userUUID string) string) {
	t.Helper()

	server, issueToken, _ := newTestGatewayServer(t, membership, security.NewAttemptLimiter(100, time.Hour, 15*time.Minute))
	return server, issueToken
}

// testClient держит один decoder на соединение: json.Decoder буферизует
// прочитанное, пересоздавать его между кадрами нельзя
type testClient struct {
	ws      *websocket.Conn
	decoder *json.Decoder
}

func dial(t *testing.T, server *httptest.Server, token string) *testClient {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/?token=" + token
	ws, err := websocket.Dial(wsURL, "", server.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	return &testClient{ws: ws, decoder: json.NewDecoder(ws)}
}

func (c *testClient) send(t *testing.T, eventType string, payload any) {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, websocket.JSON.Send(c.ws, Frame{Type: eventType, Payload: raw}))
}

// await читает кадры, пропуская события других типов (presence и пр.),
// пока не встретит нужный тип или не истечет таймаут
func (c *testClient) await(t *testing.T, eventType string) Frame {
	t.Helper()

	require.NoError(t, c.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var frame Frame
		require.NoError(t, c.decoder.Decode(&frame), "не дождались события %s", eventType)
		if frame.Type == eventType {
			return frame
		}
	}
}

// expectNone убеждается, что за окно не пришло ни одного события данного типа
func (c *testClient) expectNone(t *testing.T, eventType string, window time.Duration) {
	t.Helper()

	_ = c.ws.SetReadDeadline(time.Now().Add(window))
	for {
		var frame Frame
		if err := c.decoder.Decode(&frame); err != nil {
			// json.Decoder навсегда запоминает первую ошибку чтения; после
			// ожидаемого таймаута пересоздаем его, сохранив буфер
			c.decoder = json.NewDecoder(io.MultiReader(c.decoder.Buffered(), c.ws))
			return
		}
		assert.NotEqual(t, eventType, frame.Type)
	}
}

// joinAndSync вступает в комнату и дожидается подтверждения через эхо
// события conversation:read - после него join гарантированно обработан
func (c *testClient) joinAndSync(t *testing.T, roomID string) {
	t.Helper()

	c.send(t, EventJoinConversation, RoomPayload{RoomID: roomID})
	c.send(t, EventConversationRead, ReadPayload{RoomID: roomID})
	c.await(t, EventConversationRead)
}

func decodePayload(t *testing.T, frame Frame, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(frame.Payload, v))
}

// ===== HANDSHAKE =====

func TestHandshake_Unauthorized(t *testing.T) {
	server, _ := newTestServer(t, membershipFor(nil))

	// без токена
	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// с мусорным токеном
	resp, err = http.Get(server.URL + "/?token=garbage")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// не-GET
	resp, err = http.Post(server.URL, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// Повторные handshake с невалидным токеном от одного origin блокируются:
// /ws не должен оставаться неограниченным оракулом для перебора токенов
func TestHandshake_RateLimited(t *testing.T) {
	limiter := security.NewAttemptLimiter(3, time.Hour, 15*time.Minute)
	server, issueToken, _ := newTestGatewayServer(t, membershipFor(nil), limiter)

	get := func(token, origin string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, server.URL+"/?token="+token, nil)
		require.NoError(t, err)
		req.Header.Set("X-Forwarded-For", origin)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	for i := 0; i < 3; i++ {
		resp := get("garbage", "10.0.0.9")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "попытка %d", i+1)
	}

	resp := get("garbage", "10.0.0.9")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// другой origin не затронут
	resp = get("garbage", "10.0.0.10")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// валидный токен с чистого origin проходит
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/?token=" + issueToken("ua")
	wsConfig, err := websocket.NewConfig(wsURL, server.URL)
	require.NoError(t, err)
	wsConfig.Header.Set("X-Forwarded-For", "10.0.0.11")

	ws, err := websocket.DialConfig(wsConfig)
	require.NoError(t, err)
	_ = ws.Close()
}

func TestHandshake_ValidToken(t *testing.T) {
	server, issueToken := newTestServer(t, membershipFor(nil))

	client := dial(t, server, issueToken("ua"))

	// первое соединение пользователя дает presence online
	frame := client.await(t, EventPresenceUser)

	var payload PresenceUserPayload
	decodePayload(t, frame, &payload)
	assert.Equal(t, "ua", payload.UserID)
	assert.Equal(t, string(model.PresenceOnline), payload.Status)
}

// ===== СООБЩЕНИЯ =====

func TestMessageBroadcast(t *testing.T) {
	server, issueToken := newTestServer(t, membershipFor(map[string][]string{
		"r1": {"ua", "ub"},
	}))

	alice := dial(t, server, issueToken("ua"))
	bob := dial(t, server, issueToken("ub"))

	alice.joinAndSync(t, "r1")
	bob.joinAndSync(t, "r1")

	alice.send(t, EventMessageSend, SendMessagePayload{RoomID: "r1", Content: "hi"})

	frame := bob.await(t, EventMessageNew)

	var payload MessageNewPayload
	decodePayload(t, frame, &payload)
	assert.Equal(t, "r1", payload.RoomID)
	assert.Equal(t, "ua", payload.SenderID)
	assert.Equal(t, "hi", payload.Content)
	assert.NotEmpty(t, payload.MessageID)

	// отправитель тоже состоит в комнате и получает свое сообщение
	alice.await(t, EventMessageNew)

	// ровно одна доставка получателю
	bob.expectNone(t, EventMessageNew, 150*time.Millisecond)
}

func TestJoin_NotAMember(t *testing.T) {
	server, issueToken := newTestServer(t, membershipFor(nil))

	client := dial(t, server, issueToken("uc"))

	client.send(t, EventJoinConversation, RoomPayload{RoomID: "r1"})

	frame := client.await(t, EventError)

	var payload ErrorPayload
	decodePayload(t, frame, &payload)
	assert.Equal(t, CodeNotARoomMember, payload.Code)

	// отправка в комнату без членства тоже отклоняется
	client.send(t, EventMessageSend, SendMessagePayload{RoomID: "r1", Content: "hi"})

	frame = client.await(t, EventError)
	decodePayload(t, frame, &payload)
	assert.Equal(t, CodeNotARoomMember, payload.Code)
}

// ===== TYPING =====

// typing=false уходит получателям раньше самого сообщения
func TestTyping_FalseBeforeMessage(t *testing.T) {
	server, issueToken := newTestServer(t, membershipFor(map[string][]string{
		"r1": {"ua", "ub"},
	}))

	alice := dial(t, server, issueToken("ua"))
	bob := dial(t, server, issueToken("ub"))

	alice.joinAndSync(t, "r1")
	bob.joinAndSync(t, "r1")

	alice.send(t, EventTypingStart, RoomPayload{RoomID: "r1"})

	frame := bob.await(t, EventTypingUser)
	var typing TypingUserPayload
	decodePayload(t, frame, &typing)
	assert.Equal(t, "ua", typing.UserID)
	assert.True(t, typing.IsTyping)

	alice.send(t, EventMessageSend, SendMessagePayload{RoomID: "r1", Content: "hi"})

	// в потоке кадров typing=false обязан встретиться до message:new
	sawTypingFalse := false
	require.NoError(t, bob.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var next Frame
		require.NoError(t, bob.decoder.Decode(&next))

		if next.Type == EventTypingUser {
			decodePayload(t, next, &typing)
			if !typing.IsTyping {
				sawTypingFalse = true
			}
			continue
		}
		if next.Type == EventMessageNew {
			assert.True(t, sawTypingFalse, "message:new пришло раньше typing=false")
			break
		}
	}
}

// Без явного stop статус typing гаснет сам по TTL
func TestTyping_AutoExpiry(t *testing.T) {
	server, issueToken := newTestServer(t, membershipFor(map[string][]string{
		"r1": {"ua", "ub"},
	}))

	alice := dial(t, server, issueToken("ua"))
	bob := dial(t, server, issueToken("ub"))

	alice.joinAndSync(t, "r1")
	bob.joinAndSync(t, "r1")

	alice.send(t, EventTypingStart, RoomPayload{RoomID: "r1"})

	frame := bob.await(t, EventTypingUser)
	var typing TypingUserPayload
	decodePayload(t, frame, &typing)
	assert.True(t, typing.IsTyping)

	// TTL тестового шлюза 200ms, ждем автоматическое затухание
	frame = bob.await(t, EventTypingUser)
	decodePayload(t, frame, &typing)
	assert.Equal(t, "ua", typing.UserID)
	assert.False(t, typing.IsTyping)
}

// ===== PRESENCE =====

// Offline рассылается ровно при закрытии последнего соединения пользователя
func TestPresence_OfflineOnLastDisconnect(t *testing.T) {
	server, issueToken := newTestServer(t, membershipFor(nil))

	observer := dial(t, server, issueToken("ub"))
	observer.await(t, EventPresenceUser)

	token := issueToken("ua")
	first := dial(t, server, token)
	second := dial(t, server, token)

	// первое соединение ua дает online
	frame := observer.await(t, EventPresenceUser)
	var payload PresenceUserPayload
	decodePayload(t, frame, &payload)
	assert.Equal(t, "ua", payload.UserID)
	assert.Equal(t, string(model.PresenceOnline), payload.Status)

	// закрытие одного из двух соединений offline не дает
	require.NoError(t, first.ws.Close())
	observer.expectNone(t, EventPresenceUser, 150*time.Millisecond)

	require.NoError(t, second.ws.Close())

	frame = observer.await(t, EventPresenceUser)
	decodePayload(t, frame, &payload)
	assert.Equal(t, "ua", payload.UserID)
	assert.Equal(t, string(model.PresenceOffline), payload.Status)
	require.NotNil(t, payload.LastSeen)
}

// DisconnectUser разрывает все соединения пользователя на процессе;
// для пользователя без соединений возвращается ErrConnectionNotFound
func TestDisconnectUser(t *testing.T) {
	server, issueToken, gw := newTestGatewayServer(t, membershipFor(nil), security.NewAttemptLimiter(100, time.Hour, 15*time.Minute))

	client := dial(t, server, issueToken("ua"))
	client.await(t, EventPresenceUser)

	require.NoError(t, gw.DisconnectUser("ua"))

	// соединение закрыто сервером: чтение завершается
	require.NoError(t, client.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var frame Frame
		if err := client.decoder.Decode(&frame); err != nil {
			break
		}
	}

	assert.ErrorIs(t, gw.DisconnectUser("ub"), model.ErrConnectionNotFound)
}

// Явное presence:update рассылается остальным соединениям
func TestPresence_ExplicitAway(t *testing.T) {
	server, issueToken := newTestServer(t, membershipFor(nil))

	observer := dial(t, server, issueToken("ub"))
	observer.await(t, EventPresenceUser)

	alice := dial(t, server, issueToken("ua"))
	alice.await(t, EventPresenceUser)

	alice.send(t, EventPresenceUpdate, PresenceUpdatePayload{Status: string(model.PresenceAway)})

	var payload PresenceUserPayload
	for {
		frame := observer.await(t, EventPresenceUser)
		decodePayload(t, frame, &payload)
		if payload.UserID == "ua" && payload.Status == string(model.PresenceAway) {
			break
		}
	}

	// запрещенное значение отклоняется событием error
	alice.send(t, EventPresenceUpdate, PresenceUpdatePayload{Status: string(model.PresenceOffline)})

	frame := alice.await(t, EventError)
	var errPayload ErrorPayload
	decodePayload(t, frame, &errPayload)
	assert.Equal(t, CodeInvalidPayload, errPayload.Code)
}
