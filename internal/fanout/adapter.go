package fanout

import (
	"context"
	"encoding/json"
	"log"
	"realtime-chat-server/config"
	"realtime-chat-server/internal/util"

	"github.com/redis/go-redis/v9"
)

const (
	RoomChannelPrefix = "fanout:room:"
	UserChannelPrefix = "fanout:user:"
	PresenceChannel   = "fanout:presence"
)

// Envelope оборачивает событие при публикации в брокер.
// Origin - UUID инстанса-отправителя: процесс пропускает собственное эхо,
// локальным получателям событие уже доставлено напрямую
type Envelope struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

// Adapter : мост комнатных и presence-рассылок между процессами через
// Redis pub/sub. При недоступном брокере работает в режиме одного процесса:
// Publish и Subscribe превращаются в no-op, процесс не падает
type Adapter struct {
	client     *config.RedisClient
	instanceID string
	pubsub     *redis.PubSub
}

func NewAdapter(client *config.RedisClient, instanceID string) *Adapter {
	if client == nil {
		log.Printf("ВНИМАНИЕ: брокер недоступен, fan-out работает в режиме одного процесса")
	}
	return &Adapter{
		client:     client,
		instanceID: instanceID,
	}
}

func (a *Adapter) InstanceID() string {
	return a.instanceID
}

// SingleProcess сообщает, работает ли адаптер без брокера
func (a *Adapter) SingleProcess() bool {
	return a.client == nil
}

// Publish отправляет событие в общий канал, оборачивая его в Envelope
func (a *Adapter) Publish(ctx context.Context, channel string, payload []byte) error {
	if a.client == nil {
		return nil
	}

	envelope, err := json.Marshal(Envelope{
		Origin: a.instanceID,
		Data:   payload,
	})
	if err != nil {
		return util.LogError("ошибка сериализации fan-out события", err)
	}

	if err := a.client.Client.Publish(ctx, channel, envelope).Err(); err != nil {
		// доставка между процессами at-least-once, локальная рассылка уже прошла
		return util.LogError("ошибка публикации fan-out события", err)
	}
	return nil
}

// Subscribe подписывается на каналы по шаблону и передает чужие события
// в handler. Собственные публикации отфильтровываются по Origin
func (a *Adapter) Subscribe(ctx context.Context, pattern string, handler func(channel string, payload []byte)) error {
	if a.client == nil {
		return nil
	}

	a.pubsub = a.client.Client.PSubscribe(ctx, pattern)

	go func() {
		for msg := range a.pubsub.Channel() {
			var envelope Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				log.Printf("ошибка десериализации fan-out события: %v", err)
				continue
			}
			if envelope.Origin == a.instanceID {
				continue
			}
			handler(msg.Channel, envelope.Data)
		}
	}()

	return nil
}

func (a *Adapter) Close() error {
	if a.pubsub != nil {
		return a.pubsub.Close()
	}
	return nil
}
