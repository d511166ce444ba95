package ports

import "context"

// FanoutAdapter : мост между процессами через pub/sub брокер.
// При недоступном брокере реализация работает в режиме одного процесса.
type FanoutAdapter interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, pattern string, handler func(channel string, payload []byte)) error
	Close() error
}
