package gateway

import (
	"encoding/json"
	"sync"
)

// peer : пишущая сторона соединения.
// json.Encoder не потокобезопасен, поэтому запись под мьютексом
type peer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newPeer(encoder *json.Encoder) *peer {
	return &peer{encoder: encoder}
}

func (p *peer) writeFrame(frame Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}
