package infra

import (
	"context"

	"sre-gateway/middleware/ratelimit/domain"
)

// slotPool é o semáforo de requisições em voo do gateway. Com chaos=latency
// cada requisição segura a vaga pelo delay inteiro; /health e /metrics ficam
// fora do middleware e continuam respondendo com o pool cheio.
type slotPool struct {
	slots chan struct{}
}

// NewChanPool cria o pool com capacidade max (max <= 0 vira 1).
func NewChanPool(max int) domain.SlotPool {
	if max <= 0 {
		max = 1
	}
	return &slotPool{slots: make(chan struct{}, max)}
}

func (p *slotPool) Acquire(ctx context.Context) (func(), bool) {
	// vaga livre ganha de um ctx já encerrado
	select {
	case p.slots <- struct{}{}:
		return p.release, true
	default:
	}
	select {
	case p.slots <- struct{}{}:
		return p.release, true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *slotPool) release() { <-p.slots }

func (p *slotPool) InUse() int { return len(p.slots) }
