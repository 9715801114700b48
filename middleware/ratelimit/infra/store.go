package infra

import (
	"sync"
	"time"

	"sre-gateway/middleware/ratelimit/domain"

	"github.com/cespare/xxhash/v2"
)

// Store é uma implementação de infra de janela fixa em memória.
//
// As janelas são alinhadas ao epoch: início = floor(unixNano/janela)*janela.
// O mapa é particionado em shards (xxhash da chave), cada um com seu mutex,
// então Hit é atômico por (chave, regra) sem serializar o processo inteiro.
//
// Não há consistência entre instâncias: cada processo tem seus contadores.
type Store struct {
	shards       []*shard
	now          func() time.Time
	cleanupEvery time.Duration
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	start time.Time
	end   time.Time
	count int64
}

type StoreOption func(*Store)

// WithClock troca o relógio (testes usam relógio fixo).
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *Store) { s.cleanupEvery = d }
}

// WithShards define a quantidade de partições (mínimo 1).
func WithShards(n int) StoreOption {
	return func(s *Store) {
		if n < 1 {
			n = 1
		}
		s.shards = newShards(n)
	}
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		shards:       newShards(32),
		now:          time.Now,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newShards(n int) []*shard {
	out := make([]*shard, n)
	for i := range out {
		out[i] = &shard{windows: make(map[string]*window)}
	}
	return out
}

func (s *Store) CleanupEvery() time.Duration { return s.cleanupEvery }

// WindowStart devolve o início da janela (alinhada ao epoch) que contém t.
func WindowStart(t time.Time, size time.Duration) time.Time {
	if size <= 0 {
		return t
	}
	n := t.UnixNano()
	start := n - n%int64(size)
	if n < 0 && n%int64(size) != 0 {
		start -= int64(size)
	}
	return time.Unix(0, start).In(t.Location())
}

func windowKey(key domain.Key, rule domain.RuleID) string {
	return string(rule) + "|" + string(key)
}

func (s *Store) shardFor(k string) *shard {
	return s.shards[xxhash.Sum64String(k)%uint64(len(s.shards))]
}

// Hit implementa domain.WindowStore.
func (s *Store) Hit(key domain.Key, rule domain.Rule) domain.Window {
	now := s.now()
	start := WindowStart(now, rule.Window)
	end := start.Add(rule.Window)

	k := windowKey(key, rule.ID)
	sh := s.shardFor(k)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.windows[k]
	if !ok {
		w = &window{start: start, end: end}
		sh.windows[k] = w
	}
	if !w.start.Equal(start) {
		// cruzou a fronteira: janela nova começa zerada
		w.start, w.end, w.count = start, end, 0
	}

	allowed := w.count < rule.Limit
	if allowed {
		w.count++
	}
	return domain.Window{
		Start:   w.start,
		ResetAt: w.end,
		Count:   w.count,
		Limit:   rule.Limit,
		Allowed: allowed,
	}
}

// Peek devolve a contagem atual sem incrementar (0 se a janela expirou).
func (s *Store) Peek(key domain.Key, rule domain.Rule) int64 {
	now := s.now()
	k := windowKey(key, rule.ID)
	sh := s.shardFor(k)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.windows[k]
	if !ok || !w.start.Equal(WindowStart(now, rule.Window)) {
		return 0
	}
	return w.count
}

// Len devolve quantas janelas estão em memória.
func (s *Store) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.windows)
		sh.mu.Unlock()
	}
	return total
}

// Cleanup remove janelas já encerradas.
func (s *Store) Cleanup() {
	now := s.now()
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, w := range sh.windows {
			if !now.Before(w.end) {
				delete(sh.windows, k)
			}
		}
		sh.mu.Unlock()
	}
}

// StartJanitor inicia uma goroutine que remove janelas expiradas periodicamente.
// Pare cancelando o contexto.
func (s *Store) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context sem importar context aqui.
type DoneContext interface {
	Done() <-chan struct{}
}
