package daemon

import (
	"context"
	"sync"
)

// aliasLocks serializa execuções por alias de job em ordem estrita de
// chegada. A ordem é fixada no momento da emissão do bilhete (Ticket),
// não no momento do Acquire: dois workers podem retirar despachos do
// mesmo alias da fila e alcançar o Acquire fora de ordem, mas o bilhete
// de cada despacho foi emitido na ordem da fila e o lock só é concedido
// na sequência dos bilhetes. Aliases distintos nunca se bloqueiam.
type aliasLocks struct {
	mu     sync.Mutex
	queues map[string]*lockQueue
}

type lockQueue struct {
	held bool

	// nextTicket é o próximo bilhete a emitir; nextServe o próximo a
	// atender.
	nextTicket uint64
	nextServe  uint64

	waiters   map[uint64]chan struct{}
	abandoned map[uint64]bool
}

func newAliasLocks() *aliasLocks {
	return &aliasLocks{queues: make(map[string]*lockQueue)}
}

func (l *aliasLocks) queue(alias string) *lockQueue {
	q, ok := l.queues[alias]
	if !ok {
		q = &lockQueue{
			waiters:   make(map[uint64]chan struct{}),
			abandoned: make(map[uint64]bool),
		}
		l.queues[alias] = q
	}
	return q
}

// Ticket emite o próximo bilhete do alias. Deve ser chamado no ponto
// que define a ordem de chegada (a retirada sequenciada da fila).
func (l *aliasLocks) Ticket(alias string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	q := l.queue(alias)
	t := q.nextTicket
	q.nextTicket++
	return t
}

// Acquire toma o lock do alias quando chegar a vez do bilhete,
// respeitando o cancelamento do contexto enquanto espera.
func (l *aliasLocks) Acquire(ctx context.Context, alias string, ticket uint64) error {
	l.mu.Lock()
	q := l.queue(alias)
	if !q.held && ticket == q.nextServe {
		q.held = true
		q.nextServe++
		l.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	q.waiters[ticket] = ready
	l.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		select {
		case <-ready:
			// O lock foi concedido durante o cancelamento; repassa
			// imediatamente ao próximo da sequência.
			l.releaseLocked(alias)
		default:
			delete(q.waiters, ticket)
			q.abandoned[ticket] = true
			if !q.held {
				l.advanceLocked(alias)
			}
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}

// Abandon descarta um bilhete emitido que nunca vai chegar ao Acquire,
// para não travar a sequência do alias.
func (l *aliasLocks) Abandon(alias string, ticket uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	q := l.queue(alias)
	q.abandoned[ticket] = true
	if !q.held {
		l.advanceLocked(alias)
	}
}

// Release libera o lock do alias, acordando o dono do próximo bilhete.
func (l *aliasLocks) Release(alias string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked(alias)
}

func (l *aliasLocks) releaseLocked(alias string) {
	q, ok := l.queues[alias]
	if !ok {
		return
	}
	q.held = false
	l.advanceLocked(alias)
}

// advanceLocked pula bilhetes abandonados e concede o lock ao próximo
// da sequência já em espera. Chamado com l.mu tomado e o lock livre.
func (l *aliasLocks) advanceLocked(alias string) {
	q := l.queues[alias]
	for q.abandoned[q.nextServe] {
		delete(q.abandoned, q.nextServe)
		q.nextServe++
	}
	if ready, ok := q.waiters[q.nextServe]; ok {
		delete(q.waiters, q.nextServe)
		q.held = true
		q.nextServe++
		close(ready)
		return
	}
	// Sem pendências, a fila do alias pode ser recolhida.
	if q.nextServe == q.nextTicket && len(q.waiters) == 0 && len(q.abandoned) == 0 {
		delete(l.queues, alias)
	}
}
