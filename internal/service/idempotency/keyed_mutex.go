package idempotency

import (
	"context"
	"sync"
)

// keyedMutex дает взаимное исключение по строковому ключу. Запись о ключе живёт,
// пока его держат или ждут, затем удаляется.
type keyedMutex struct {
	mu    sync.Mutex
	slots map[string]*keySlot
}

type keySlot struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{slots: make(map[string]*keySlot)}
}

// Lock блокирует key или возвращает ошибку ctx. unlock нужно вызвать ровно один раз.
func (m *keyedMutex) Lock(ctx context.Context, key string) (unlock func(), err error) {
	m.mu.Lock()
	slot, ok := m.slots[key]
	if !ok {
		slot = &keySlot{ch: make(chan struct{}, 1)}
		m.slots[key] = slot
	}
	slot.refs++
	m.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, slot)
		return nil, ctx.Err()
	}

	return func() {
		<-slot.ch
		m.release(key, slot)
	}, nil
}

func (m *keyedMutex) release(key string, slot *keySlot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot.refs--
	if slot.refs == 0 {
		delete(m.slots, key)
	}
}

func (m *keyedMutex) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}
