package connectivity

import (
	"sync"
	"sync/atomic"
)

// Listener получает новое состояние при каждом переходе online <-> offline
type Listener func(online bool)

// Monitor - единственный на процесс флаг связи.
// Пишет в него только источник сигнала (платформа или Prober),
// остальные только читают и подписываются на переходы.
type Monitor struct {
	online atomic.Bool
	// setMu упорядочивает переходы вместе с уведомлениями
	setMu     sync.Mutex
	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// NewMonitor создает монитор с начальным состоянием
func NewMonitor(online bool) *Monitor {
	m := &Monitor{listeners: make(map[int]Listener)}
	m.online.Store(online)
	return m
}

// Online возвращает текущее состояние, не блокируясь
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Set записывает новое состояние. Подписчики вызываются только
// если состояние действительно изменилось. Возвращает true при переходе.
// Переходы доставляются в том порядке, в котором произошли;
// вызывать Set из подписчика нельзя.
func (m *Monitor) Set(online bool) bool {
	m.setMu.Lock()
	defer m.setMu.Unlock()

	if m.online.Swap(online) == online {
		return false
	}

	m.mu.Lock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(online)
	}
	return true
}

// Subscribe регистрирует подписчика и возвращает функцию отписки
func (m *Monitor) Subscribe(l Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}
