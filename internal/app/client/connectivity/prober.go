package connectivity

import (
	"context"
	"time"

	"golang.org/x/exp/slog"
)

// Checker проверяет доступность сервера
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Prober периодически опрашивает сервер и переводит Monitor
// между online и offline
type Prober struct {
	checker  Checker
	monitor  *Monitor
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger
}

func NewProber(checker Checker, monitor *Monitor, interval, timeout time.Duration, log *slog.Logger) *Prober {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &Prober{
		checker:  checker,
		monitor:  monitor,
		interval: interval,
		timeout:  timeout,
		log:      log.With("component", "prober"),
	}
}

// Probe выполняет одну проверку и обновляет состояние
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.checker.HealthCheck(ctx)
	online := err == nil

	if p.monitor.Set(online) {
		if online {
			p.log.Info("Связь с сервером восстановлена")
		} else {
			p.log.Warn("Связь с сервером потеряна", "error", err)
		}
	}

	return online
}

// Run опрашивает сервер до отмены контекста
func (p *Prober) Run(ctx context.Context) error {
	p.Probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Debug("Проверка связи остановлена")
			return nil
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
