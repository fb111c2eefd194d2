package patient

import (
	"fmt"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
)

// Pruner evicts idle in-memory sessions on a cron schedule.
type Pruner struct {
	Store  *MemoryStore
	TTL    time.Duration
	Logger *log.Logger

	expr *cronexpr.Expression
	stop chan struct{}
}

func NewPruner(store *MemoryStore, cronSpec string, ttl time.Duration, logger *log.Logger) (*Pruner, error) {
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		return nil, fmt.Errorf("parse prune schedule %q: %w", cronSpec, err)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[STORE] ", log.LstdFlags)
	}
	return &Pruner{Store: store, TTL: ttl, Logger: logger, expr: expr, stop: make(chan struct{})}, nil
}

// Next returns the next scheduled run after t.
func (p *Pruner) Next(t time.Time) time.Time {
	return p.expr.Next(t)
}

func (p *Pruner) Start() {
	go func() {
		for {
			wait := time.Until(p.Next(time.Now()))
			if wait < time.Second {
				wait = time.Second
			}
			timer := time.NewTimer(wait)
			select {
			case <-p.stop:
				timer.Stop()
				return
			case <-timer.C:
				if n := p.Store.Prune(p.TTL); n > 0 {
					p.Logger.Printf("pruned %d idle sessions", n)
				}
			}
		}
	}()
}

func (p *Pruner) Stop() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
}
