package store

import (
	"context"
	"sync"
	"time"

	"github.com/openride/surgecast/core/metrics"
	"github.com/openride/surgecast/core/override"
	"github.com/openride/surgecast/infra/logger"
)

// AsyncAudit decouples audit persistence from the in-memory override state.
// Append enqueues and returns immediately; a single writer goroutine retries
// failed writes with exponential backoff and escalates a persistent failure
// as an operational alert instead of dropping it silently.
type AsyncAudit struct {
	dst     override.AuditSink
	alerts  metrics.AlertRecorder
	log     logger.Logger
	ch      chan override.AuditEntry
	retries int
	backoff time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

// AsyncConfig tunes the async writer.
type AsyncConfig struct {
	QueueSize int `json:"queue_size"`
	Retries   int `json:"retries"`
	BackoffMS int `json:"backoff_ms"`
}

// SetDefaults fills in unset fields.
func (c *AsyncConfig) SetDefaults() {
	if c.QueueSize == 0 {
		c.QueueSize = 1024
	}
	if c.Retries == 0 {
		c.Retries = 5
	}
	if c.BackoffMS == 0 {
		c.BackoffMS = 100
	}
}

// NewAsyncAudit wraps dst and starts the writer goroutine. The alert
// recorder may be nil.
func NewAsyncAudit(cfg AsyncConfig, dst override.AuditSink, alerts metrics.AlertRecorder, log logger.Logger) *AsyncAudit {
	cfg.SetDefaults()
	if alerts == nil {
		alerts = metrics.NopSink{}
	}
	if log == nil {
		log = logger.New("audit")
	}
	a := &AsyncAudit{
		dst:     dst,
		alerts:  alerts,
		log:     log,
		ch:      make(chan override.AuditEntry, cfg.QueueSize),
		retries: cfg.Retries,
		backoff: time.Duration(cfg.BackoffMS) * time.Millisecond,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Append enqueues the entry. When the queue is full the write degrades to
// synchronous rather than losing an audit record.
func (a *AsyncAudit) Append(ctx context.Context, e override.AuditEntry) error {
	select {
	case a.ch <- e:
		return nil
	default:
		return a.write(e)
	}
}

// Close drains pending entries and stops the writer.
func (a *AsyncAudit) Close() {
	a.closeOnce.Do(func() { close(a.ch) })
	<-a.done
}

func (a *AsyncAudit) run() {
	defer close(a.done)
	for e := range a.ch {
		if err := a.write(e); err != nil {
			a.log.Errorf("audit write failed permanently: %v", err)
		}
	}
}

func (a *AsyncAudit) write(e override.AuditEntry) error {
	var err error
	for attempt := 0; attempt <= a.retries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = a.dst.Append(ctx, e)
		cancel()
		if err == nil {
			return nil
		}
		a.log.Warnf("audit append attempt %d: %v", attempt+1, err)
		time.Sleep(a.backoff * time.Duration(1<<attempt))
	}
	if rerr := a.alerts.RecordAlert(metrics.Alert{
		Component: "audit",
		Message:   "audit trail write failed after retries",
		Err:       err.Error(),
		Time:      time.Now(),
	}); rerr != nil {
		a.log.Errorf("record alert: %v", rerr)
	}
	return err
}
