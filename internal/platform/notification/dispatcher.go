package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cardiocare/cardiocare/internal/platform/metrics"
)

var ErrDispatcherClosed = errors.New("notification dispatcher closed")

type message struct {
	ctx     context.Context
	to      string
	subject string
	body    string
}

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	Provider    string
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

// Dispatcher sends email asynchronously. Notify never blocks the caller
// and never returns a delivery error: failures are logged and counted.
type Dispatcher struct {
	sender    EmailSender
	templates *TemplateEngine
	provider  string
	timeout   time.Duration
	logger    zerolog.Logger
	metrics   *metrics.NotificationMetrics

	mu     sync.RWMutex
	closed bool
	queue  chan message
	wg     sync.WaitGroup
}

// NewDispatcher starts cfg.Workers goroutines draining a queue of
// cfg.QueueSize messages.
func NewDispatcher(sender EmailSender, templates *TemplateEngine, cfg DispatcherConfig, logger zerolog.Logger, m *metrics.NotificationMetrics) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if templates == nil {
		templates = NewTemplateEngine()
	}

	d := &Dispatcher{
		sender:    sender,
		templates: templates,
		provider:  cfg.Provider,
		timeout:   cfg.SendTimeout,
		logger:    logger.With().Str("component", "notification").Logger(),
		metrics:   m,
		queue:     make(chan message, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Notify enqueues an email. A full or closed queue drops it.
func (d *Dispatcher) Notify(ctx context.Context, to, subject, body string) {
	if to == "" {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.metrics.ObserveDropped()
		d.logger.Warn().Str("to", to).Str("subject", subject).Err(ErrDispatcherClosed).Msg("notification dropped")
		return
	}

	select {
	case d.queue <- message{ctx: context.WithoutCancel(ctx), to: to, subject: subject, body: body}:
		d.metrics.SetQueueDepth(len(d.queue))
	default:
		d.metrics.ObserveDropped()
		d.logger.Warn().Str("to", to).Str("subject", subject).Msg("notification queue full, dropping message")
	}
}

// NotifyTemplate renders templateID with data and enqueues the result.
func (d *Dispatcher) NotifyTemplate(ctx context.Context, to, templateID string, data map[string]string) {
	subject, body, err := d.templates.Render(templateID, data)
	if err != nil {
		d.logger.Error().Err(err).Str("template", templateID).Msg("render notification")
		return
	}
	d.Notify(ctx, to, subject, body)
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.metrics.SetQueueDepth(len(d.queue))
		d.send(msg)
	}
}

func (d *Dispatcher) send(msg message) {
	ctx, cancel := context.WithTimeout(msg.ctx, d.timeout)
	defer cancel()

	err := d.sender.SendEmail(ctx, msg.to, msg.subject, msg.body)
	d.metrics.ObserveSend(d.provider, err)
	if err != nil {
		d.logger.Error().Err(err).Str("provider", d.provider).Str("to", msg.to).Str("subject", msg.subject).Msg("send email failed")
		return
	}
	d.logger.Debug().Str("provider", d.provider).Str("to", msg.to).Msg("email sent")
}

// Close stops intake and waits for queued messages to be sent or for ctx
// to expire, whichever comes first.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.logger.Warn().Int("pending", len(d.queue)).Msg("notification drain interrupted")
		return ctx.Err()
	}
}
