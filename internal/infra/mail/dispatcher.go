package mail

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/arklim/patient-portal-iam/internal/core/domain"
	"github.com/arklim/patient-portal-iam/internal/core/port"
	"github.com/arklim/patient-portal-iam/internal/infra/logger"
)

const (
	defaultQueueSize      = 256
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 500 * time.Millisecond
	maxBackoff            = 10 * time.Second
)

// ErrDispatcherClosed is reported when Send is called after Close.
var ErrDispatcherClosed = errors.New("mail dispatcher closed")

// DeliveryMetrics observes final delivery outcomes.
type DeliveryMetrics interface {
	ObserveMailDelivery(success bool)
}

// Options tunes the dispatcher.
type Options struct {
	From           string
	QueueSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	Metrics        DeliveryMetrics
}

// Dispatcher queues outbound mail and delivers it on a worker goroutine,
// retrying with exponential backoff. Failures are logged and never reach the
// sender.
type Dispatcher struct {
	transport Transport
	opts      Options
	logger    *zap.Logger

	queue  chan domain.EmailMessage
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewDispatcher(transport Transport, opts Options, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	return &Dispatcher{
		transport: transport,
		opts:      opts,
		logger:    logger,
		queue:     make(chan domain.EmailMessage, opts.QueueSize),
	}
}

// Start launches the worker. It stops when ctx is cancelled or Close is called.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.run(ctx)
}

// Send enqueues msg without blocking. A full queue drops the message.
func (d *Dispatcher) Send(_ context.Context, msg domain.EmailMessage) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("mail dropped", zap.String("to", logger.MaskEmail(msg.To)), zap.Error(ErrDispatcherClosed))
		return
	}
	select {
	case d.queue <- msg:
	default:
		d.logger.Error("mail queue full, message dropped",
			zap.String("to", logger.MaskEmail(msg.To)),
			zap.String("subject", msg.Subject),
		)
		d.observe(false)
	}
}

// Close stops accepting mail, drains the queue and waits for the worker.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case msg, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg domain.EmailMessage) {
	backoff := retry.NewExponential(d.opts.InitialBackoff)
	backoff = retry.WithCappedDuration(maxBackoff, backoff)
	backoff = retry.WithMaxRetries(uint64(d.opts.MaxAttempts-1), backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := d.transport.Deliver(ctx, d.opts.From, msg); err != nil {
			d.logger.Warn("mail delivery attempt failed",
				zap.Int("attempt", attempt),
				zap.String("to", logger.MaskEmail(msg.To)),
				zap.Error(err),
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		d.logger.Error("mail delivery failed",
			zap.Int("attempts", attempt),
			zap.String("to", logger.MaskEmail(msg.To)),
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
		d.observe(false)
		return
	}
	d.observe(true)
}

func (d *Dispatcher) observe(success bool) {
	if d.opts.Metrics != nil {
		d.opts.Metrics.ObserveMailDelivery(success)
	}
}

var _ port.Mailer = (*Dispatcher)(nil)
