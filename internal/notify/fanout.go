// Package notify delivers order notifications after the business
// transaction has committed. Delivery is best effort: a failing channel is
// logged and never reported back to the caller.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Message is one notification for one recipient. Title and Body are the
// short in-app text; channels that render richer content use TemplateKey
// and Data.
type Message struct {
	RecipientID    int64
	RecipientEmail string
	RecipientName  string
	Title          string
	Body           string
	TemplateKey    string
	Data           map[string]any
	OrderID        int64
}

// BuildFunc produces the message on the fan-out's own goroutine, so lookups
// it needs (recipients, template data) stay off the caller's path.
type BuildFunc func(ctx context.Context) (Message, error)

// Notifier is what the order workflow depends on.
type Notifier interface {
	Notify(ctx context.Context, build BuildFunc)
}

// Static wraps an already built message.
func Static(msg Message) BuildFunc {
	return func(context.Context) (Message, error) { return msg, nil }
}

type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

type Options struct {
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
}

func DefaultOptions() Options {
	return Options{
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
	}
}

// Fanout sends every message to each channel on its own goroutine.
type Fanout struct {
	channels []Channel
	opts     Options
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func NewFanout(logger *zap.Logger, opts Options, channels ...Channel) *Fanout {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultOptions().InitialBackoff
	}
	return &Fanout{
		channels: channels,
		opts:     opts,
		logger:   logger.With(zap.String("component", "notify")),
	}
}

// Notify returns immediately. Building and delivery outlive ctx's
// cancellation but keep its values, so trace context still reaches the
// channels. Build gets its own Options.Timeout budget.
func (f *Fanout) Notify(ctx context.Context, build BuildFunc) {
	f.wg.Add(1)
	go f.dispatch(context.WithoutCancel(ctx), build)
}

func (f *Fanout) dispatch(ctx context.Context, build BuildFunc) {
	defer f.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Notification build panicked", zap.Any("panic", r))
		}
	}()

	buildCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	msg, err := build(buildCtx)
	cancel()
	if err != nil {
		f.logger.Warn("Skipping notification", zap.Error(err))
		return
	}

	for _, ch := range f.channels {
		f.wg.Add(1)
		go f.deliver(ctx, ch, msg)
	}
}

func (f *Fanout) deliver(ctx context.Context, ch Channel, msg Message) {
	defer f.wg.Done()

	log := f.logger.With(
		zap.String("channel", ch.Name()),
		zap.Int64("recipient_id", msg.RecipientID),
		zap.Int64("order_id", msg.OrderID),
		zap.String("template", msg.TemplateKey),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Notification channel panicked", zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.opts.InitialBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.opts.MaxRetries)), ctx)

	err := backoff.RetryNotify(func() error {
		return ch.Send(ctx, msg)
	}, policy, func(err error, wait time.Duration) {
		log.Warn("Notification delivery failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	})
	if err != nil {
		log.Error("Notification delivery failed", zap.Error(err))
		return
	}

	log.Debug("Notification delivered")
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (f *Fanout) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for notifications: %w", ctx.Err())
	}
}
