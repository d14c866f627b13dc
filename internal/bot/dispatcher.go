package bot

import (
	"context"
	"runtime"
	"strconv"
	"time"

	rtsup "wisdombot/internal/runtime/supervisor"
	"wisdombot/internal/transport"
	logx "wisdombot/pkg/logx"
)

// Dispatcher feeds updates to a bounded worker pool. Updates are handled
// concurrently; a slow handler (say, a join waiting on Telegram) does not
// hold up button presses behind it.
type Dispatcher struct {
	log     logx.Logger
	handle  HandlerFunc
	workers int
	queue   int
}

func NewDispatcher(h HandlerFunc, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		log:     log,
		handle:  h,
		workers: max(runtime.NumCPU(), 4),
		queue:   256,
	}
}

// Run consumes updates until ctx is done or the channel closes. After a
// close, updates already queued are still handled (bounded wait).
func (d *Dispatcher) Run(ctx context.Context, updates <-chan transport.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(d.log.With(logx.String("comp", "bot.dispatcher"))))
	jobs := make(chan transport.Update, d.queue)

	for i := range d.workers {
		sup.GoRestart("bot.worker."+strconv.Itoa(i), func(ctx context.Context) error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case up, ok := <-jobs:
					if !ok {
						return nil
					}
					_ = d.handle(ctx, up)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	d.log.Info("dispatcher started", logx.Int("workers", d.workers), logx.Int("queue_cap", d.queue))

	defer func() {
		close(jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = sup.Wait(wctx)
		sup.Cancel()
		d.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case jobs <- up:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
