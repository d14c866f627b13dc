package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"wisdombot/internal/transport"
	logx "wisdombot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, up transport.Update) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func WithTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, up transport.Update) error {
			if d <= 0 {
				return next(ctx, up)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, up)
		}
	}
}

func Recover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, up transport.Update) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered",
						logx.String("kind", string(up.Kind)),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, up)
		}
	}
}

func RequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, up transport.Update) error {
			start := time.Now()
			err := next(ctx, up)
			d := time.Since(start)

			fields := append(updateFields(up), logx.Duration("dur", d))
			switch {
			case err != nil:
				log.Warn("update failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				log.Info("update handled (slow)", fields...)
			default:
				log.Debug("update handled", fields...)
			}
			return err
		}
	}
}

func updateFields(up transport.Update) []logx.Field {
	fields := []logx.Field{logx.String("kind", string(up.Kind))}
	switch {
	case up.Joined != nil:
		fields = append(fields,
			logx.Int64("chat_id", int64(up.Joined.GroupID)),
			logx.Int("members", len(up.Joined.Members)),
		)
	case up.Action != nil:
		fields = append(fields,
			logx.Int64("chat_id", int64(up.Action.ChatID)),
			logx.Int64("from_id", int64(up.Action.From.ID)),
		)
	case up.Command != nil:
		fields = append(fields,
			logx.Int64("chat_id", int64(up.Command.ChatID)),
			logx.Int64("from_id", int64(up.Command.From.ID)),
			logx.String("cmd", up.Command.Name),
		)
	}
	return fields
}
