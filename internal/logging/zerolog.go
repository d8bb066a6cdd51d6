package logging

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

type ZerologLogger struct {
	l zerolog.Logger
}

func NewZerologLogger(l zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{l: l}
}

func (z *ZerologLogger) Debug(ctx context.Context, msg string, args ...any) {
	z.emit(z.l.Debug(), ctx, msg, args)
}

func (z *ZerologLogger) Info(ctx context.Context, msg string, args ...any) {
	z.emit(z.l.Info(), ctx, msg, args)
}

func (z *ZerologLogger) Warn(ctx context.Context, msg string, args ...any) {
	z.emit(z.l.Warn(), ctx, msg, args)
}

func (z *ZerologLogger) Error(ctx context.Context, msg string, args ...any) {
	z.emit(z.l.Error(), ctx, msg, args)
}

func (z *ZerologLogger) With(args ...any) Logger {
	c := z.l.With()
	for i := 0; i < len(args); i += 2 {
		c = c.Interface(key(args, i), value(args, i))
	}
	return &ZerologLogger{l: c.Logger()}
}

func (z *ZerologLogger) emit(e *zerolog.Event, ctx context.Context, msg string, args []any) {
	if e == nil {
		return
	}
	e = e.Ctx(ctx)
	args = withContextArgs(ctx, args)
	for i := 0; i < len(args); i += 2 {
		if err, ok := value(args, i).(error); ok {
			e = e.AnErr(key(args, i), err)
			continue
		}
		e = e.Interface(key(args, i), value(args, i))
	}
	e.Msg(msg)
}

// key mirrors slog's handling of odd argument lists: a dangling value is
// logged under "!BADKEY".
func key(args []any, i int) string {
	if i+1 >= len(args) {
		return "!BADKEY"
	}
	if s, ok := args[i].(string); ok {
		return s
	}
	return fmt.Sprint(args[i])
}

func value(args []any, i int) any {
	if i+1 >= len(args) {
		return args[i]
	}
	return args[i+1]
}
