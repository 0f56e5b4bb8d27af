package logger

import "github.com/rs/zerolog"

// Zerolog adapts a zerolog.Logger to the Logger interface. This is the
// batteries-included backend; sawpanic-cryptorun (one of this module's
// reference repos) carries zerolog for exactly this kind of structured,
// leveled logging.
type Zerolog struct {
	log   zerolog.Logger
	level Level
}

// NewZerolog wraps log, logging at up to level (anything more verbose is
// dropped before it reaches zerolog).
func NewZerolog(log zerolog.Logger, level Level) *Zerolog {
	return &Zerolog{log: log, level: level}
}

func (z *Zerolog) Level() Level { return z.level }

func (z *Zerolog) Log(level Level, msg string, keyvals ...any) {
	if level > z.level {
		return
	}

	var ev *zerolog.Event
	switch level {
	case LevelError:
		ev = z.log.Error()
	case LevelWarn:
		ev = z.log.Warn()
	case LevelInfo:
		ev = z.log.Info()
	default:
		ev = z.log.Debug()
	}

	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, keyvals[i+1])
	}
	ev.Msg(msg)
}
