package helpers

import (
	"fmt"

	"github.com/go-kit/kit/log"
	"github.com/rs/zerolog"
)

type zerologGokitLogger func(keyvalues ...interface{})

func (l zerologGokitLogger) Log(kv ...interface{}) error {
	l(kv...)
	return nil
}

// WrapDebug adapts a zerolog logger to the go-kit log interface used by the
// metrics backends. Everything is logged on debug level.
func WrapDebug(logger zerolog.Logger) log.Logger {
	return zerologGokitLogger(func(keyvalues ...interface{}) {
		l := logger.Debug().Str("service", "metrics")
		for i := 0; i+1 < len(keyvalues); i += 2 {
			l = l.Interface(fmt.Sprintf("%v", keyvalues[i]), keyvalues[i+1])
		}
		if len(keyvalues)%2 == 1 {
			l = l.Interface("extra", keyvalues[len(keyvalues)-1])
		}
		l.Msg("")
	})
}
