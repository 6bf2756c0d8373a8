package gologger

import (
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type ctxKey string

const RunIDKey ctxKey = "runID"

func init() {
	l := NewLogger()
	zerolog.DefaultContextLogger = &l
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		function := ""
		fun := runtime.FuncForPC(pc)
		if fun != nil {
			funName := fun.Name()
			slash := strings.LastIndex(funName, "/")
			if slash > 0 {
				funName = funName[slash+1:]
			}
			function = " " + funName + "()"
		}
		return file + ":" + strconv.Itoa(line) + function
	}
}

func NewLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "time"

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	logger = logger.Hook(CallerHook{})

	if os.Getenv("PRETTY") == "1" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if os.Getenv("DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	return logger
}

// SetLevel applies a level name from config. An empty name leaves the level alone.
func SetLevel(level string) error {
	if level == "" || os.Getenv("DEBUG") == "1" {
		return nil
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(l)
	return nil
}

// WithRun returns a context carrying the run id and a logger that stamps it on every event.
func WithRun(ctx context.Context, runID string) context.Context {
	ctx = context.WithValue(ctx, RunIDKey, runID)
	l := zerolog.Ctx(ctx).With().Str("runID", runID).Logger()
	return l.WithContext(ctx)
}

func RunID(ctx context.Context) string {
	s, _ := ctx.Value(RunIDKey).(string)
	return s
}

// WithWorker adds the worker index to the context logger.
func WithWorker(ctx context.Context, worker int) context.Context {
	l := zerolog.Ctx(ctx).With().Int("worker", worker).Logger()
	return l.WithContext(ctx)
}

type CallerHook struct{}

func (h CallerHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	e.Caller(3)
}
