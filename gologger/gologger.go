package gologger

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type ctxKey string

const ReqIDKey ctxKey = "reqID"

func init() {
	l := NewLogger()
	zerolog.DefaultContextLogger = &l
	zerolog.CallerMarshalFunc = shortCaller
}

// shortCaller renders file:line followed by the package local function name
func shortCaller(pc uintptr, file string, line int) string {
	caller := file + ":" + strconv.Itoa(line)
	fun := runtime.FuncForPC(pc)
	if fun == nil {
		return caller
	}
	name := fun.Name()
	if slash := strings.LastIndex(name, "/"); slash > 0 {
		name = name[slash+1:]
	}
	return caller + " " + name + "()"
}

// NewLogger writes JSON to stdout. PRETTY=1 switches to console output on
// stderr, DEBUG=1 or LOG_LEVEL set the global level.
func NewLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "time"

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger().Hook(CallerHook{})
	if os.Getenv("PRETTY") == "1" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && os.Getenv("LOG_LEVEL") != "" {
		zerolog.SetGlobalLevel(lvl)
	}
	if os.Getenv("DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	return logger
}

// PartLogger is the diagnostic sink handed to a part writer. Every event it
// emits is tagged with the table and the part under construction.
func PartLogger(base zerolog.Logger, table, partName string) zerolog.Logger {
	return base.With().Str("table", table).Str("part", partName).Logger()
}

type CallerHook struct{}

func (h CallerHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	e.Caller(3)
}
