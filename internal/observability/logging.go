package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/formrelay/formrelay/internal/sysutil"
)

// SetupLogging configures the global zerolog logger: level, RFC3339 UTC
// timestamps and the service name on every line. pretty switches to the
// human-readable console writer for local runs.
func SetupLogging(level string, pretty bool, serviceName string) zerolog.Logger {
	return setupLogging(os.Stderr, level, pretty, serviceName)
}

func setupLogging(w io.Writer, level string, pretty bool, serviceName string) zerolog.Logger {
	sysutil.SetLogLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }

	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Str("service", serviceName).Logger()
	zerolog.DefaultContextLogger = &log.Logger
	return log.Logger
}
