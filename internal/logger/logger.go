package logger

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	zlog "github.com/rs/zerolog/log"
)

// New builds a zerolog logger. format is "json" or "console".
func New(w io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	if format == "json" {
		return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger().Level(lvl)
}

// Init builds a stdout logger and installs it as the global logger.
func Init(level, format string) zerolog.Logger {
	l := New(os.Stdout, level, format)
	zlog.Logger = l
	return l
}

// Middleware attaches l to every request context and writes one access log
// line per request, tagged with the chi request id.
func Middleware(l zerolog.Logger) func(http.Handler) http.Handler {
	access := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})
	return func(next http.Handler) http.Handler {
		withID := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := middleware.GetReqID(r.Context()); id != "" {
				ctxLogger := zerolog.Ctx(r.Context()).With().Str("request_id", id).Logger()
				r = r.WithContext(ctxLogger.WithContext(r.Context()))
			}
			next.ServeHTTP(w, r)
		})
		return hlog.NewHandler(l)(access(withID))
	}
}
