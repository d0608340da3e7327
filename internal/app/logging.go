package app

import (
	"io"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/telemetry"
)

// ConfigureLogging настраивает глобальный logrus: LOG_FORMAT=json|text, LOG_LEVEL и trace hook.
func ConfigureLogging(lookup LookupFunc, out io.Writer) []string {
	env := newEnvReader(lookup)

	if out != nil {
		log.SetOutput(out)
	}

	switch strings.ToLower(env.str("LOG_FORMAT", "text")) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		env.warn("LOG_FORMAT must be json or text, using text")
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level := log.InfoLevel
	if raw := env.str("LOG_LEVEL", ""); raw != "" {
		parsed, err := log.ParseLevel(raw)
		if err != nil {
			env.warn("LOG_LEVEL=%q is not a logrus level, using info", raw)
		} else {
			level = parsed
		}
	}
	log.SetLevel(level)

	log.StandardLogger().ReplaceHooks(make(log.LevelHooks))
	log.AddHook(telemetry.TraceHook{})

	return env.warnings
}
