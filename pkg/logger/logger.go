package logx

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Level        string `envconfig:"LOG_LEVEL" default:"INFO"`
	DebugMode    bool   `envconfig:"DEBUG_MODE" default:"false"`
	PrettyFormat bool   `envconfig:"LOG_PRETTY" default:"false"`
}

var DefaultConfig = &Config{
	Level:        "INFO",
	DebugMode:    false,
	PrettyFormat: false,
}

func safe(opts ...Config) *Config {
	if len(opts) == 0 {
		return DefaultConfig
	}
	return &opts[0]
}

// ParseLevel maps the LOG_LEVEL vocabulary onto zerolog levels.
// Unknown values fall back to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARNING", "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "CRITICAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func Init(opts ...Config) {
	conf := safe(opts...)

	if conf.PrettyFormat {
		log.Logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	level := ParseLevel(conf.Level)
	if conf.DebugMode {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Logger.Level(level)

	log.Logger = log.Logger.With().Caller().Stack().Logger()
}
