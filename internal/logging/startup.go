package logging

import (
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartupLogger collects the identity, configuration and feature flags of
// one image-edit front end, then emits a single structured event
// describing how the process was configured.
type StartupLogger struct {
	name         string
	version      string
	initDuration time.Duration

	services map[string]string
	features map[string]bool
	config   map[string]string
}

// NewStartupLogger creates a StartupLogger for the given front end
// (e.g. "repl", "serve", "mcp").
func NewStartupLogger(name string) *StartupLogger {
	return &StartupLogger{
		name:     name,
		services: make(map[string]string),
		features: make(map[string]bool),
		config:   make(map[string]string),
	}
}

// Version sets the build version.
func (s *StartupLogger) Version(v string) *StartupLogger {
	s.version = v
	return s
}

// Service registers an external dependency, such as the edit model or the
// download bucket.
func (s *StartupLogger) Service(label, name string) *StartupLogger {
	if name != "" {
		s.services[label] = name
	}
	return s
}

// Feature registers a boolean feature flag.
func (s *StartupLogger) Feature(name string, enabled bool) *StartupLogger {
	s.features[name] = enabled
	return s
}

// Config registers a non-sensitive configuration key-value pair.
// Never pass the API key.
func (s *StartupLogger) Config(key, value string) *StartupLogger {
	s.config[key] = value
	return s
}

// InitDuration records how long startup took.
func (s *StartupLogger) InitDuration(d time.Duration) *StartupLogger {
	s.initDuration = d
	return s
}

// Log emits a single structured INFO event with everything collected.
func (s *StartupLogger) Log() {
	evt := log.Info().Dict("process", zerolog.Dict().
		Str("name", s.name).
		Str("version", s.version).
		Str("goVersion", runtime.Version()).
		Str("os", runtime.GOOS).
		Str("arch", runtime.GOARCH))

	if len(s.services) > 0 {
		evt = evt.Dict("services", strDict(s.services))
	}
	if len(s.features) > 0 {
		d := zerolog.Dict()
		for k, v := range s.features {
			d = d.Bool(k, v)
		}
		evt = evt.Dict("features", d)
	}
	if len(s.config) > 0 {
		evt = evt.Dict("config", strDict(s.config))
	}
	if s.initDuration > 0 {
		evt = evt.Dur("initDuration", s.initDuration)
	}

	evt.Msg("Startup configuration")
}

func strDict(m map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for k, v := range m {
		d = d.Str(k, v)
	}
	return d
}
