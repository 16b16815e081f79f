package logging

import (
	"regexp"
	"sync"

	"github.com/pkg/errors"
)

// Registry tracks named loggers so that level patterns can be applied to loggers created before
// and after the configuration is loaded.
type Registry struct {
	mu        sync.RWMutex
	loggers   map[string]Logger
	logConfig []LoggerPatternConfig
}

var globalLoggerRegistry = newRegistry()

func newRegistry() *Registry {
	return &Registry{
		loggers: make(map[string]Logger),
	}
}

// register adds the logger to the global registry and applies any matching pattern. Unnamed
// loggers are not tracked.
func register(logger Logger) Logger {
	if logger.Name() == "" {
		return logger
	}
	return globalLoggerRegistry.getOrRegister(logger.Name(), logger)
}

// UpdateLoggerLevels applies the level patterns to every registered logger. Loggers matched by
// no pattern are reset to INFO. Invalid patterns are reported to `errorLogger` and skipped.
func UpdateLoggerLevels(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	return globalLoggerRegistry.UpdateConfig(logConfig, errorLogger)
}

func (lr *Registry) updateLoggerLevelWithCfg(name string) error {
	for _, lpc := range lr.logConfig {
		r, err := regexp.Compile(buildRegexFromPattern(lpc.Pattern))
		if err != nil {
			return err
		}
		if r.MatchString(name) {
			logger, ok := lr.loggers[name]
			if !ok {
				return errors.Errorf("logger named %s not recognized", name)
			}
			level, err := LevelFromString(lpc.Level)
			if err != nil {
				return err
			}
			logger.SetLevel(level)
		}
	}

	return nil
}

// UpdateConfig stores the patterns and applies them to the registered loggers.
func (lr *Registry) UpdateConfig(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	lr.mu.Lock()
	lr.logConfig = logConfig
	lr.mu.Unlock()

	appliedConfigs := make(map[string]Level)
	for _, lpc := range logConfig {
		if !validatePattern(lpc.Pattern) {
			errorLogger.Warnw("failed to validate a pattern", "pattern", lpc.Pattern)
			continue
		}

		r, err := regexp.Compile(buildRegexFromPattern(lpc.Pattern))
		if err != nil {
			return err
		}

		level, err := LevelFromString(lpc.Level)
		if err != nil {
			return err
		}
		for _, name := range lr.registeredLoggerNames() {
			if r.MatchString(name) {
				appliedConfigs[name] = level
			}
		}
	}

	lr.mu.RLock()
	defer lr.mu.RUnlock()
	for name, logger := range lr.loggers {
		level, ok := appliedConfigs[name]
		if !ok {
			level = INFO
		}
		logger.SetLevel(level)
	}

	return nil
}

func (lr *Registry) registeredLoggerNames() []string {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	registeredNames := make([]string, 0, len(lr.loggers))
	for name := range lr.loggers {
		registeredNames = append(registeredNames, name)
	}
	return registeredNames
}

// getOrRegister will either:
//   - return an existing logger for the input logger `name` or
//   - register the input `logger` for the given logger `name` and configure it based on the
//     existing patterns.
//
// Such that if concurrent callers try registering the same logger, the "winner"s logger will be
// registered and all losers will return the winning logger.
func (lr *Registry) getOrRegister(name string, logger Logger) Logger {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if existingLogger, ok := lr.loggers[name]; ok {
		return existingLogger
	}

	lr.loggers[name] = logger
	//nolint:errcheck
	lr.updateLoggerLevelWithCfg(name)
	return logger
}
