package logging

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// LoggerPatternConfig is an instance of a level specification for a given logger.
type LoggerPatternConfig struct {
	Pattern string `json:"pattern"`
	Level   string `json:"level"`
}

const (
	// e.g. "foo".
	validLoggerSectionName = `[a-zA-Z0-9]+([_-]*[a-zA-Z0-9]+)*`
	// e.g. "foo" or "*".
	validLoggerSectionNameWithWildcard = `(` + validLoggerSectionName + `|\*)`
	// e.g. "foo.*.foo".
	validLoggerSectionsWithWildcard = validLoggerSectionNameWithWildcard + `(\.` + validLoggerSectionNameWithWildcard + `)*`
	// Restricts above regex to be the entire pattern.
	validLoggerName = `^` + validLoggerSectionsWithWildcard + `$`
)

var loggerPatternRegexp = regexp.MustCompile(validLoggerName)

// Validate checks that the pattern is well formed and the level parses.
func (cfg LoggerPatternConfig) Validate() error {
	if !loggerPatternRegexp.MatchString(cfg.Pattern) {
		return errors.Errorf("invalid logger pattern %q", cfg.Pattern)
	}
	if _, err := LevelFromString(cfg.Level); err != nil {
		return err
	}
	return nil
}

func buildRegexFromPattern(pattern string) string {
	var matcher strings.Builder
	matcher.WriteRune('^')
	for _, ch := range pattern {
		switch ch {
		case '*':
			matcher.WriteString(`.*`)
		case '.':
			matcher.WriteString(`\.`)
		default:
			matcher.WriteRune(ch)
		}
	}
	matcher.WriteRune('$')
	return matcher.String()
}

// ApplyPatterns sets the level of the logger from the last pattern matching its name. Invalid
// patterns are skipped. It reports whether any pattern matched.
func ApplyPatterns(logger Logger, patterns []LoggerPatternConfig) bool {
	matched := false
	for _, cfg := range patterns {
		if cfg.Validate() != nil {
			continue
		}
		re, err := regexp.Compile(buildRegexFromPattern(cfg.Pattern))
		if err != nil || !re.MatchString(logger.Name()) {
			continue
		}
		level, err := LevelFromString(cfg.Level)
		if err != nil {
			continue
		}
		logger.SetLevel(level)
		matched = true
	}
	return matched
}
