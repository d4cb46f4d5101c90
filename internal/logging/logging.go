package logging

import (
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// New creates a logger writing to out. Format is "text" or "json".
func New(level, format string, out io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(lvl)
	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	return log, nil
}

// Discard returns a logger that drops everything
func Discard() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// OrDiscard returns log, or a discarding logger when log is nil
func OrDiscard(log logrus.FieldLogger) logrus.FieldLogger {
	if log == nil {
		return Discard()
	}
	return log
}

// Sanitize makes a user-supplied string safe to log by escaping control characters
func Sanitize(s string) string {
	if s == "" {
		return ""
	}

	var result strings.Builder
	result.Grow(len(s))

	for _, r := range s {
		switch {
		case r == '\n':
			result.WriteString("\\n")
		case r == '\r':
			result.WriteString("\\r")
		case r == '\t':
			result.WriteString("\\t")
		case unicode.IsControl(r):
			result.WriteString("?")
		case unicode.IsPrint(r):
			result.WriteRune(r)
		default:
			result.WriteString("?")
		}
	}

	const maxLength = 256
	if result.Len() > maxLength {
		out := result.String()
		cut := maxLength
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		return out[:cut] + "...[truncated]"
	}
	return result.String()
}
