// Package info implements the two log-line formats of SPEC_FULL.md §6: a
// legacy "PID:ROLECHAR TIMESTAMP LEVELCHAR MESSAGE" line and a logfmt
// "pid=... role=... level=... msg=..." line, both behind a single Logger
// so callers never format a log line themselves.
//
// The shape is one logrus instance per Logger with a swappable
// logrus.Formatter selected by a small enum, rather than callers building
// strings by hand with log.Printf("[component] ...", ...).
package info

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logfmt/logfmt"
	"github.com/sirupsen/logrus"
)

// Format selects which log-line shape NewLogger renders, a construction-time
// option rather than a runtime config-file directive (SPEC_FULL.md §6:
// "parsing config files is out of scope").
type Format int

const (
	// LegacyFormat renders "PID:ROLECHAR DD Mon YYYY HH:MM:SS.mmm LEVELCHAR msg".
	LegacyFormat Format = iota
	// LogfmtFormat renders "pid=... role=... level=... msg=...".
	LogfmtFormat
)

// defaultRoleChar is one of the single-letter role markers of the legacy format:
// 'M' for the main/standalone process, 'C' for a child persistence process,
// 'S'/'R' if a role-switching primary/replica subsystem existed (it does
// not, in this tree — every process logs as 'M').
const defaultRoleChar = 'M'

// Logger wraps a *logrus.Logger pre-configured with one of the two
// formatters, plus the role character both formats need.
type Logger struct {
	*logrus.Logger
	role byte
}

// NewLogger builds a Logger writing to out (os.Stdout if nil) in the given
// format, tagged with role (defaultRoleChar if zero).
func NewLogger(format Format, role byte, out io.Writer) *Logger {
	if role == 0 {
		role = defaultRoleChar
	}
	if out == nil {
		out = os.Stdout
	}

	base := logrus.New()
	base.SetOutput(out)
	base.SetLevel(logrus.InfoLevel)

	switch format {
	case LogfmtFormat:
		base.SetFormatter(&logfmtFormatter{role: role})
	default:
		base.SetFormatter(&legacyFormatter{role: role})
	}

	return &Logger{Logger: base, role: role}
}

// legacyFormatter renders the classic single-line "PID:ROLECHAR TIMESTAMP
// LEVELCHAR MESSAGE" form (SPEC_FULL.md §6).
type legacyFormatter struct {
	role byte
}

func (f *legacyFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d:%c ", os.Getpid(), f.role)
	sb.WriteString(e.Time.Format("02 Jan 2006 15:04:05.000"))
	sb.WriteByte(' ')
	sb.WriteByte(levelChar(e.Level))
	sb.WriteByte(' ')
	sb.WriteString(e.Message)
	for k, v := range e.Data {
		fmt.Fprintf(&sb, " %s=%v", k, v)
	}
	sb.WriteByte('\n')
	return []byte(sb.String()), nil
}

// logfmtFormatter wraps go-logfmt/logfmt for the "pid=... role=..." form.
type logfmtFormatter struct {
	role byte
}

func (f *logfmtFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var sb strings.Builder
	enc := logfmt.NewEncoder(&sb)

	_ = enc.EncodeKeyval("time", e.Time.Format("2006-01-02T15:04:05.000Z07:00"))
	_ = enc.EncodeKeyval("pid", os.Getpid())
	_ = enc.EncodeKeyval("role", string(f.role))
	_ = enc.EncodeKeyval("level", e.Level.String())
	_ = enc.EncodeKeyval("msg", e.Message)
	for k, v := range e.Data {
		_ = enc.EncodeKeyval(k, v)
	}
	_ = enc.EndRecord()

	return []byte(sb.String()), nil
}

func levelChar(lvl logrus.Level) byte {
	switch lvl {
	case logrus.DebugLevel, logrus.TraceLevel:
		return '.'
	case logrus.WarnLevel:
		return '-'
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return '#'
	default:
		return '*'
	}
}
