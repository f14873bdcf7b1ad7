// Package dblog is a small structured-logging facade used across the
// storage and concurrency core for one-line operational events: B+ tree
// structure modifications, lock grants and aborts, deadlock victim
// selection. No structured-logging
// library appears anywhere in the retrieved reference pack, so this stays
// a thin wrapper over the standard library's log package rather than
// reaching for an external one (see DESIGN.md).
package dblog

import (
	"fmt"
	"log"
	"os"
	"sync"
)

// Level orders log severities from most to least verbose.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger emits leveled, component-tagged lines through a shared
// *log.Logger, filtering anything below its configured minimum level.
type Logger struct {
	mu        sync.Mutex
	component string
	poolID    string
	min       Level
	out       *log.Logger
}

// New returns a Logger tagged with component, writing to stderr.
func New(component string) *Logger {
	return &Logger{
		component: component,
		min:       LevelInfo,
		out:       log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
	}
}

// WithPool returns a derived Logger that stamps every emitted line with
// poolID, the correlation id disambiguating which pool instance a line
// came from when more than one runs in the same
// process (see common.Config.PoolID).
func (l *Logger) WithPool(poolID string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{component: l.component, poolID: poolID, min: l.min, out: l.out}
}

// SetLevel changes the minimum level this logger emits.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.min = level
}

func (l *Logger) log(level Level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.min {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.poolID != "" {
		l.out.Printf("[%s] %s pool=%s: %s", level, l.component, l.poolID, msg)
		return
	}
	l.out.Printf("[%s] %s: %s", level, l.component, msg)
}

func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, format, args...) }
