package diagnostics

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type Severity string

const (
	Info Severity = "info"
	Warn Severity = "warning"
	Err  Severity = "error"
)

type Diagnostic struct {
	Time           time.Time      `json:"time"`
	Severity       Severity       `json:"severity"`
	Code           string         `json:"code"`
	Summary        string         `json:"summary"`
	Detail         string         `json:"detail,omitempty"`
	LikelyCauses   []string       `json:"likely_causes,omitempty"`
	SuggestedFixes []string       `json:"suggested_fixes,omitempty"`
	Evidence       map[string]any `json:"evidence,omitempty"`
}

// FromError reports a failed command or self test.
func FromError(code string, err error) Diagnostic {
	return Diagnostic{Severity: Err, Code: code, Summary: "Command failed", Detail: err.Error()}
}

// BusFault is raised when the PWM controller stops answering.
func BusFault(err error) Diagnostic {
	return Diagnostic{
		Severity: Err,
		Code:     "I2C.FAULT",
		Summary:  "PWM controller not responding",
		Detail:   err.Error(),
		LikelyCauses: []string{
			"controller not powered",
			"wrong I2C address",
			"loose SDA/SCL wiring",
		},
		SuggestedFixes: []string{
			"check the board supply",
			"run i2cdetect and set pca9685.addr",
		},
	}
}

// Log keeps the most recent diagnostics and fans new ones out to
// subscribers.
type Log struct {
	clk  clock.Clock
	size int

	mu   sync.Mutex
	buf  []Diagnostic
	subs map[chan Diagnostic]struct{}
}

// NewLog keeps up to size entries.
func NewLog(size int, clk clock.Clock) *Log {
	if clk == nil {
		clk = clock.New()
	}
	if size < 1 {
		size = 1
	}
	return &Log{clk: clk, size: size, subs: map[chan Diagnostic]struct{}{}}
}

// Push stamps d and delivers it. Subscribers that are not keeping up miss it.
func (l *Log) Push(d Diagnostic) {
	if d.Time.IsZero() {
		d.Time = l.clk.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = append(l.buf, d)
	if len(l.buf) > l.size {
		l.buf = l.buf[len(l.buf)-l.size:]
	}
	for c := range l.subs {
		select {
		case c <- d:
		default:
		}
	}
}

// Recent returns the kept entries, oldest first.
func (l *Log) Recent() []Diagnostic {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Diagnostic(nil), l.buf...)
}

// Subscribe returns a channel receiving every later Push, and a function to
// cancel it.
func (l *Log) Subscribe() (<-chan Diagnostic, func()) {
	c := make(chan Diagnostic, 16)
	l.mu.Lock()
	l.subs[c] = struct{}{}
	l.mu.Unlock()
	return c, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, ok := l.subs[c]; ok {
			delete(l.subs, c)
			close(c)
		}
	}
}
