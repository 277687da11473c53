package slog

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/gookit/color"
)

var l = GetStd()

func GetStd() (ll *Log) {
	ll, _ = New(os.Stderr)
	return
}

func init() {
	SetLogLevel(ParseLevel(os.Getenv("GODEBUG")))
	l.D.Ln("printing logs at this level and lower")
}

const (
	Off = iota
	Fatal
	Error
	Warn
	Info
	Debug
	Trace
)

type (
	// Ln prints lists of interfaces with spaces in between
	Ln func(a ...interface{})
	// F prints like fmt.Println surrounded by log details
	F func(format string, a ...interface{})
	// S prints a spew.Sdump for an interface slice
	S func(a ...interface{})
	// C accepts a function so that the extra computation can be avoided if it is
	// not being viewed
	C func(closure func() string)
	// Chk is a shortcut for printing if there is an error, or returning true
	Chk func(e error) bool
	// Err is a pass-through function that uses fmt.Errorf to construct an error
	// and returns the error after printing it to the log
	Err func(format string, a ...interface{}) error
	// LevelPrinter defines a set of terminal printing primitives that output
	// with the level tag and code location.
	LevelPrinter struct {
		Ln
		F
		S
		C
		Chk
		Err
	}
	LevelSpec struct {
		ID        int
		Name      string
		Colorizer func(a ...interface{}) string
	}
)

var (
	currentLevel atomic.Int32
	// LevelSpecs specifies the id, string name and color-printing function
	LevelSpecs = []LevelSpec{
		{Off, "   ", color.Bit24(0, 0, 0, false).Sprint},
		{Fatal, "FTL", color.Bit24(128, 0, 0, false).Sprint},
		{Error, "ERR", color.Bit24(255, 0, 0, false).Sprint},
		{Warn, "WRN", color.Bit24(0, 255, 0, false).Sprint},
		{Info, "INF", color.Bit24(255, 255, 0, false).Sprint},
		{Debug, "DBG", color.Bit24(0, 125, 255, false).Sprint},
		{Trace, "TRC", color.Bit24(125, 0, 255, false).Sprint},
	}
)

// Log is a set of log printers for the various Level items.
type Log struct {
	F, E, W, I, D, T LevelPrinter
}

type Check struct {
	F, E, W, I, D, T Chk
}

func JoinStrings(a ...any) (s string) {
	for i := range a {
		s += fmt.Sprint(a[i])
		if i < len(a)-1 {
			s += " "
		}
	}
	return
}

// GetPrinter returns the printers for one level. Nothing is written when the
// current log level is below l, but Chk still reports whether e was non-nil
// and Err still returns the error.
func GetPrinter(l int32, writer io.Writer) LevelPrinter {
	print := func(text string) {
		if l > currentLevel.Load() {
			return
		}
		fmt.Fprintf(writer,
			"%s %s %s %s\n",
			UnixNanoAsFloat(),
			LevelSpecs[l].Colorizer(LevelSpecs[l].Name),
			text,
			GetLoc(3),
		)
	}
	return LevelPrinter{
		Ln: func(a ...interface{}) { print(JoinStrings(a...)) },
		F: func(format string, a ...interface{}) {
			print(fmt.Sprintf(format, a...))
		},
		S: func(a ...interface{}) {
			if l > currentLevel.Load() {
				return
			}
			print(spew.Sdump(a...))
		},
		C: func(closure func() string) {
			if l > currentLevel.Load() {
				return
			}
			print(closure())
		},
		Chk: func(e error) bool {
			if e != nil {
				print(e.Error())
				return true
			}
			return false
		},
		Err: func(format string, a ...interface{}) error {
			err := fmt.Errorf(format, a...)
			print(err.Error())
			return err
		},
	}
}

func New(writer io.Writer) (l *Log, c *Check) {
	l = &Log{
		F: GetPrinter(Fatal, writer),
		E: GetPrinter(Error, writer),
		W: GetPrinter(Warn, writer),
		I: GetPrinter(Info, writer),
		D: GetPrinter(Debug, writer),
		T: GetPrinter(Trace, writer),
	}
	c = &Check{
		F: l.F.Chk,
		E: l.E.Chk,
		W: l.W.Chk,
		I: l.I.Chk,
		D: l.D.Chk,
		T: l.T.Chk,
	}
	return
}

// ParseLevel reads a level name, which can be truncated down to its first
// letter. Unknown or empty names give Info.
func ParseLevel(s string) int {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "1", "true", "on":
		return Debug
	case "0", "false":
		return Off
	}
	if s == "" {
		return Info
	}
	for i := range LevelSpecs {
		name := strings.ToLower(levelNames[i])
		if strings.HasPrefix(name, s) {
			return LevelSpecs[i].ID
		}
	}
	return Info
}

var levelNames = []string{"off", "fatal", "error", "warn", "info", "debug", "trace"}

func SetLogLevel(l int) {
	if l < Off {
		l = Off
	}
	if l > Trace {
		l = Trace
	}
	currentLevel.Store(int32(l))
}

func GetLogLevel() (l int) {
	return int(currentLevel.Load())
}

// UnixNanoAsFloat renders the current time as seconds with a nanosecond
// fraction.
func UnixNanoAsFloat() (s string) {
	timeText := fmt.Sprint(time.Now().UnixNano())
	lt := len(timeText)
	lb := lt + 1
	var timeBytes = make([]byte, lb)
	copy(timeBytes[lb-9:lb], timeText[lt-9:lt])
	timeBytes[lb-10] = '.'
	lb -= 10
	lt -= 9
	copy(timeBytes[:lb], timeText[:lt])
	return string(timeBytes)
}

func GetLoc(skip int) (output string) {
	_, file, line, _ := runtime.Caller(skip)
	output = color.Bit24(0, 128, 255, false).Sprint(
		file, ":", line,
	)
	return
}
