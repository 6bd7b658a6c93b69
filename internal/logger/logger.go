package logger

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// Fields carries structured context for a log entry.
type Fields map[string]any

// Logger is the structured logging contract used by the service, the stores
// and the HTTP layer. Components depend on this interface only.
type Logger interface {
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, err error, fields Fields)
}

type entry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Fields    Fields `json:"fields,omitempty"`
	Error     string `json:"error,omitempty"`
}

var levels = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
}

// JSONLogger writes one JSON object per line.
type JSONLogger struct {
	out   *log.Logger
	level int
}

// New builds a JSONLogger writing to w. Unknown levels fall back to info.
func New(level string, w io.Writer) *JSONLogger {
	if w == nil {
		w = os.Stdout
	}
	current, ok := levels[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		current = levels["info"]
	}
	return &JSONLogger{out: log.New(w, "", 0), level: current}
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *JSONLogger {
	return New("error", io.Discard)
}

func (l *JSONLogger) write(level string, msg string, fields Fields, err error) {
	if levels[level] < l.level {
		return
	}

	e := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     strings.ToUpper(level),
		Message:   msg,
		Fields:    fields,
	}
	if err != nil {
		e.Error = err.Error()
	}

	payload, mErr := json.Marshal(e)
	if mErr != nil {
		l.out.Printf(`{"level":"ERROR","message":"log marshal failed","error":%q}`, mErr.Error())
		return
	}
	l.out.Println(string(payload))
}

func (l *JSONLogger) Debug(msg string, fields Fields) { l.write("debug", msg, fields, nil) }
func (l *JSONLogger) Info(msg string, fields Fields)  { l.write("info", msg, fields, nil) }
func (l *JSONLogger) Warn(msg string, fields Fields)  { l.write("warn", msg, fields, nil) }

func (l *JSONLogger) Error(msg string, err error, fields Fields) {
	l.write("error", msg, fields, err)
}
