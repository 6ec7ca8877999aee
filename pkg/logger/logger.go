package logger

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	initOnce sync.Once
	out      *log.Logger
)

// Init configures the process-wide event logger. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		out = log.New(os.Stdout, "", 0)
	})
}

type entry struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	UserID    string                 `json:"userID,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func emit(level, event, userID, errMsg string, fields map[string]interface{}) {
	if out == nil {
		Init()
	}

	e := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Event:     event,
		UserID:    userID,
		Error:     errMsg,
		Fields:    fields,
	}

	encoded, err := json.Marshal(e)
	if err != nil {
		out.Printf(`{"level":"error","event":"logger_marshal_failed","error":%q}`, err.Error())
		return
	}
	out.Print(string(encoded))
}

func Info(event string, fields map[string]interface{}) {
	emit("info", event, "", "", fields)
}

func InfoWithUser(userID, event string, fields map[string]interface{}) {
	emit("info", event, userID, "", fields)
}

func Warn(event string, fields map[string]interface{}) {
	emit("warn", event, "", "", fields)
}

func WarnWithUser(userID, event string, fields map[string]interface{}) {
	emit("warn", event, userID, "", fields)
}

func Error(event string, err error, fields map[string]interface{}) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	emit("error", event, "", msg, fields)
}
