package logger

import "fmt"

// AsynqAdapter routes asynq server logs through logrus.
type AsynqAdapter struct {
	l *Logger
}

// NewAsynqAdapter wraps l for asynq.Config.Logger.
func NewAsynqAdapter(l *Logger) *AsynqAdapter {
	return &AsynqAdapter{l: l.WithField(FieldComponent, "asynq")}
}

func (a *AsynqAdapter) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a *AsynqAdapter) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a *AsynqAdapter) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a *AsynqAdapter) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
func (a *AsynqAdapter) Fatal(args ...interface{}) { a.l.Fatal(fmt.Sprint(args...)) }
