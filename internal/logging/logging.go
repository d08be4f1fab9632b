// Package logging adapts go.uber.org/zap to the types.Logger seam so
// pkg/ code never imports zap directly.
package logging

import (
	"go.uber.org/zap"

	"github.com/lokutor-ai/turntaker/pkg/types"
)

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// New builds a production zap logger wrapped as a types.Logger. Falls back
// to a no-op logger if the zap logger fails to construct, since a broken
// logger shouldn't stop the server from starting.
func New() types.Logger {
	z, err := zap.NewProduction()
	if err != nil {
		return &types.NoOpLogger{}
	}
	return &zapLogger{sugar: z.Sugar()}
}

func (l *zapLogger) Debug(msg string, args ...interface{}) { l.sugar.Debugw(msg, args...) }
func (l *zapLogger) Info(msg string, args ...interface{})  { l.sugar.Infow(msg, args...) }
func (l *zapLogger) Warn(msg string, args ...interface{})  { l.sugar.Warnw(msg, args...) }
func (l *zapLogger) Error(msg string, args ...interface{}) { l.sugar.Errorw(msg, args...) }
