package logging

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	StdErrOutput = "stderr"
	StdOutOutput = "stdout"

	rotateScheme = "rotate"
)

var ErrRotationInvalidOutput = errors.New("log rotation requires exactly one file output")

// Rotation configures lumberjack for the single file output.
type Rotation struct {
	MaxSizeMB  int  `json:"maxSizeMB,omitempty"`
	MaxAgeDays int  `json:"maxAgeDays,omitempty"`
	MaxBackups int  `json:"maxBackups,omitempty"`
	Compress   bool `json:"compress,omitempty"`
}

// Options select the outputs of a zap logger.
type Options struct {
	Level   zapcore.Level
	Outputs []string
	// Rotation enables log rotation when set.
	Rotation *Rotation
}

type rotatingSink struct {
	*lumberjack.Logger
}

// Sync implements zap.Sink
func (rotatingSink) Sync() error { return nil }

var (
	registerOnce sync.Once
	registerErr  error
	rotationLock sync.Mutex
	rotation     Rotation
)

// NewZapLogger builds a JSON logger for libraries that log through zap, such
// as the etcd client.
func NewZapLogger(opts Options) (*zap.Logger, error) {
	outputs := opts.Outputs
	if len(outputs) == 0 {
		outputs = []string{StdErrOutput}
	}
	if opts.Rotation != nil {
		if err := setupRotation(outputs, *opts.Rotation); err != nil {
			return nil, err
		}
	}

	paths := make([]string, 0, len(outputs))
	for _, o := range outputs {
		switch {
		case o == StdErrOutput || o == StdOutOutput:
			paths = append(paths, o)
		case opts.Rotation != nil:
			paths = append(paths, fmt.Sprintf("%s:%s", rotateScheme, o))
		default:
			paths = append(paths, o)
		}
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(opts.Level),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:       "ts",
			LevelKey:      "level",
			NameKey:       "logger",
			CallerKey:     "caller",
			MessageKey:    "msg",
			StacktraceKey: "stacktrace",
			LineEnding:    zapcore.DefaultLineEnding,
			EncodeLevel:   zapcore.LowercaseLevelEncoder,
			EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
				enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000Z"))
			},
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      paths,
		ErrorOutputPaths: paths,
	}
	return cfg.Build()
}

func setupRotation(outputs []string, r Rotation) error {
	files := 0
	for _, o := range outputs {
		if o != StdErrOutput && o != StdOutOutput {
			files++
		}
	}
	if files != 1 {
		return ErrRotationInvalidOutput
	}

	rotationLock.Lock()
	rotation = r
	rotationLock.Unlock()

	// zap refuses to register a scheme twice
	registerOnce.Do(func() {
		registerErr = zap.RegisterSink(rotateScheme, func(u *url.URL) (zap.Sink, error) {
			rotationLock.Lock()
			defer rotationLock.Unlock()
			return rotatingSink{Logger: &lumberjack.Logger{
				Filename:   u.Path,
				MaxSize:    rotation.MaxSizeMB,
				MaxAge:     rotation.MaxAgeDays,
				MaxBackups: rotation.MaxBackups,
				Compress:   rotation.Compress,
			}}, nil
		})
	})
	return registerErr
}

// LevelFromVerbosity maps a klog verbosity to a zap level.
func LevelFromVerbosity(v int) zapcore.Level {
	switch {
	case v >= 4:
		return zap.DebugLevel
	case v == 3:
		return zap.WarnLevel
	default:
		return zap.InfoLevel
	}
}
