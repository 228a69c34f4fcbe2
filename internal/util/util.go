package util

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/juju/loggo"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"csms/internal/config"
)

// GetLoggingWriter returns a new io.Writer suitable for logging.
func GetLoggingWriter(cfg config.Config) (io.Writer, error) {
	var writer io.Writer = os.Stdout
	if cfg.LogFile != "" {
		dirname := path.Dir(cfg.LogFile)
		if _, err := os.Stat(dirname); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to create log folder")
			}
			if err := os.MkdirAll(dirname, 0o711); err != nil {
				return nil, fmt.Errorf("failed to create log folder")
			}
		}
		writer = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    5, // megabytes
			MaxBackups: 2,
			MaxAge:     28, // days
			Compress:   false,
		}
	}
	return writer, nil
}

// SetupLogging points the root logger at the configured writer and level.
func SetupLogging(cfg config.Config) error {
	writer, err := GetLoggingWriter(cfg)
	if err != nil {
		return err
	}
	if _, err := loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(writer, loggo.DefaultFormatter)); err != nil {
		return err
	}
	return loggo.ConfigureLoggers("<root>=" + cfg.LogLevel)
}
