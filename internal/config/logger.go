package config

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger создаёт логгер с уровнем из конфигурации.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("некорректный уровень логирования %q: %w", c.LogLevel, err)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger, nil
}
