// Package logger builds the shared zap logger for the trainload binaries.
package logger

import (
	"strings"

	"go.uber.org/zap"
)

// New constructs a sugared logger. Mode "prod"/"production" selects the
// JSON production encoder; anything else gets the development console.
func New(mode string) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return log.Sugar(), nil
}
