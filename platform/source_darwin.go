//go:build darwin

// This file provides a stub implementation for MacOS to enable development
// and testing without kernel monitoring support. The actual event source
// is only available on Linux systems.

package platform

import (
	"context"

	"github.com/sirupsen/logrus"
)

// SourceConfig holds what the Linux source needs at startup. Unused here.
type SourceConfig struct {
	ObjectPath string
	MountPoint string
}

type darwinSource struct{}

// NewSource returns an inert source so the control surface and census
// scanners can still run during development on MacOS.
func NewSource(cfg SourceConfig, log *logrus.Logger) (Source, error) {
	log.Warn("kernel event monitoring not available on this platform, running census-only")
	return &darwinSource{}, nil
}

func (s *darwinSource) Run(ctx context.Context, h Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *darwinSource) Close() error { return nil }
