//go:build !linux

package spidev

import (
	"context"

	"github.com/ZaparooProject/go-mmcspi/detection"
)

// detectLinux is a stub for non-Linux platforms
func detectLinux(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	return nil, detection.ErrUnsupportedPlatform
}
