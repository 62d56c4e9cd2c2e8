//go:build linux

package spidev

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ZaparooProject/go-mmcspi/detection"
)

// spiIocRdMode is the read-only ioctl returning the controller's SPI
// mode byte. Reading it never clocks the bus, so probing cannot
// disturb a card that is already selected by another process.
const spiIocRdMode = 0x80016b01

// controllerInfo describes one spidev node found under /dev
type controllerInfo struct {
	Path       string
	Bus        string
	ChipSelect string
}

// detectLinux scans /dev for spidev nodes
func detectLinux(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	controllers, err := findControllers()
	if err != nil {
		return nil, err
	}
	if len(controllers) == 0 {
		return nil, detection.ErrNoDevicesFound
	}

	devices := make([]detection.DeviceInfo, 0, len(controllers))
	for _, ctrl := range controllers {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return devices, detection.ErrDetectionTimeout
		default:
		}

		if detection.IsPathIgnored(ctrl.Path, opts.IgnorePaths) {
			continue
		}

		device := detection.DeviceInfo{
			Transport:  "spidev",
			Path:       ctrl.Path,
			Name:       fmt.Sprintf("SPI controller %s, chip select %s", ctrl.Bus, ctrl.ChipSelect),
			Confidence: detection.Medium,
			Metadata: map[string]string{
				"bus":         ctrl.Bus,
				"chip_select": ctrl.ChipSelect,
			},
		}

		// In Safe and Full modes confirm the node answers the mode
		// ioctl. A node that opens but rejects it is something else
		// wearing the spidev name and stays at Medium.
		if opts.Mode != detection.Passive {
			if mode, ok := probeController(ctrl.Path); ok {
				device.Confidence = detection.High
				device.Metadata["spi_mode"] = fmt.Sprintf("%d", mode&0x03)
			}
		}

		devices = append(devices, device)
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// findControllers lists /dev entries matching the spidevB.C naming
// scheme
func findControllers() ([]controllerInfo, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil, fmt.Errorf("failed to scan /dev: %w", err)
	}

	var controllers []controllerInfo
	for _, entry := range entries {
		info, ok := parseControllerName(entry.Name())
		if !ok {
			continue
		}
		controllers = append(controllers, info)
	}
	return controllers, nil
}

// parseControllerName splits a spidevB.C device name into its bus and
// chip select numbers
func parseControllerName(name string) (controllerInfo, bool) {
	if !strings.HasPrefix(name, "spidev") {
		return controllerInfo{}, false
	}
	rest := strings.TrimPrefix(name, "spidev")
	bus, cs, found := strings.Cut(rest, ".")
	if !found || bus == "" || cs == "" {
		return controllerInfo{}, false
	}
	if !isDigits(bus) || !isDigits(cs) {
		return controllerInfo{}, false
	}
	return controllerInfo{
		Path:       "/dev/" + name,
		Bus:        bus,
		ChipSelect: cs,
	}, true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// probeController opens the node and reads its SPI mode byte
func probeController(path string) (uint8, bool) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, false
	}
	defer func() { _ = unix.Close(fd) }()

	var mode uint8
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), spiIocRdMode, uintptr(unsafe.Pointer(&mode)))
	if errno != 0 {
		return 0, false
	}
	return mode, true
}
