//go:build linux

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

const (
	evAbs       = 0x03 // EV_ABS
	absDistance = 0x19 // ABS_DISTANCE
)

// runProximityReader reads the proximity sensor's evdev node and injects
// ProximityChanged events. A distance of zero means the device is at the ear.
//
// A missing or lost device never takes the daemon down: the reader logs a
// warning and returns nil, and the proximity-triggered media fixes simply
// stop firing while the rest of the recovery logic keeps running.
//
// Uses epoll with a short timeout so ctx cancellation is honored without a
// stuck blocking read.
func runProximityReader(ctx context.Context, device string, events chan<- Event, logger *slog.Logger) error {
	f, err := os.Open(device)
	if err != nil {
		logger.Warn("proximity device unavailable, media routing fix disabled", "device", device, "error", err)
		return nil
	}
	defer f.Close()

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		logger.Warn("proximity reader disabled", "error", fmt.Errorf("epoll_create1: %w", err))
		return nil
	}
	defer unix.Close(epfd)

	fd := int(f.Fd())
	epev := unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &epev); err != nil {
		logger.Warn("proximity reader disabled", "device", device, "error", fmt.Errorf("epoll_ctl_add: %w", err))
		return nil
	}

	logger.Info("proximity reader started", "device", device)

	epollEvents := make([]unix.EpollEvent, 4)
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf)

	var haveLast bool
	var lastNear bool

	for {
		select {
		case <-ctx.Done():
			logger.Info("proximity reader stopping (context canceled)")
			return nil
		default:
		}

		n, err := unix.EpollWait(epfd, epollEvents, 500)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			logger.Warn("proximity reader stopping", "error", fmt.Errorf("epoll_wait: %w", err))
			return nil
		}

		for i := 0; i < n; i++ {
			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				logger.Warn("proximity device lost, media routing fix disabled", "device", device)
				return nil
			}

			if _, err := f.Read(buf); err != nil {
				logger.Warn("proximity device read failed, media routing fix disabled", "device", device, "error", err)
				return nil
			}

			reader.Reset(buf)
			var ev inputEvent
			if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
				// Skip malformed events
				continue
			}

			if ev.Type != evAbs || ev.Code != absDistance {
				continue
			}

			near := ev.Value == 0
			if haveLast && near == lastNear {
				continue
			}
			haveLast = true
			lastNear = near

			select {
			case events <- ProximityChanged{Near: near}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
