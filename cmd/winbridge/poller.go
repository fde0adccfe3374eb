package main

import (
	"context"
	"time"

	"winbridge/internal/protocol"
	"winbridge/internal/winhandler"
)

// stateNotifier is the channel operation the poller drives.
type stateNotifier interface {
	SendGamepadState()
}

// runGamepadPoller samples the live pad every interval and asks the channel
// to push its state to notify subscribers whenever the pad or its state
// changes. It returns when ctx ends.
func runGamepadPoller(ctx context.Context, ch stateNotifier, source func() winhandler.Gamepad, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		lastID   uint32
		lastBlob protocol.GamepadStateBlob
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		pad := source()
		if pad == nil || !pad.Connected() {
			lastID = 0
			continue
		}
		blob := pad.State().Blob()
		if pad.ID() == lastID && blob == lastBlob {
			continue
		}
		lastID, lastBlob = pad.ID(), blob
		ch.SendGamepadState()
	}
}
