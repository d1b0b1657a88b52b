// Edge notification stream
//
// The daemon streams 12-byte reports over a dedicated connection
// opened with NOIB. Each report carries a bank-1 level snapshot; edges
// are recovered by comparing a watched GPIO's bit against the previous
// snapshot. Watchdog timeouts arrive flagged with the GPIO number in
// the flag word and are delivered as LevelTimeout.
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pigpio

import (
	stderrors "errors"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"parmco-go-migration/pkg/errors"
	"parmco-go-migration/pkg/log"
)

// EdgeFunc receives a level transition or watchdog timeout for a
// watched GPIO. level is LevelLow, LevelHigh or LevelTimeout; tick is
// the daemon's microsecond timestamp of the report. Callbacks run on
// the notifier's read goroutine and must not block.
type EdgeFunc func(gpio, level int, tick uint32)

// Notifier owns one notification stream and its watch set.
type Notifier struct {
	client *Client
	logger *log.Logger

	mu         sync.Mutex
	fd         int
	handle     uint32
	watches    map[int]EdgeFunc
	lastLevels uint32
	haveLevels bool
	closed     bool

	stop chan struct{}
	done chan struct{}
}

// NewNotifier opens a second connection to the daemon the command
// client is connected to, claims a notification handle on it and
// starts the read loop. The stream delivers nothing until Watch is
// called.
func NewNotifier(client *Client, timeout time.Duration) (*Notifier, error) {
	fd, err := dialFd(client.Addr(), timeout)
	if err != nil {
		return nil, errors.PigpioNotifyError("dial stream", err)
	}

	// NOIB turns this connection into a report stream; the response
	// carries the handle for NB/NP/NC on the command channel.
	req := EncodeRequest(nil, CmdNOIB, 0, 0)
	if err := writeFull(fd, req); err != nil {
		unix.Close(fd)
		return nil, errors.PigpioNotifyError("open in-band", err)
	}
	var resp [ResponseSize]byte
	if err := readFull(fd, resp[:], defaultCommandTimeout); err != nil {
		unix.Close(fd)
		return nil, errors.PigpioNotifyError("open in-band", err)
	}
	r := DecodeResponse(resp[:])
	if r.Result < 0 {
		unix.Close(fd)
		return nil, errors.PigpioCommandError("NOIB", int(r.Result))
	}

	n := &Notifier{
		client:  client,
		logger:  log.GetLogger("pigpio"),
		fd:      fd,
		handle:  uint32(r.Result),
		watches: make(map[int]EdgeFunc),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	// Seed the level snapshot so the first report does not fabricate
	// edges for lines that were already high.
	if bank, err := client.ReadBank1(); err == nil {
		n.lastLevels = bank
		n.haveLevels = true
	}

	go n.readLoop()

	n.logger.WithField("handle", n.handle).Debug("notification stream open")
	return n, nil
}

// Handle returns the daemon-assigned notification handle.
func (n *Notifier) Handle() uint32 {
	return n.handle
}

// LastLevel returns the most recently observed level of gpio from the
// report stream snapshot. The second return is false until at least
// one snapshot has been seen.
func (n *Notifier) LastLevel(gpio int) (int, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.haveLevels || gpio < 0 || gpio > 31 {
		return LevelLow, false
	}
	if n.lastLevels&(1<<uint(gpio)) != 0 {
		return LevelHigh, true
	}
	return LevelLow, true
}

// Watch registers fn for edges on gpio and updates the daemon's
// notification mask.
func (n *Notifier) Watch(gpio int, fn EdgeFunc) error {
	if gpio < 0 || gpio > 31 {
		return errors.HardwarePinError("notify", gpio, "outside bank 1")
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	n.watches[gpio] = fn
	bits := n.watchBitsLocked()
	n.mu.Unlock()

	return n.client.notifyBegin(n.handle, bits)
}

// Unwatch removes the callback for gpio.
func (n *Notifier) Unwatch(gpio int) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	delete(n.watches, gpio)
	bits := n.watchBitsLocked()
	n.mu.Unlock()

	return n.client.notifyBegin(n.handle, bits)
}

func (n *Notifier) watchBitsLocked() uint32 {
	var bits uint32
	for gpio := range n.watches {
		bits |= 1 << uint(gpio)
	}
	return bits
}

// Close pauses and releases the handle and tears down the stream.
func (n *Notifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	close(n.stop)
	<-n.done

	// Best effort: the daemon reclaims the handle when the stream
	// connection drops anyway.
	_ = n.client.notifyPause(n.handle)
	_ = n.client.notifyClose(n.handle)

	return unix.Close(n.fd)
}

// readLoop drains reports until stopped. Reads are bounded by a short
// poll so the stop channel is honoured promptly.
func (n *Notifier) readLoop() {
	defer close(n.done)

	buf := make([]byte, 0, 512)
	chunk := make([]byte, 256)

	for {
		select {
		case <-n.stop:
			return
		default:
		}

		pfd := []unix.PollFd{{Fd: int32(n.fd), Events: unix.POLLIN}}
		cnt, err := unix.Poll(pfd, 100)
		if err != nil {
			if stderrors.Is(err, unix.EINTR) {
				continue
			}
			n.logger.WithError(err).Warn("notification poll failed")
			return
		}
		if cnt == 0 {
			continue
		}
		if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			n.logger.Warn("notification stream closed by daemon")
			return
		}

		nr, err := unix.Read(n.fd, chunk)
		if err != nil {
			if stderrors.Is(err, unix.EINTR) || stderrors.Is(err, unix.EAGAIN) {
				continue
			}
			n.logger.WithError(err).Warn("notification read failed")
			return
		}
		if nr == 0 {
			n.logger.Warn("notification stream EOF")
			return
		}

		buf = append(buf, chunk[:nr]...)
		off := 0
		for len(buf)-off >= ReportSize {
			n.dispatch(DecodeReport(buf[off : off+ReportSize]))
			off += ReportSize
		}
		buf = append(buf[:0], buf[off:]...)
	}
}

// dispatch fans one report out to the watch callbacks.
func (n *Notifier) dispatch(r Report) {
	if r.Flags&FlagAlive != 0 {
		return
	}

	if r.Flags&FlagWatchdog != 0 {
		gpio := r.WatchdogGpio()
		n.mu.Lock()
		fn := n.watches[gpio]
		n.mu.Unlock()
		if fn != nil {
			fn(gpio, LevelTimeout, r.Tick)
		}
		return
	}

	if r.Flags != 0 {
		// Event reports and future flag bits are not used here
		return
	}

	n.mu.Lock()
	if !n.haveLevels {
		n.lastLevels = r.Level
		n.haveLevels = true
		n.mu.Unlock()
		return
	}
	changed := n.lastLevels ^ r.Level
	n.lastLevels = r.Level

	type hit struct {
		gpio  int
		level int
		fn    EdgeFunc
	}
	var hits []hit
	for gpio, fn := range n.watches {
		if changed&(1<<uint(gpio)) != 0 {
			hits = append(hits, hit{gpio, r.LevelBit(gpio), fn})
		}
	}
	n.mu.Unlock()

	for _, h := range hits {
		h.fn(h.gpio, h.level, r.Tick)
	}
}
