// Package pigpio talks to the pigpiod daemon over its TCP socket
// interface. The command channel carries fixed 16-byte request and
// response frames; edge notifications arrive on a dedicated second
// connection (see notify.go).
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
	"parmco-go-migration/pkg/pool"
)

// Common errors
var (
	ErrNotConnected = stderrors.New("pigpio: not connected")
	ErrTimeout      = stderrors.New("pigpio: operation timed out")
	ErrClosed       = stderrors.New("pigpio: connection closed")
)

const defaultCommandTimeout = 5 * time.Second

// Client is a command channel to the daemon. The mutex serialises
// request/response pairs; the daemon answers in order per connection.
type Client struct {
	mu      sync.Mutex
	fd      int
	addr    string
	closed  bool
	timeout time.Duration
	logger  *log.Logger
}

// Connect dials the daemon's command socket at address (host:port)
// and waits for it to come up until the timeout elapses.
func Connect(address string, timeout time.Duration) (*Client, error) {
	fd, err := dialFd(address, timeout)
	if err != nil {
		return nil, errors.PigpioConnectError(address, err)
	}

	c := &Client{
		fd:      fd,
		addr:    address,
		timeout: defaultCommandTimeout,
		logger:  log.GetLogger("pigpio"),
	}
	c.logger.WithField("addr", address).Debug("connected to pigpiod")
	return c, nil
}

// dialFd opens a raw TCP socket to address, retrying while the daemon
// is not yet accepting connections.
func dialFd(address string, timeout time.Duration) (int, error) {
	if address == "" {
		return -1, stderrors.New("pigpio: address required")
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}

	host, portStr, err := splitHostPort(address)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	port, err := parsePort(portStr)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	ip, err := resolveHost(host)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}

	addr := &unix.SockaddrInet4{Port: port}
	copy(addr.Addr[:], ip)

	deadline := time.Now().Add(timeout)
	var connectErr error
	for time.Now().Before(deadline) {
		connectErr = unix.Connect(fd, addr)
		if connectErr == nil {
			break
		}
		// Daemon might not be up yet, wait and retry
		if stderrors.Is(connectErr, unix.ECONNREFUSED) {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		unix.Close(fd)
		return -1, connectErr
	}
	if connectErr != nil {
		unix.Close(fd)
		return -1, connectErr
	}

	return fd, nil
}

// splitHostPort splits an address of the form "host:port".
func splitHostPort(address string) (string, string, error) {
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == ':' {
			return address[:i], address[i+1:], nil
		}
	}
	return "", "", stderrors.New("missing port in address")
}

// parsePort parses a port string to an integer.
func parsePort(s string) (int, error) {
	var port int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, stderrors.New("invalid port number")
		}
		port = port*10 + int(c-'0')
	}
	if port == 0 || port > 65535 {
		return 0, stderrors.New("port out of range")
	}
	return port, nil
}

// resolveHost resolves a hostname to an IPv4 address. Only dotted
// quads and localhost are supported; the daemon runs on this host or
// a fixed lab address.
func resolveHost(host string) ([]byte, error) {
	if host == "localhost" || host == "127.0.0.1" {
		return []byte{127, 0, 0, 1}, nil
	}

	ip := make([]byte, 4)
	parts := 0
	val := 0
	for i := 0; i <= len(host); i++ {
		if i == len(host) || host[i] == '.' {
			if parts > 3 || val > 255 {
				return nil, stderrors.New("invalid IP address")
			}
			ip[parts] = byte(val)
			parts++
			val = 0
		} else if host[i] >= '0' && host[i] <= '9' {
			val = val*10 + int(host[i]-'0')
		} else {
			return nil, stderrors.New("hostname resolution not supported, use IP address")
		}
	}
	if parts != 4 {
		return nil, stderrors.New("invalid IP address format")
	}
	return ip, nil
}

// Addr returns the daemon address this client dialled.
func (c *Client) Addr() string {
	return c.addr
}

// SetCommandTimeout bounds the wait for a single response frame.
func (c *Client) SetCommandTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// Close shuts the command connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return unix.Close(c.fd)
}

// Command sends a request and returns the signed result word. A
// negative result is mapped to a daemon error.
func (c *Client) Command(cmd, p1, p2 uint32) (int32, error) {
	res, err := c.roundTrip(cmd, p1, p2, nil)
	if err != nil {
		return 0, err
	}
	if res.Result < 0 {
		return res.Result, errors.PigpioCommandError(CommandName(cmd), int(res.Result))
	}
	return res.Result, nil
}

// CommandU sends a request whose full 32-bit result is meaningful
// (BR1, TICK, HWVER, PIGPV) and therefore never a daemon error.
func (c *Client) CommandU(cmd, p1, p2 uint32) (uint32, error) {
	res, err := c.roundTrip(cmd, p1, p2, nil)
	if err != nil {
		return 0, err
	}
	return res.Uint32Result(), nil
}

// commandExt sends a request with an extension payload.
func (c *Client) commandExt(cmd, p1, p2 uint32, ext []byte) (int32, error) {
	res, err := c.roundTrip(cmd, p1, p2, ext)
	if err != nil {
		return 0, err
	}
	if res.Result < 0 {
		return res.Result, errors.PigpioCommandError(CommandName(cmd), int(res.Result))
	}
	return res.Result, nil
}

// roundTrip writes one request frame and reads the matching response.
func (c *Client) roundTrip(cmd, p1, p2 uint32, ext []byte) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Response{}, ErrClosed
	}

	buf := pool.GetByteBuffer()
	defer pool.PutByteBuffer(buf)
	if len(ext) > 0 {
		buf.Write(EncodeRequestExt(nil, cmd, p1, p2, ext))
	} else {
		buf.Write(EncodeRequest(nil, cmd, p1, p2))
	}

	if err := writeFull(c.fd, buf.Bytes()); err != nil {
		return Response{}, errors.Wrap(err, errors.ErrPigpioCommand, "write "+CommandName(cmd))
	}

	var resp [ResponseSize]byte
	if err := readFull(c.fd, resp[:], c.timeout); err != nil {
		return Response{}, errors.Wrap(err, errors.ErrPigpioCommand, "read "+CommandName(cmd))
	}

	return DecodeResponse(resp[:]), nil
}

// writeFull writes the whole buffer, waiting out short writes.
func writeFull(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if err != nil {
			if stderrors.Is(err, unix.EINTR) {
				continue
			}
			if stderrors.Is(err, unix.EAGAIN) {
				pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
				if _, perr := unix.Poll(pfd, 1000); perr != nil && !stderrors.Is(perr, unix.EINTR) {
					return perr
				}
				continue
			}
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// readFull reads exactly len(buf) bytes or fails with ErrTimeout.
func readFull(fd int, buf []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	off := 0
	for off < len(buf) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}
		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pfd, int(remaining.Milliseconds())+1)
		if err != nil {
			if stderrors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			return ErrTimeout
		}
		if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return ErrClosed
		}
		n, err = unix.Read(fd, buf[off:])
		if err != nil {
			if stderrors.Is(err, unix.EINTR) || stderrors.Is(err, unix.EAGAIN) {
				continue
			}
			return err
		}
		if n == 0 {
			return ErrClosed
		}
		off += n
	}
	return nil
}

// SetMode configures a GPIO as input or output.
func (c *Client) SetMode(gpio, mode uint32) error {
	_, err := c.Command(CmdModes, gpio, mode)
	return err
}

// SetPull configures the pull resistor of a GPIO.
func (c *Client) SetPull(gpio, pud uint32) error {
	_, err := c.Command(CmdPud, gpio, pud)
	return err
}

// ReadPin returns the current level of a GPIO.
func (c *Client) ReadPin(gpio uint32) (int, error) {
	res, err := c.Command(CmdRead, gpio, 0)
	return int(res), err
}

// WritePin sets the level of a GPIO.
func (c *Client) WritePin(gpio, level uint32) error {
	_, err := c.Command(CmdWrite, gpio, level)
	return err
}

// SetPWMDutycycle sets the soft PWM dutycycle of a GPIO.
func (c *Client) SetPWMDutycycle(gpio, duty uint32) error {
	_, err := c.Command(CmdPWM, gpio, duty)
	return err
}

// SetPWMFrequency sets the soft PWM frequency and returns the
// frequency actually selected.
func (c *Client) SetPWMFrequency(gpio, freq uint32) (uint32, error) {
	res, err := c.Command(CmdPFS, gpio, freq)
	return uint32(res), err
}

// SetPWMRange sets the soft PWM dutycycle range.
func (c *Client) SetPWMRange(gpio, rng uint32) (uint32, error) {
	res, err := c.Command(CmdPRS, gpio, rng)
	return uint32(res), err
}

// HardwarePWM starts hardware PWM on a GPIO. duty is on the
// HardwarePWMRange scale; frequency 0 stops the output.
func (c *Client) HardwarePWM(gpio, freq, duty uint32) error {
	ext := EncodeUint32(nil, duty)
	_, err := c.commandExt(CmdHP, gpio, freq, ext)
	return err
}

// SetGlitchFilter ignores level changes shorter than steadyUs
// microseconds on a GPIO, for both reads and notifications.
func (c *Client) SetGlitchFilter(gpio, steadyUs uint32) error {
	_, err := c.Command(CmdFG, gpio, steadyUs)
	return err
}

// SetWatchdog arms a watchdog on a GPIO: if no level change is seen
// for timeoutMs milliseconds a timeout report is delivered. Zero
// cancels the watchdog.
func (c *Client) SetWatchdog(gpio, timeoutMs uint32) error {
	_, err := c.Command(CmdWdog, gpio, timeoutMs)
	return err
}

// ReadBank1 returns the levels of GPIO 0-31 as a bit mask.
func (c *Client) ReadBank1() (uint32, error) {
	return c.CommandU(CmdBR1, 0, 0)
}

// CurrentTick returns the daemon's microsecond tick counter. The
// counter wraps about every 72 minutes.
func (c *Client) CurrentTick() (uint32, error) {
	return c.CommandU(CmdTick, 0, 0)
}

// HardwareRevision returns the Pi board revision.
func (c *Client) HardwareRevision() (uint32, error) {
	return c.CommandU(CmdHwver, 0, 0)
}

// Version returns the daemon's library version.
func (c *Client) Version() (uint32, error) {
	return c.CommandU(CmdPigpv, 0, 0)
}

// notifyBegin routes reports for the GPIO set in bits to the stream
// identified by handle.
func (c *Client) notifyBegin(handle, bits uint32) error {
	_, err := c.Command(CmdNB, handle, bits)
	return err
}

// notifyPause suspends a notification stream.
func (c *Client) notifyPause(handle uint32) error {
	_, err := c.Command(CmdNP, handle, 0)
	return err
}

// notifyClose releases a notification handle.
func (c *Client) notifyClose(handle uint32) error {
	_, err := c.Command(CmdNC, handle, 0)
	return err
}
