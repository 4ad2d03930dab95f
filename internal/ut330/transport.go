package ut330

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// USB identity of the CP210x bridge inside the UT330 family.
const (
	VendorID  = "10C4"
	ProductID = "EA60"
)

const (
	BaudRate            = 115200
	DefaultReadTimeout  = 5 * time.Second
	DefaultWriteTimeout = 5 * time.Second

	// DefaultMinInterval is the quiet time the logger needs between two
	// operations to finish filling its response buffer.
	DefaultMinInterval = 10 * time.Millisecond

	// Reads are issued in pages of this size. Much larger single reads come
	// back with partially filled buffers.
	pageSize = 32768
)

var log = logrus.WithField("component", "ut330")

var errWriteTimeout = errors.New("write timed out")

// Port is the byte stream to the logger. serial.Port satisfies it.
type Port interface {
	io.ReadWriteCloser
}

// inputResetter is implemented by ports that can drop unread input.
type inputResetter interface {
	ResetInputBuffer() error
}

// Discover returns the name of the serial port the logger is plugged into.
func Discover() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("ut330: enumerate serial ports: %w", err)
	}
	return matchPort(ports)
}

// matchPort picks the first USB port with the UT330 vendor/product ID.
// Another CP210x gadget would match too; the IDs are all there is to go on.
func matchPort(ports []*enumerator.PortDetails) (string, error) {
	for _, p := range ports {
		if p.IsUSB && strings.EqualFold(p.VID, VendorID) && strings.EqualFold(p.PID, ProductID) {
			return p.Name, nil
		}
	}
	return "", ErrDeviceNotFound
}

// OpenSerial opens the logger's serial port, discovering it first when
// cfg.PortPath is empty. It is the default OpenFunc.
func OpenSerial(cfg ConnConfig) (Port, error) {
	path := cfg.PortPath
	if path == "" {
		var err error
		if path, err = Discover(); err != nil {
			return nil, err
		}
		log.Infof("found UT330 on %s", path)
	}

	mode := &serial.Mode{
		BaudRate: BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, &ConnectionError{Port: path, Err: err}
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, &ConnectionError{Port: path, Err: fmt.Errorf("set read timeout: %w", err)}
	}
	// A handle that cannot flush its input is not usable.
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, &ConnectionError{Port: path, Err: fmt.Errorf("port not open: %w", err)}
	}
	log.Infof("opened %s at %d baud", path, BaudRate)
	return port, nil
}

// transport moves raw frames over an open port.
type transport struct {
	port         Port
	readTimeout  time.Duration
	writeTimeout time.Duration
	closed       bool
}

// roundTrip sends cmd and reads exactly n response bytes.
func (t *transport) roundTrip(op string, cmd []byte, n int) ([]byte, error) {
	if t.closed {
		return nil, fmt.Errorf("%s: %w", op, ErrPortClosed)
	}
	t.resetInput()
	log.Debugf("%s tx: % X", op, cmd)
	if err := t.write(op, cmd); err != nil {
		return nil, err
	}
	return t.readFull(op, n)
}

// readFull reads n bytes and fails with ReadTimeoutError if fewer arrive.
func (t *transport) readFull(op string, n int) ([]byte, error) {
	buf, err := t.read(n)
	if err != nil {
		return nil, fmt.Errorf("ut330: %s: read: %w", op, err)
	}
	if len(buf) < n {
		log.Debugf("%s rx short (%d/%d): % X", op, len(buf), n, buf)
		return nil, &ReadTimeoutError{Op: op, Got: len(buf), Want: n}
	}
	if n <= 64 {
		log.Debugf("%s rx: % X", op, buf)
	} else {
		log.Debugf("%s rx: %d bytes", op, n)
	}
	return buf, nil
}

// write sends frame, closing the port if the write hangs past the timeout.
func (t *transport) write(op string, frame []byte) error {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := t.port.Write(frame)
		done <- result{n, err}
	}()

	select {
	case r := <-done:
		if r.err != nil || r.n != len(frame) {
			return &WriteError{Op: op, Written: r.n, Want: len(frame), Err: r.err}
		}
		return nil
	case <-time.After(t.writeTimeout):
		t.close()
		return &WriteError{Op: op, Want: len(frame), Err: errWriteTimeout}
	}
}

// read reads up to n bytes: whole pages first, then the remainder. It
// returns early with what it has when a page times out.
func (t *transport) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		size := pageSize
		if n-got < size {
			size = n - got
		}
		m, err := t.readPage(buf[got : got+size])
		got += m
		if err != nil {
			return buf[:got], err
		}
		if m < size {
			break
		}
	}
	return buf[:got], nil
}

// readPage fills page or stops at the read timeout.
func (t *transport) readPage(page []byte) (int, error) {
	deadline := time.Now().Add(t.readTimeout)
	got := 0
	for got < len(page) {
		n, err := t.port.Read(page[got:])
		got += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return got, err
		}
		if n == 0 {
			// serial.Port returns 0, nil once its own read timeout expires.
			if !time.Now().Before(deadline) {
				break
			}
			time.Sleep(time.Millisecond)
		}
	}
	return got, nil
}

func (t *transport) resetInput() {
	if r, ok := t.port.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			log.Debugf("reset input buffer: %v", err)
		}
	}
}

func (t *transport) close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.port.Close()
}
