package ut330

import (
	"sync"
	"time"
)

// ConnConfig holds connection settings for a Device.
type ConnConfig struct {
	// PortPath is the serial device, e.g. /dev/ttyUSB0. Empty means find the
	// logger by its USB vendor/product ID.
	PortPath     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MinInterval is the minimum quiet time between two operations.
	MinInterval time.Duration

	// Observer, if set, is called after every operation that reached the
	// port, with its duration and result.
	Observer func(op string, took time.Duration, err error)
}

// OpenFunc opens the port a Device talks through.
type OpenFunc func(cfg ConnConfig) (Port, error)

// Device is a UT330 data logger.
//
// All methods are safe to call from multiple goroutines; operations are
// serialized because the logger handles one command at a time.
type Device struct {
	cfg  ConnConfig
	open OpenFunc

	mu     sync.Mutex
	tr     *transport // nil while disconnected
	lastOp time.Time
}

// New creates a disconnected Device that opens a real serial port.
func New(cfg ConnConfig) *Device {
	return NewWithOpener(cfg, OpenSerial)
}

// NewWithOpener creates a disconnected Device that obtains its port from
// open. Use it with a Simulator or any other Port implementation.
func NewWithOpener(cfg ConnConfig, open OpenFunc) *Device {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	return &Device{cfg: cfg, open: open}
}

// Connect opens the port. Connecting an already connected Device is a no-op.
func (d *Device) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tr != nil {
		return nil
	}
	port, err := d.open(d.cfg)
	if err != nil {
		return err
	}
	d.tr = &transport{
		port:         port,
		readTimeout:  d.cfg.ReadTimeout,
		writeTimeout: d.cfg.WriteTimeout,
	}
	log.Info("connected")
	return nil
}

// Disconnect closes the port. It is safe to call when not connected.
func (d *Device) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tr == nil {
		return nil
	}
	err := d.tr.close()
	d.tr = nil
	log.Info("disconnected")
	return err
}

// IsConnected reports whether Connect succeeded and Disconnect has not been
// called since.
func (d *Device) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tr != nil
}

// WithDevice connects d, runs fn and disconnects again, whatever fn returns.
func WithDevice(d *Device, fn func(*Device) error) (err error) {
	if err := d.Connect(); err != nil {
		return err
	}
	defer func() {
		if cerr := d.Disconnect(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(d)
}

// exchange runs one operation with the device lock held: rate limit, the
// I/O in fn, then bookkeeping.
func (d *Device) exchange(op string, fn func(t *transport) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tr == nil {
		return ErrNotConnected
	}
	d.waitQuiet()

	start := time.Now()
	err := fn(d.tr)
	d.lastOp = time.Now()
	if d.tr.closed {
		d.tr = nil
		log.Warnf("%s: port closed after write timeout, disconnected", op)
	}

	if err != nil {
		log.WithError(err).Debugf("%s failed", op)
	}
	if d.cfg.Observer != nil {
		d.cfg.Observer(op, d.lastOp.Sub(start), err)
	}
	return err
}

// waitQuiet sleeps until MinInterval has passed since the last operation.
func (d *Device) waitQuiet() {
	if d.lastOp.IsZero() {
		return
	}
	if wait := d.cfg.MinInterval - time.Since(d.lastOp); wait > 0 {
		time.Sleep(wait)
	}
}

// command runs an operation whose only answer is a fixed status frame.
func (d *Device) command(op string, cmd, ok []byte) error {
	return d.exchange(op, func(t *transport) error {
		resp, err := t.roundTrip(op, cmd, len(ok))
		if err != nil {
			return err
		}
		return checkStatus(op, resp, ok)
	})
}

// ReadDeviceName returns the name stored on the logger.
func (d *Device) ReadDeviceName() (string, error) {
	const op = "read device name"
	var name string
	err := d.exchange(op, func(t *transport) error {
		resp, err := t.roundTrip(op, encodeCommand(opReadName, nil), nameResponseSize)
		if err != nil {
			return err
		}
		name, err = decodeDeviceName(resp)
		return err
	})
	return name, err
}

// ReadConfig returns the logger configuration.
func (d *Device) ReadConfig() (*Config, error) {
	const op = "read config"
	var cfg *Config
	err := d.exchange(op, func(t *transport) error {
		resp, err := t.roundTrip(op, encodeCommand(opReadConfig, nil), configResponseSize)
		if err != nil {
			return err
		}
		cfg, err = decodeConfig(resp)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteConfig stores cfg on the logger. The device-maintained fields
// (counters, battery, timestamp) are ignored.
func (d *Device) WriteConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return d.command("write config", encodeConfig(&cfg), writeConfigOK)
}

// ReadOffsets returns the current readings and calibration offsets.
func (d *Device) ReadOffsets() (*Offsets, error) {
	const op = "read offsets"
	var o *Offsets
	err := d.exchange(op, func(t *transport) error {
		resp, err := t.roundTrip(op, encodeCommand(opReadOffsets, nil), offsetsResponseSize)
		if err != nil {
			return err
		}
		o, err = decodeOffsets(resp)
		return err
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// WriteOffsets stores the three calibration offsets of o. The current
// reading fields are ignored.
func (d *Device) WriteOffsets(o Offsets) error {
	if err := o.Validate(); err != nil {
		return err
	}
	return d.command("write offsets", encodeOffsets(&o), writeOffsetsOK)
}

// ReadData downloads every stored reading, oldest first. An empty logger
// yields an empty, non-nil slice.
//
// The whole memory is read in one go; on a full logger that takes a while
// and cannot be interrupted short of closing the port.
func (d *Device) ReadData() ([]Reading, error) {
	const op = "read data"
	var readings []Reading
	err := d.exchange(op, func(t *transport) error {
		header, err := t.roundTrip(op, encodeCommand(opReadData, nil), dataHeaderSize)
		if err != nil {
			return err
		}
		length, err := decodeDataLength(header)
		if err != nil {
			return err
		}
		if length < minDataLength {
			// Drain the CRC so it does not prefix the next response.
			if _, err := t.readFull(op, crcSize); err != nil {
				return err
			}
			readings = []Reading{}
			return nil
		}
		block, err := t.readFull(op, length)
		if err != nil {
			return err
		}
		readings, err = decodeReadings(block)
		return err
	})
	if err != nil {
		return nil, err
	}
	return readings, nil
}

// DeleteData erases all stored readings.
func (d *Device) DeleteData() error {
	return d.command("delete data", encodeCommand(opDeleteData, nil), deleteDataOK)
}

// RestoreFactory resets the logger to its factory settings.
func (d *Device) RestoreFactory() error {
	return d.command("restore factory", encodeCommand(opFactoryReset, nil), factoryResetOK)
}

// WriteDateTime sets the logger clock to the wall-clock fields of ts. The
// location of ts only matters through those fields.
func (d *Device) WriteDateTime(ts time.Time) error {
	if err := validateTimestamp(ts); err != nil {
		return err
	}
	return d.command("write datetime", encodeDateTime(ts), syncTimeOK)
}

// SyncTime sets the logger clock to the host's local time.
func (d *Device) SyncTime() error {
	return d.WriteDateTime(WallClock(time.Now()))
}
