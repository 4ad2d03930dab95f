package ut330

import (
	"time"
)

// Limits accepted by the logger firmware.
const (
	MaxNameLength       = 10
	MaxSamplingInterval = 86400  // 24 h, seconds
	MaxDelayTiming      = 604800 // 7 days, seconds
	MinOffset           = -6.0
	MaxOffset           = 6.1

	minYear = 2000
	maxYear = minYear + 255
)

// offsetEpsilon absorbs float noise at the offset bounds (e.g. 6.1 parsed
// from text).
const offsetEpsilon = 1e-9

// Config is the logger configuration block.
//
// ReadingsCount, ReadingsLimit, BatteryPower and Timestamp are maintained by
// the device and ignored on write. Timestamp, like Reading.Timestamp, is the
// logger's zoneless clock reading expressed in UTC (see WallClock).
type Config struct {
	DeviceName        string    `json:"deviceName" yaml:"device_name"`
	SamplingInterval  int       `json:"samplingInterval" yaml:"sampling_interval"` // seconds
	ReadingsCount     int       `json:"readingsCount" yaml:"readings_count"`
	ReadingsLimit     int       `json:"readingsLimit" yaml:"readings_limit"`
	BatteryPower      int       `json:"batteryPower" yaml:"battery_power"` // %
	OverwriteRecords  bool      `json:"overwriteRecords" yaml:"overwrite_records"`
	DelayStart        bool      `json:"delayStart" yaml:"delay_start"`
	DelayTiming       int       `json:"delayTiming" yaml:"delay_timing"`              // seconds
	HighTempAlarm     int       `json:"highTempAlarm" yaml:"high_temp_alarm"`         // °C
	LowTempAlarm      int       `json:"lowTempAlarm" yaml:"low_temp_alarm"`           // °C
	HighHumidityAlarm int       `json:"highHumidityAlarm" yaml:"high_humidity_alarm"` // %RH
	LowHumidityAlarm  int       `json:"lowHumidityAlarm" yaml:"low_humidity_alarm"`   // %RH
	Timestamp         time.Time `json:"timestamp" yaml:"timestamp"`

	// Reserved holds the response bytes nobody has identified yet: frame
	// offsets 14-19 followed by offset 33. Kept verbatim, never interpreted.
	Reserved [7]byte `json:"-" yaml:"-"`
}

// Validate checks the writable fields against the firmware limits.
func (c *Config) Validate() error {
	if len(c.DeviceName) == 0 {
		return &ValidationError{Field: "device name", Value: `""`, Reason: "must not be empty"}
	}
	if len(c.DeviceName) > MaxNameLength {
		return &ValidationError{Field: "device name", Value: c.DeviceName,
			Reason: "longer than 10 characters"}
	}
	for _, r := range c.DeviceName {
		if r < 0x20 || r > 0x7E {
			return &ValidationError{Field: "device name", Value: c.DeviceName,
				Reason: "only printable ASCII is allowed"}
		}
	}
	if c.SamplingInterval < 0 || c.SamplingInterval > MaxSamplingInterval {
		return &ValidationError{Field: "sampling interval", Value: c.SamplingInterval,
			Reason: "must be between 0 and 86400"}
	}
	if c.DelayTiming < 0 || c.DelayTiming > MaxDelayTiming {
		return &ValidationError{Field: "delay timing", Value: c.DelayTiming,
			Reason: "must be between 0 and 604800"}
	}
	for _, a := range []struct {
		name string
		v    int
	}{
		{"high temperature alarm", c.HighTempAlarm},
		{"low temperature alarm", c.LowTempAlarm},
	} {
		if a.v < -128 || a.v > 127 {
			return &ValidationError{Field: a.name, Value: a.v, Reason: "must fit a signed byte"}
		}
	}
	for _, a := range []struct {
		name string
		v    int
	}{
		{"high humidity alarm", c.HighHumidityAlarm},
		{"low humidity alarm", c.LowHumidityAlarm},
	} {
		if a.v < 0 || a.v > 100 {
			return &ValidationError{Field: a.name, Value: a.v, Reason: "must be between 0 and 100"}
		}
	}
	return nil
}

// Offsets holds the current sensor readings and the calibration offset
// applied to each of them.
type Offsets struct {
	Temperature       float64 `json:"temperature" yaml:"temperature"` // °C
	TemperatureOffset float64 `json:"temperatureOffset" yaml:"temperature_offset"`
	Humidity          float64 `json:"humidity" yaml:"humidity"` // %RH
	HumidityOffset    float64 `json:"humidityOffset" yaml:"humidity_offset"`
	Pressure          float64 `json:"pressure" yaml:"pressure"` // Pa
	PressureOffset    float64 `json:"pressureOffset" yaml:"pressure_offset"`

	// Reserved holds response bytes 13-15, meaning unknown.
	Reserved [3]byte `json:"-" yaml:"-"`
}

// Validate checks that every offset is within [-6.0, 6.1].
func (o *Offsets) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"temperature offset", o.TemperatureOffset},
		{"humidity offset", o.HumidityOffset},
		{"pressure offset", o.PressureOffset},
	} {
		if f.v < MinOffset-offsetEpsilon || f.v > MaxOffset+offsetEpsilon {
			return &ValidationError{Field: f.name, Value: f.v, Reason: "must be between -6.0 and 6.1"}
		}
	}
	return nil
}

// Reading is one stored sample.
type Reading struct {
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
	Temperature float64   `json:"temperature" yaml:"temperature"` // °C
	Humidity    float64   `json:"humidity" yaml:"humidity"`       // %RH
	Pressure    float64   `json:"pressure" yaml:"pressure"`       // Pa
}

// WallClock returns the wall-clock fields of t in UTC. Logger timestamps have
// no zone and are represented this way.
func WallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func validateTimestamp(ts time.Time) error {
	if ts.Year() < minYear || ts.Year() > maxYear {
		return &ValidationError{Field: "timestamp", Value: ts.Format(time.DateTime),
			Reason: "year must be between 2000 and 2255"}
	}
	return nil
}
