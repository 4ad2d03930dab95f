package ut330

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// Frame layout: AB CD <len> <opcode> [payload...] <crc_lo> <crc_hi>.
// The length byte counts opcode, payload and CRC.
const (
	sync0 = 0xAB
	sync1 = 0xCD

	headerSize = 4 // sync(2) + length + opcode
	crcSize    = 2
)

// Opcodes understood by the UT330 family.
const (
	opWriteConfig  byte = 0x10
	opReadConfig   byte = 0x11
	opSyncTime     byte = 0x12
	opWriteOffsets byte = 0x16
	opReadOffsets  byte = 0x17
	opDeleteData   byte = 0x18
	opReadData     byte = 0x19
	opFactoryReset byte = 0x20
	opReadName     byte = 0x51
)

// Response sizes.
const (
	nameResponseSize    = 16
	configResponseSize  = 46
	offsetsResponseSize = 18
	statusResponseSize  = 7
	dataHeaderSize      = 8

	recordSize    = 12
	timestampSize = 6

	// minDataLength is the smallest data block length that holds readings.
	// Anything shorter means the logger memory is empty.
	minDataLength = 22

	// maxDataLength bounds the allocation for a data download. The largest
	// UT330 memory is 60000 records.
	maxDataLength = 60000*recordSize + crcSize
)

// Success responses for the commands that only return a status. Each ends
// with the CRC of its first five bytes.
var (
	writeConfigOK  = []byte{0xAB, 0xCD, 0x04, 0x10, 0x00, 0x73, 0x75}
	syncTimeOK     = []byte{0xAB, 0xCD, 0x04, 0x12, 0x00, 0x72, 0x15}
	writeOffsetsOK = []byte{0xAB, 0xCD, 0x04, 0x16, 0x00, 0x70, 0xD5}
	deleteDataOK   = []byte{0xAB, 0xCD, 0x04, 0x18, 0x00, 0x74, 0xB5}
	factoryResetOK = []byte{0xAB, 0xCD, 0x04, 0x20, 0x00, 0x67, 0x75}
)

// encodeCommand builds a complete command frame for op.
func encodeCommand(op byte, payload []byte) []byte {
	frame := make([]byte, 0, headerSize+len(payload)+crcSize)
	frame = append(frame, sync0, sync1, byte(len(payload)+1+crcSize), op)
	frame = append(frame, payload...)
	return appendCRC(frame)
}

// checkStatus compares a status response with the expected success frame.
func checkStatus(op string, got, want []byte) error {
	if !bytes.Equal(got, want) {
		return &ProtocolError{Op: op, Reason: "device returned error status", Got: got, Want: want}
	}
	return nil
}

// checkFrame validates the size and sync bytes of a structured response.
func checkFrame(op string, frame []byte, size int) error {
	if len(frame) != size {
		return &ProtocolError{Op: op, Reason: fmt.Sprintf("response is %d bytes, want %d", len(frame), size), Got: frame}
	}
	if frame[0] != sync0 || frame[1] != sync1 {
		return &ProtocolError{Op: op, Reason: "missing AB CD sync bytes", Got: frame}
	}
	return nil
}

// --- field codecs ---

func decodeTimestamp(op string, b []byte) (time.Time, error) {
	year, month, day := minYear+int(b[0]), int(b[1]), int(b[2])
	hour, minute, second := int(b[3]), int(b[4]), int(b[5])
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, &ProtocolError{Op: op, Reason: "invalid timestamp", Got: b[:timestampSize]}
	}
	// The logger clock has no zone or DST; in UTC every field survives as is.
	ts := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	if ts.Day() != day {
		return time.Time{}, &ProtocolError{Op: op, Reason: "invalid timestamp", Got: b[:timestampSize]}
	}
	return ts, nil
}

// encodeTimestamp writes the wall-clock fields of ts, whatever its location.
func encodeTimestamp(b []byte, ts time.Time) {
	b[0] = byte(ts.Year() - minYear)
	b[1] = byte(ts.Month())
	b[2] = byte(ts.Day())
	b[3] = byte(ts.Hour())
	b[4] = byte(ts.Minute())
	b[5] = byte(ts.Second())
}

// decodeTenths reads a little-endian two's-complement word in tenths.
func decodeTenths(b []byte) float64 {
	return float64(int16(binary.LittleEndian.Uint16(b))) / 10
}

func encodeTenths(b []byte, v float64) {
	binary.LittleEndian.PutUint16(b, uint16(int16(math.Round(v*10))))
}

// decodeOffset reads a signed byte in tenths.
func decodeOffset(b byte) float64 {
	return float64(int8(b)) / 10
}

func encodeOffset(v float64) byte {
	return byte(int8(math.Round(v * 10)))
}

func uint24(b []byte) int {
	return int(b[0]) | int(b[1])<<8 | int(b[2])<<16
}

func putUint24(b []byte, v int) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func decodeName(b []byte) string {
	return strings.TrimSpace(string(b[:MaxNameLength]))
}

// encodeName right-justifies name in the 10-byte field with spaces.
func encodeName(b []byte, name string) {
	copy(b[:MaxNameLength], fmt.Sprintf("%*s", MaxNameLength, name))
}

// --- device name ---

func decodeDeviceName(frame []byte) (string, error) {
	if err := checkFrame("read device name", frame, nameResponseSize); err != nil {
		return "", err
	}
	return decodeName(frame[4:]), nil
}

// --- configuration ---

func decodeConfig(frame []byte) (*Config, error) {
	const op = "read config"
	if err := checkFrame(op, frame, configResponseSize); err != nil {
		return nil, err
	}
	c := &Config{
		DeviceName:        decodeName(frame[4:]),
		SamplingInterval:  uint24(frame[20:]),
		ReadingsCount:     int(binary.LittleEndian.Uint16(frame[23:])),
		ReadingsLimit:     int(binary.LittleEndian.Uint16(frame[25:])),
		BatteryPower:      int(frame[27]),
		OverwriteRecords:  frame[28] != 0,
		DelayStart:        frame[29] != 0,
		DelayTiming:       uint24(frame[30:]),
		HighHumidityAlarm: int(frame[36]),
		LowHumidityAlarm:  int(frame[37]),
	}

	// Both alarm bytes are two's complement. The two tests are written the
	// way the firmware documents them; do not fold them together.
	if frame[34] < 128 {
		c.HighTempAlarm = int(frame[34])
	} else {
		c.HighTempAlarm = int(frame[34]) - 256
	}
	if frame[35] >= 128 {
		c.LowTempAlarm = int(frame[35]) - 256
	} else {
		c.LowTempAlarm = int(frame[35])
	}

	ts, err := decodeTimestamp(op, frame[38:])
	if err != nil {
		return nil, err
	}
	c.Timestamp = ts

	copy(c.Reserved[:6], frame[14:20])
	c.Reserved[6] = frame[33]
	return c, nil
}

// encodeConfig builds the 29-byte write-config command. c must be valid.
func encodeConfig(c *Config) []byte {
	p := make([]byte, 23) // frame offsets 4..26
	encodeName(p[0:], c.DeviceName)
	putUint24(p[10:], c.SamplingInterval)
	if c.OverwriteRecords {
		p[13] = 1
	}
	if c.DelayStart {
		p[14] = 1
	}
	putUint24(p[15:], c.DelayTiming)
	p[18] = 0 // unidentified, always zero
	p[19] = byte(int8(c.HighTempAlarm))
	p[20] = byte(int8(c.LowTempAlarm))
	p[21] = byte(c.HighHumidityAlarm)
	p[22] = byte(c.LowHumidityAlarm)
	return encodeCommand(opWriteConfig, p)
}

// --- date/time ---

func encodeDateTime(ts time.Time) []byte {
	p := make([]byte, timestampSize)
	encodeTimestamp(p, ts)
	return encodeCommand(opSyncTime, p)
}

// --- offsets ---

func decodeOffsets(frame []byte) (*Offsets, error) {
	if err := checkFrame("read offsets", frame, offsetsResponseSize); err != nil {
		return nil, err
	}
	o := &Offsets{
		Temperature:       decodeTenths(frame[4:]),
		TemperatureOffset: decodeOffset(frame[6]),
		Humidity:          float64(binary.LittleEndian.Uint16(frame[7:])) / 10,
		HumidityOffset:    decodeOffset(frame[9]),
		Pressure:          float64(binary.LittleEndian.Uint16(frame[10:])) / 10,
		PressureOffset:    decodeOffset(frame[12]),
	}
	copy(o.Reserved[:], frame[13:16])
	return o, nil
}

// encodeOffsets builds the 9-byte write-offsets command. o must be valid.
func encodeOffsets(o *Offsets) []byte {
	return encodeCommand(opWriteOffsets, []byte{
		encodeOffset(o.TemperatureOffset),
		encodeOffset(o.HumidityOffset),
		encodeOffset(o.PressureOffset),
	})
}

// --- data download ---

// decodeDataLength returns the data block length announced by the 8-byte
// read-data header. The length includes the trailing CRC.
func decodeDataLength(header []byte) (int, error) {
	const op = "read data"
	if err := checkFrame(op, header, dataHeaderSize); err != nil {
		return 0, err
	}
	length := binary.LittleEndian.Uint32(header[4:])
	if length > maxDataLength {
		return 0, &ProtocolError{Op: op, Reason: fmt.Sprintf("data length %d exceeds logger memory", length), Got: header}
	}
	return int(length), nil
}

// decodeReadings splits a data block into 12-byte records. The final two
// bytes are the block CRC and are not checked.
func decodeReadings(block []byte) ([]Reading, error) {
	end := len(block) - crcSize
	if end < 0 {
		end = 0
	}
	readings := make([]Reading, 0, end/recordSize)

	i := 0
	for ; i+recordSize <= end; i += recordSize {
		rec := block[i : i+recordSize]
		ts, err := decodeTimestamp("read data", rec)
		if err != nil {
			return nil, err
		}
		readings = append(readings, Reading{
			Timestamp:   ts,
			Temperature: decodeTenths(rec[6:]),
			Humidity:    float64(binary.LittleEndian.Uint16(rec[8:])) / 10,
			// Both terms read byte 10. Unverified on a logger with a
			// pressure sensor; see DESIGN.md before "fixing".
			Pressure: float64(int(rec[10])+256*int(rec[10])) / 10,
		})
	}
	if i < end {
		log.Warnf("read data: dropped %d trailing bytes of a partial record", end-i)
	}
	return readings, nil
}
