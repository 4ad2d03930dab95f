package ut330

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Simulator is an in-memory UT330 for development and testing. It
// implements Port: commands written to it are answered the way the logger
// answers them, with valid CRCs.
type Simulator struct {
	mu      sync.Mutex
	closed  bool
	out     bytes.Buffer
	animate bool
	t       float64 // virtual time accumulator for animated live values

	cfg      Config
	skew     time.Duration // device clock minus host wall clock
	offsets  [3]float64
	live     [3]float64 // raw temperature, humidity, pressure
	readings []Reading

	writes int
}

var errSimulatorClosed = errors.New("simulator: port closed")

const simReadingsLimit = 60000

// NewSimulator returns a simulated UT330B holding a day of quarter-hourly
// readings, with live values that drift over time.
func NewSimulator() *Simulator {
	s := &Simulator{animate: true}
	s.restoreFactory()

	now := WallClock(time.Now()).Truncate(15 * time.Minute)
	for i := 95; i >= 0; i-- {
		ts := now.Add(-time.Duration(i) * 15 * time.Minute)
		phase := float64(ts.Hour()*60+ts.Minute()) / (24 * 60) * 2 * math.Pi
		s.readings = append(s.readings, Reading{
			Timestamp:   ts,
			Temperature: math.Round((19+4*math.Sin(phase-math.Pi/2)+rand.Float64()*0.4)*10) / 10,
			Humidity:    math.Round((55-10*math.Sin(phase-math.Pi/2)+rand.Float64())*10) / 10,
		})
	}
	return s
}

// Opener returns an OpenFunc that reopens the simulator.
func (s *Simulator) Opener() OpenFunc {
	return func(ConnConfig) (Port, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = false
		s.out.Reset()
		return s, nil
	}
}

// SetReadings replaces the stored readings.
func (s *Simulator) SetReadings(r []Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append([]Reading(nil), r...)
}

// Readings returns a copy of the stored readings.
func (s *Simulator) Readings() []Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Reading(nil), s.readings...)
}

// SetLive fixes the raw sensor values and stops them drifting.
func (s *Simulator) SetLive(temperature, humidity, pressure float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.animate = false
	s.live = [3]float64{temperature, humidity, pressure}
}

// Writes returns the number of Write calls seen.
func (s *Simulator) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Clock returns the simulated logger's current time.
func (s *Simulator) Clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return WallClock(time.Now()).Add(s.skew)
}

func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errSimulatorClosed
	}
	return s.out.Read(p)
}

// Write takes one complete command frame. Frames with a bad sync, length
// or CRC are swallowed without an answer, like the logger does.
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errSimulatorClosed
	}
	s.writes++
	s.out.Reset()

	if len(p) < headerSize+crcSize || p[0] != sync0 || p[1] != sync1 ||
		int(p[2]) != len(p)-3 || !validCRC(p) {
		log.Debugf("simulator: ignoring malformed frame % X", p)
		return len(p), nil
	}
	payload := p[headerSize : len(p)-crcSize]

	switch p[3] {
	case opReadName:
		s.reply(s.nameResponse())
	case opReadConfig:
		s.reply(s.configResponse())
	case opWriteConfig:
		if len(payload) == 23 {
			s.writeConfig(payload)
			s.reply(writeConfigOK)
		}
	case opSyncTime:
		if len(payload) == timestampSize {
			if ts, err := decodeTimestamp("simulator", payload); err == nil {
				s.skew = ts.Sub(WallClock(time.Now()))
				s.reply(syncTimeOK)
			}
		}
	case opReadOffsets:
		s.reply(s.offsetsResponse())
	case opWriteOffsets:
		if len(payload) == 3 {
			for i := range s.offsets {
				s.offsets[i] = decodeOffset(payload[i])
			}
			s.reply(writeOffsetsOK)
		}
	case opDeleteData:
		s.readings = nil
		s.reply(deleteDataOK)
	case opReadData:
		s.reply(s.dataResponse())
	case opFactoryReset:
		s.restoreFactory()
		s.reply(factoryResetOK)
	default:
		log.Debugf("simulator: unknown opcode 0x%02X", p[3])
	}
	return len(p), nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.out.Reset()
	return nil
}

// ResetInputBuffer drops any unread response bytes.
func (s *Simulator) ResetInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSimulatorClosed
	}
	s.out.Reset()
	return nil
}

func (s *Simulator) reply(b []byte) {
	s.out.Write(b)
}

func (s *Simulator) restoreFactory() {
	s.cfg = Config{
		DeviceName:        "UT330B",
		SamplingInterval:  900,
		OverwriteRecords:  true,
		HighTempAlarm:     60,
		LowTempAlarm:      -20,
		HighHumidityAlarm: 90,
		LowHumidityAlarm:  10,
	}
	s.offsets = [3]float64{}
	s.live = [3]float64{21.4, 48.2, 0}
}

// response builds a structured response of size bytes around body, which
// starts at frame offset 4.
func response(op byte, size int, body []byte) []byte {
	frame := make([]byte, size-crcSize)
	frame[0], frame[1], frame[2], frame[3] = sync0, sync1, byte(size-3), op
	copy(frame[headerSize:], body)
	return appendCRC(frame)
}

func (s *Simulator) nameResponse() []byte {
	b := make([]byte, MaxNameLength)
	encodeName(b, s.cfg.DeviceName)
	return response(opReadName, nameResponseSize, b)
}

func (s *Simulator) configResponse() []byte {
	b := make([]byte, configResponseSize-headerSize-crcSize) // offsets 4..43
	encodeName(b[0:], s.cfg.DeviceName)
	putUint24(b[16:], s.cfg.SamplingInterval)
	binary.LittleEndian.PutUint16(b[19:], uint16(len(s.readings)))
	binary.LittleEndian.PutUint16(b[21:], simReadingsLimit)
	b[23] = 86 // battery %
	if s.cfg.OverwriteRecords {
		b[24] = 1
	}
	if s.cfg.DelayStart {
		b[25] = 1
	}
	putUint24(b[26:], s.cfg.DelayTiming)
	b[30] = byte(int8(s.cfg.HighTempAlarm))
	b[31] = byte(int8(s.cfg.LowTempAlarm))
	b[32] = byte(s.cfg.HighHumidityAlarm)
	b[33] = byte(s.cfg.LowHumidityAlarm)
	encodeTimestamp(b[34:], WallClock(time.Now()).Add(s.skew))
	return response(opReadConfig, configResponseSize, b)
}

// writeConfig applies a write-config payload (frame offsets 4..26).
func (s *Simulator) writeConfig(p []byte) {
	s.cfg.DeviceName = string(p[0:MaxNameLength])
	s.cfg.SamplingInterval = uint24(p[10:])
	s.cfg.OverwriteRecords = p[13] != 0
	s.cfg.DelayStart = p[14] != 0
	s.cfg.DelayTiming = uint24(p[15:])
	s.cfg.HighTempAlarm = int(int8(p[19]))
	s.cfg.LowTempAlarm = int(int8(p[20]))
	s.cfg.HighHumidityAlarm = int(p[21])
	s.cfg.LowHumidityAlarm = int(p[22])
}

func (s *Simulator) offsetsResponse() []byte {
	if s.animate {
		s.t += 0.05
		s.live[0] = 21.4 + 1.5*math.Sin(s.t*0.2) + rand.Float64()*0.2
		s.live[1] = 48.2 - 4*math.Sin(s.t*0.2) + rand.Float64()*0.5
	}
	b := make([]byte, offsetsResponseSize-headerSize-crcSize) // offsets 4..15
	encodeTenths(b[0:], s.live[0]+s.offsets[0])
	b[2] = encodeOffset(s.offsets[0])
	binary.LittleEndian.PutUint16(b[3:], uint16(math.Round((s.live[1]+s.offsets[1])*10)))
	b[5] = encodeOffset(s.offsets[1])
	binary.LittleEndian.PutUint16(b[6:], uint16(math.Round((s.live[2]+s.offsets[2])*10)))
	b[8] = encodeOffset(s.offsets[2])
	return response(opReadOffsets, offsetsResponseSize, b)
}

// dataResponse is the 8-byte header followed by the record block and its CRC.
func (s *Simulator) dataResponse() []byte {
	block := make([]byte, 0, len(s.readings)*recordSize+crcSize)
	for _, r := range s.readings {
		rec := make([]byte, recordSize)
		encodeTimestamp(rec, r.Timestamp)
		encodeTenths(rec[6:], r.Temperature)
		binary.LittleEndian.PutUint16(rec[8:], uint16(math.Round(r.Humidity*10)))
		binary.LittleEndian.PutUint16(rec[10:], uint16(math.Round(r.Pressure*10)))
		block = append(block, rec...)
	}
	block = appendCRC(block)

	header := make([]byte, dataHeaderSize)
	header[0], header[1], header[2], header[3] = sync0, sync1, 0x05, opReadData
	binary.LittleEndian.PutUint32(header[4:], uint32(len(block)))
	return append(header, block...)
}
