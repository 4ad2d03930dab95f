package ut330

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"time"
)

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		name string
		op   byte
		want []byte
	}{
		{"ReadConfig", opReadConfig, []byte{0xAB, 0xCD, 0x03, 0x11, 0x71, 0x03}},
		{"ReadOffsets", opReadOffsets, []byte{0xAB, 0xCD, 0x03, 0x17, 0xF1, 0x01}},
		{"DeleteData", opDeleteData, []byte{0xAB, 0xCD, 0x03, 0x18, 0xB1, 0x05}},
		{"ReadData", opReadData, []byte{0xAB, 0xCD, 0x03, 0x19, 0x70, 0xC5}},
		{"FactoryReset", opFactoryReset, []byte{0xAB, 0xCD, 0x03, 0x20, 0xB0, 0xD7}},
		{"ReadName", opReadName, []byte{0xAB, 0xCD, 0x03, 0x51, 0x70, 0xF3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := encodeCommand(tt.op, nil)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("encodeCommand(0x%02X) = % X, want % X", tt.op, got, tt.want)
			}
		})
	}
}

func TestEncodeConfigLayout(t *testing.T) {
	cmd := encodeConfig(&Config{
		DeviceName:        "LAB",
		SamplingInterval:  86400, // 0x015180
		OverwriteRecords:  true,
		DelayStart:        false,
		DelayTiming:       604800, // 0x093A80
		HighTempAlarm:     45,
		LowTempAlarm:      -12,
		HighHumidityAlarm: 95,
		LowHumidityAlarm:  5,
	})

	if len(cmd) != 29 {
		t.Fatalf("len = %d, want 29", len(cmd))
	}
	wantHead := []byte{0xAB, 0xCD, 0x1A, 0x10}
	if !bytes.Equal(cmd[:4], wantHead) {
		t.Errorf("head = % X, want % X", cmd[:4], wantHead)
	}
	if got := string(cmd[4:14]); got != "       LAB" {
		t.Errorf("name field = %q, want right-justified", got)
	}
	wantBody := []byte{
		0x80, 0x51, 0x01, // sampling interval
		0x01,             // overwrite
		0x00,             // delay start
		0x80, 0x3A, 0x09, // delay timing
		0x00,             // unidentified
		45, 0xF4,         // temperature alarms, -12 = 0xF4
		95, 5,            // humidity alarms
	}
	if !bytes.Equal(cmd[14:27], wantBody) {
		t.Errorf("body = % X, want % X", cmd[14:27], wantBody)
	}
	if !validCRC(cmd) {
		t.Errorf("bad CRC in % X", cmd)
	}
}

func TestEncodeDateTime(t *testing.T) {
	cmd := encodeDateTime(time.Date(2024, time.February, 29, 23, 59, 7, 0, time.UTC))
	want := []byte{0xAB, 0xCD, 0x09, 0x12, 24, 2, 29, 23, 59, 7}
	if len(cmd) != 12 || !bytes.Equal(cmd[:10], want) {
		t.Fatalf("cmd = % X, want % X + crc", cmd, want)
	}
	if !validCRC(cmd) {
		t.Errorf("bad CRC in % X", cmd)
	}
}

// localZone switches time.Local for the duration of the test.
func localZone(t *testing.T, name string) {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("zone %s unavailable: %v", name, err)
	}
	prev := time.Local
	time.Local = loc
	t.Cleanup(func() { time.Local = prev })
}

func TestTimestampInLocalGapHour(t *testing.T) {
	// 01:00-02:00 on 2024-03-31 does not exist in Europe/London.
	localZone(t, "Europe/London")

	raw := []byte{24, 3, 31, 1, 30, 0}
	ts, err := decodeTimestamp("read data", raw)
	if err != nil {
		t.Fatalf("decodeTimestamp: %v", err)
	}
	if ts.Hour() != 1 || ts.Minute() != 30 || ts.Day() != 31 {
		t.Errorf("decoded %v, want 2024-03-31 01:30:00", ts)
	}
	out := make([]byte, timestampSize)
	encodeTimestamp(out, ts)
	if !bytes.Equal(out, raw) {
		t.Errorf("re-encoded % X, want % X", out, raw)
	}

	var block []byte
	for _, hm := range [][2]int{{0, 30}, {1, 0}, {1, 30}, {2, 0}} {
		block = append(block, record(time.Date(2024, time.March, 31, hm[0], hm[1], 0, 0, time.UTC), 10, 50, 0, 0)...)
	}
	got, err := decodeReadings(appendCRC(block))
	if err != nil {
		t.Fatalf("decodeReadings: %v", err)
	}
	for i := 1; i < len(got); i++ {
		if d := got[i].Timestamp.Sub(got[i-1].Timestamp); d != 30*time.Minute {
			t.Errorf("reading %d is %v after the previous one, want 30m", i, d)
		}
	}
}

func TestWallClockKeepsFields(t *testing.T) {
	localZone(t, "Europe/London")
	in := time.Date(2024, time.July, 1, 14, 5, 9, 0, time.Local)
	got := WallClock(in)
	if got.Location() != time.UTC || got.Hour() != 14 || got.Minute() != 5 || got.Second() != 9 {
		t.Errorf("WallClock(%v) = %v", in, got)
	}
	cmd := encodeDateTime(in)
	if want := []byte{24, 7, 1, 14, 5, 9}; !bytes.Equal(cmd[4:10], want) {
		t.Errorf("encodeDateTime payload = % X, want % X", cmd[4:10], want)
	}
}

func TestEncodeOffsets(t *testing.T) {
	cmd := encodeOffsets(&Offsets{TemperatureOffset: -1.5, HumidityOffset: 6.1, PressureOffset: -6})
	want := []byte{0xAB, 0xCD, 0x06, 0x16, 0xF1, 0x3D, 0xC4}
	if len(cmd) != 9 || !bytes.Equal(cmd[:7], want) {
		t.Fatalf("cmd = % X, want % X + crc", cmd, want)
	}
}

func configFrame() []byte {
	f := make([]byte, configResponseSize)
	f[0], f[1], f[2], f[3] = 0xAB, 0xCD, 0x2B, 0x11
	copy(f[4:14], "  UT330B  ")
	copy(f[14:20], []byte{0xE1, 0xE2, 0xE3, 0xE4, 0xE5, 0xE6})
	f[20], f[21], f[22] = 0x3C, 0x00, 0x00 // 60 s
	f[23], f[24] = 0x34, 0x12             // 0x1234 readings
	f[25], f[26] = 0x60, 0xEA             // 60000 limit
	f[27] = 77
	f[28] = 1
	f[29] = 0
	f[30], f[31], f[32] = 0x10, 0x0E, 0x00 // 3600 s
	f[33] = 0x99
	f[34] = 0xFB // -5
	f[35] = 0x85 // -123
	f[36] = 80
	f[37] = 20
	copy(f[38:44], []byte{16, 3, 2, 18, 10, 21})
	hi, lo := CRC16(f[:44])
	f[44], f[45] = lo, hi
	return f
}

func TestDecodeConfig(t *testing.T) {
	c, err := decodeConfig(configFrame())
	if err != nil {
		t.Fatalf("decodeConfig: %v", err)
	}
	want := Config{
		DeviceName:        "UT330B",
		SamplingInterval:  60,
		ReadingsCount:     0x1234,
		ReadingsLimit:     60000,
		BatteryPower:      77,
		OverwriteRecords:  true,
		DelayStart:        false,
		DelayTiming:       3600,
		HighTempAlarm:     -5,
		LowTempAlarm:      -123,
		HighHumidityAlarm: 80,
		LowHumidityAlarm:  20,
		Timestamp:         time.Date(2016, time.March, 2, 18, 10, 21, 0, time.UTC),
		Reserved:          [7]byte{0xE1, 0xE2, 0xE3, 0xE4, 0xE5, 0xE6, 0x99},
	}
	if !c.Timestamp.Equal(want.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", c.Timestamp, want.Timestamp)
	}
	c.Timestamp = want.Timestamp
	if *c != want {
		t.Errorf("decodeConfig =\n%+v\nwant\n%+v", *c, want)
	}
}

func TestDecodeConfigPositiveAlarms(t *testing.T) {
	f := configFrame()
	f[34], f[35] = 127, 0
	c, err := decodeConfig(f)
	if err != nil {
		t.Fatalf("decodeConfig: %v", err)
	}
	if c.HighTempAlarm != 127 || c.LowTempAlarm != 0 {
		t.Errorf("alarms = %d/%d, want 127/0", c.HighTempAlarm, c.LowTempAlarm)
	}
}

func TestDecodeConfigErrors(t *testing.T) {
	short := configFrame()[:40]
	badSync := configFrame()
	badSync[0] = 0x00
	badDate := configFrame()
	badDate[39] = 13 // month

	for name, frame := range map[string][]byte{"short": short, "sync": badSync, "date": badDate} {
		t.Run(name, func(t *testing.T) {
			_, err := decodeConfig(frame)
			var pe *ProtocolError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want *ProtocolError", err)
			}
		})
	}
}

func TestDecodeOffsets(t *testing.T) {
	f := make([]byte, offsetsResponseSize)
	f[0], f[1], f[2], f[3] = 0xAB, 0xCD, 0x0F, 0x17
	f[4], f[5] = 0x97, 0xFF   // -10.5 °C
	f[6] = 0xF1               // -1.5
	f[7], f[8] = 0xE2, 0x01   // 48.2 %
	f[9] = 0x3D               // 6.1
	f[10], f[11] = 0x94, 0x27 // 1013.2
	f[12] = 0xC4              // -6.0
	f[13], f[14], f[15] = 1, 2, 3

	o, err := decodeOffsets(f)
	if err != nil {
		t.Fatalf("decodeOffsets: %v", err)
	}
	want := Offsets{
		Temperature: -10.5, TemperatureOffset: -1.5,
		Humidity: 48.2, HumidityOffset: 6.1,
		Pressure: 1013.2, PressureOffset: -6,
		Reserved: [3]byte{1, 2, 3},
	}
	if *o != want {
		t.Errorf("decodeOffsets =\n%+v\nwant\n%+v", *o, want)
	}
}

func TestTenthsTwosComplement(t *testing.T) {
	for _, v := range []float64{-10.5, -0.1, 0, 0.1, 23.4, -40, 80, -3276.8, 3276.7} {
		b := make([]byte, 2)
		encodeTenths(b, v)
		if got := decodeTenths(b); math.Abs(got-v) > 1e-9 {
			t.Errorf("decodeTenths(encodeTenths(%v)) = %v", v, got)
		}
	}
	b := make([]byte, 2)
	encodeTenths(b, -10.5)
	if b[0] != 0x97 || b[1] != 0xFF {
		t.Errorf("encodeTenths(-10.5) = % X, want 97 FF", b)
	}
}

func TestOffsetByte(t *testing.T) {
	for v := -60; v <= 61; v++ {
		f := float64(v) / 10
		if got := decodeOffset(encodeOffset(f)); math.Abs(got-f) > 1e-9 {
			t.Errorf("offset %v round-tripped to %v", f, got)
		}
	}
}

func record(ts time.Time, temp, hum float64, pressureLo, pressureHi byte) []byte {
	r := make([]byte, recordSize)
	encodeTimestamp(r, ts)
	encodeTenths(r[6:], temp)
	h := uint16(math.Round(hum * 10))
	r[8], r[9] = byte(h), byte(h>>8)
	r[10], r[11] = pressureLo, pressureHi
	return r
}

func TestDecodeReadings(t *testing.T) {
	base := time.Date(2020, time.January, 5, 12, 0, 0, 0, time.UTC)
	var block []byte
	for i := 0; i < 3; i++ {
		block = append(block, record(base.Add(time.Duration(i)*time.Minute), -10.5+float64(i), 40+float64(i), 0, 0)...)
	}
	block = appendCRC(block)

	got, err := decodeReadings(block)
	if err != nil {
		t.Fatalf("decodeReadings: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d readings, want 3", len(got))
	}
	for i, r := range got {
		if !r.Timestamp.Equal(base.Add(time.Duration(i) * time.Minute)) {
			t.Errorf("reading %d timestamp = %v", i, r.Timestamp)
		}
		if want := -10.5 + float64(i); math.Abs(r.Temperature-want) > 1e-9 {
			t.Errorf("reading %d temperature = %v, want %v", i, r.Temperature, want)
		}
		if want := 40 + float64(i); math.Abs(r.Humidity-want) > 1e-9 {
			t.Errorf("reading %d humidity = %v, want %v", i, r.Humidity, want)
		}
	}
}

func TestDecodeReadingsPressureUsesLowByteTwice(t *testing.T) {
	ts := time.Date(2021, time.June, 1, 0, 0, 0, 0, time.UTC)
	block := appendCRC(record(ts, 20, 50, 0x94, 0x27))

	got, err := decodeReadings(block)
	if err != nil {
		t.Fatalf("decodeReadings: %v", err)
	}
	// 0x94 + 256*0x94 = 38036; the high byte 0x27 is never read.
	if want := 3803.6; math.Abs(got[0].Pressure-want) > 1e-9 {
		t.Errorf("pressure = %v, want %v", got[0].Pressure, want)
	}
}

func TestDecodeReadingsDropsPartialRecord(t *testing.T) {
	ts := time.Date(2021, time.June, 1, 0, 0, 0, 0, time.UTC)
	block := append(record(ts, 20, 50, 0, 0), record(ts, 21, 51, 0, 0)...)
	block = append(block, 1, 2, 3, 4, 5)
	block = appendCRC(block)

	got, err := decodeReadings(block)
	if err != nil {
		t.Fatalf("decodeReadings: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d readings, want 2", len(got))
	}
}

func TestDecodeDataLength(t *testing.T) {
	header := []byte{0xAB, 0xCD, 0x05, 0x19, 0x1A, 0x00, 0x00, 0x00}
	n, err := decodeDataLength(header)
	if err != nil || n != 26 {
		t.Fatalf("decodeDataLength = %d, %v; want 26", n, err)
	}

	huge := []byte{0xAB, 0xCD, 0x05, 0x19, 0xFF, 0xFF, 0xFF, 0xFF}
	var pe *ProtocolError
	if _, err := decodeDataLength(huge); !errors.As(err, &pe) {
		t.Errorf("err = %v, want *ProtocolError", err)
	}
}
