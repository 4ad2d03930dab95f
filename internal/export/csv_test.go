package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/shaunagostinho/ut330-logger/internal/ut330"
)

func sample() []ut330.Reading {
	base := time.Date(2021, time.June, 3, 14, 0, 0, 0, time.UTC)
	return []ut330.Reading{
		{Timestamp: base, Temperature: -3.5, Humidity: 81.2},
		{Timestamp: base.Add(time.Minute), Temperature: 22, Humidity: 40.05, Pressure: 1013.2},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sample()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not CSV: %v", err)
	}
	want := [][]string{
		csvHeader,
		{"2021-06-03 14:00:00", "-3.5", "81.2", "0.0"},
		{"2021-06-03 14:01:00", "22.0", "40.0", "1013.2"},
	}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d", len(rows), len(want))
	}
	for i := range want {
		if strings.Join(rows[i], ",") != strings.Join(want[i], ",") {
			t.Errorf("row %d = %v, want %v", i, rows[i], want[i])
		}
	}
}

func TestCSVWriterHeaderOnce(t *testing.T) {
	var buf bytes.Buffer
	w := NewCSVWriter(&buf)
	if err := w.Write(nil); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "timestamp,temperature_c,humidity_pct,pressure\n" {
		t.Errorf("empty export = %q", got)
	}
	w.Write(sample())
	w.Write(sample()[:1])
	if n := strings.Count(buf.String(), "timestamp"); n != 1 {
		t.Errorf("header written %d times", n)
	}
	if w.Rows() != 3 {
		t.Errorf("Rows = %d, want 3", w.Rows())
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sample())
	if s.Count != 2 || s.MinTemperature != -3.5 || s.MaxTemperature != 22 ||
		s.MinHumidity != 40.05 || s.MaxHumidity != 81.2 {
		t.Errorf("Summarize = %+v", s)
	}
	if !s.Last.After(s.First) {
		t.Errorf("First %v not before Last %v", s.First, s.Last)
	}
	if (Summarize(nil) != Summary{}) {
		t.Error("Summarize(nil) is not the zero Summary")
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, sample()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "2 readings from 2021-06-03 14:00:00 to 2021-06-03 14:01:00") {
		t.Errorf("summary line missing:\n%s", out)
	}

	buf.Reset()
	WriteText(&buf, []ut330.Reading{})
	if !strings.Contains(buf.String(), "no readings stored") {
		t.Errorf("empty output:\n%s", buf.String())
	}
}
