// Package export renders downloaded readings for people and spreadsheets.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shaunagostinho/ut330-logger/internal/ut330"
)

var csvHeader = []string{"timestamp", "temperature_c", "humidity_pct", "pressure"}

// TimeFormat is the timestamp layout used in CSV rows. Device timestamps carry
// no zone, so none is printed.
const TimeFormat = "2006-01-02 15:04:05"

// CSVWriter writes readings as CSV rows, header first.
type CSVWriter struct {
	w           *csv.Writer
	wroteHeader bool
	rows        int
}

// NewCSVWriter returns a CSVWriter writing to w.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

// Write appends readings. The header is written on the first call even when
// readings is empty.
func (c *CSVWriter) Write(readings []ut330.Reading) error {
	if !c.wroteHeader {
		if err := c.w.Write(csvHeader); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
		c.wroteHeader = true
	}
	for _, r := range readings {
		if err := c.w.Write(buildRow(r)); err != nil {
			return fmt.Errorf("write csv row %d: %w", c.rows, err)
		}
		c.rows++
	}
	c.w.Flush()
	return c.w.Error()
}

// Rows returns the number of data rows written so far.
func (c *CSVWriter) Rows() int { return c.rows }

// WriteCSV writes a header and one row per reading to w.
func WriteCSV(w io.Writer, readings []ut330.Reading) error {
	return NewCSVWriter(w).Write(readings)
}

func buildRow(r ut330.Reading) []string {
	return []string{
		r.Timestamp.Format(TimeFormat),
		strconv.FormatFloat(r.Temperature, 'f', 1, 64),
		strconv.FormatFloat(r.Humidity, 'f', 1, 64),
		strconv.FormatFloat(r.Pressure, 'f', 1, 64),
	}
}

// Summary describes a set of readings in one line per field.
type Summary struct {
	Count          int
	First, Last    time.Time
	MinTemperature float64
	MaxTemperature float64
	MinHumidity    float64
	MaxHumidity    float64
}

// Summarize computes a Summary. The zero Summary is returned for no readings.
func Summarize(readings []ut330.Reading) Summary {
	var s Summary
	for i, r := range readings {
		if i == 0 {
			s = Summary{
				First: r.Timestamp, Last: r.Timestamp,
				MinTemperature: r.Temperature, MaxTemperature: r.Temperature,
				MinHumidity: r.Humidity, MaxHumidity: r.Humidity,
			}
		}
		s.Count++
		if r.Timestamp.Before(s.First) {
			s.First = r.Timestamp
		}
		if r.Timestamp.After(s.Last) {
			s.Last = r.Timestamp
		}
		s.MinTemperature = min(s.MinTemperature, r.Temperature)
		s.MaxTemperature = max(s.MaxTemperature, r.Temperature)
		s.MinHumidity = min(s.MinHumidity, r.Humidity)
		s.MaxHumidity = max(s.MaxHumidity, r.Humidity)
	}
	return s
}

// WriteText writes readings as an aligned table followed by a summary line.
func WriteText(w io.Writer, readings []ut330.Reading) error {
	if _, err := fmt.Fprintf(w, "%-19s  %7s  %6s  %8s\n", "TIMESTAMP", "TEMP °C", "RH %", "PRESSURE"); err != nil {
		return err
	}
	for _, r := range readings {
		if _, err := fmt.Fprintf(w, "%-19s  %7.1f  %6.1f  %8.1f\n",
			r.Timestamp.Format(TimeFormat), r.Temperature, r.Humidity, r.Pressure); err != nil {
			return err
		}
	}
	s := Summarize(readings)
	if s.Count == 0 {
		_, err := fmt.Fprintln(w, "no readings stored")
		return err
	}
	_, err := fmt.Fprintf(w, "%d readings from %s to %s, %.1f..%.1f °C, %.1f..%.1f %%RH\n",
		s.Count, s.First.Format(TimeFormat), s.Last.Format(TimeFormat),
		s.MinTemperature, s.MaxTemperature, s.MinHumidity, s.MaxHumidity)
	return err
}
