package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/ut330-logger/internal/export"
	"github.com/shaunagostinho/ut330-logger/internal/ut330"
)

// print writes v in the selected format; text() renders the text format.
func (a *app) print(v any, text func() string) error {
	switch a.format {
	case "json":
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		_, err := fmt.Fprint(a.out, text())
		return err
	default:
		return fmt.Errorf("format %q is not available for this command", a.format)
	}
}

func (a *app) printReadings(readings []ut330.Reading) error {
	switch a.format {
	case "csv":
		return export.WriteCSV(a.out, readings)
	case "text", "":
		return export.WriteText(a.out, readings)
	default:
		return a.print(readings, nil)
	}
}

// done reports a successful command without output.
func (a *app) done(msg string) error {
	return a.print(map[string]string{"status": "ok"}, func() string { return msg + "\n" })
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func configText(c *ut330.Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "device name:        %s\n", c.DeviceName)
	fmt.Fprintf(&b, "sampling interval:  %d s\n", c.SamplingInterval)
	fmt.Fprintf(&b, "readings:           %d of %d\n", c.ReadingsCount, c.ReadingsLimit)
	fmt.Fprintf(&b, "battery:            %d%%\n", c.BatteryPower)
	fmt.Fprintf(&b, "overwrite records:  %s\n", onOff(c.OverwriteRecords))
	fmt.Fprintf(&b, "delay start:        %s (%d s)\n", onOff(c.DelayStart), c.DelayTiming)
	fmt.Fprintf(&b, "temperature alarm:  %d..%d °C\n", c.LowTempAlarm, c.HighTempAlarm)
	fmt.Fprintf(&b, "humidity alarm:     %d..%d %%RH\n", c.LowHumidityAlarm, c.HighHumidityAlarm)
	fmt.Fprintf(&b, "device clock:       %s\n", c.Timestamp.Format(export.TimeFormat))
	return b.String()
}

func offsetsText(o *ut330.Offsets) string {
	var b strings.Builder
	fmt.Fprintf(&b, "temperature:  %6.1f °C   (offset %+.1f)\n", o.Temperature, o.TemperatureOffset)
	fmt.Fprintf(&b, "humidity:     %6.1f %%RH  (offset %+.1f)\n", o.Humidity, o.HumidityOffset)
	fmt.Fprintf(&b, "pressure:     %6.1f      (offset %+.1f)\n", o.Pressure, o.PressureOffset)
	return b.String()
}
