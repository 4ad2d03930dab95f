package main

import (
	"flag"
	"fmt"

	"github.com/shaunagostinho/ut330-logger/internal/ut330"
)

type command func(a *app, args []string) error

var commands = map[string]command{
	"name":          readName,
	"config":        readConfig,
	"set-config":    setConfig,
	"offsets":       readOffsets,
	"set-offsets":   setOffsets,
	"data":          readData,
	"delete":        simple("all stored readings deleted", (*ut330.Device).DeleteData),
	"factory-reset": simple("factory settings restored", (*ut330.Device).RestoreFactory),
	"sync-time":     simple("clock synchronised", (*ut330.Device).SyncTime),
	"serve":         serve,
}

func noArgs(name string, a *app, args []string) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%s: unexpected argument %q", name, fs.Arg(0))
	}
	return nil
}

func readName(a *app, args []string) error {
	if err := noArgs("name", a, args); err != nil {
		return err
	}
	return a.withDevice(func(d *ut330.Device) error {
		name, err := d.ReadDeviceName()
		if err != nil {
			return err
		}
		return a.print(map[string]string{"name": name}, func() string { return name + "\n" })
	})
}

func readConfig(a *app, args []string) error {
	if err := noArgs("config", a, args); err != nil {
		return err
	}
	return a.withDevice(func(d *ut330.Device) error {
		c, err := d.ReadConfig()
		if err != nil {
			return err
		}
		return a.print(c, func() string { return configText(c) })
	})
}

// setConfig reads the current configuration, replaces the fields given on
// the command line and writes it back.
func setConfig(a *app, args []string) error {
	fs := flag.NewFlagSet("set-config", flag.ContinueOnError)
	fs.SetOutput(a.out)
	name := fs.String("name", "", "Device name, 1-10 ASCII characters")
	interval := fs.Int("interval", 0, "Sampling interval in seconds (0-86400)")
	overwrite := fs.Bool("overwrite", false, "Overwrite the oldest readings when memory is full")
	delayStart := fs.Bool("delay-start", false, "Delay the start of recording")
	delay := fs.Int("delay", 0, "Start delay in seconds (0-604800)")
	tempHigh := fs.Int("temp-high", 0, "High temperature alarm, °C")
	tempLow := fs.Int("temp-low", 0, "Low temperature alarm, °C")
	humHigh := fs.Int("hum-high", 0, "High humidity alarm, %RH")
	humLow := fs.Int("hum-low", 0, "Low humidity alarm, %RH")
	if err := fs.Parse(args); err != nil {
		return err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if len(set) == 0 {
		return fmt.Errorf("set-config: nothing to change")
	}

	return a.withDevice(func(d *ut330.Device) error {
		c, err := d.ReadConfig()
		if err != nil {
			return err
		}
		if set["name"] {
			c.DeviceName = *name
		}
		if set["interval"] {
			c.SamplingInterval = *interval
		}
		if set["overwrite"] {
			c.OverwriteRecords = *overwrite
		}
		if set["delay-start"] {
			c.DelayStart = *delayStart
		}
		if set["delay"] {
			c.DelayTiming = *delay
		}
		if set["temp-high"] {
			c.HighTempAlarm = *tempHigh
		}
		if set["temp-low"] {
			c.LowTempAlarm = *tempLow
		}
		if set["hum-high"] {
			c.HighHumidityAlarm = *humHigh
		}
		if set["hum-low"] {
			c.LowHumidityAlarm = *humLow
		}
		if err := d.WriteConfig(*c); err != nil {
			return err
		}
		return a.done("configuration written")
	})
}

func readOffsets(a *app, args []string) error {
	if err := noArgs("offsets", a, args); err != nil {
		return err
	}
	return a.withDevice(func(d *ut330.Device) error {
		o, err := d.ReadOffsets()
		if err != nil {
			return err
		}
		return a.print(o, func() string { return offsetsText(o) })
	})
}

func setOffsets(a *app, args []string) error {
	fs := flag.NewFlagSet("set-offsets", flag.ContinueOnError)
	fs.SetOutput(a.out)
	temp := fs.Float64("temp", 0, "Temperature offset (-6.0 to 6.1)")
	hum := fs.Float64("hum", 0, "Humidity offset (-6.0 to 6.1)")
	press := fs.Float64("press", 0, "Pressure offset (-6.0 to 6.1)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if len(set) == 0 {
		return fmt.Errorf("set-offsets: nothing to change")
	}

	return a.withDevice(func(d *ut330.Device) error {
		o, err := d.ReadOffsets()
		if err != nil {
			return err
		}
		if set["temp"] {
			o.TemperatureOffset = *temp
		}
		if set["hum"] {
			o.HumidityOffset = *hum
		}
		if set["press"] {
			o.PressureOffset = *press
		}
		if err := d.WriteOffsets(*o); err != nil {
			return err
		}
		return a.done("offsets written")
	})
}

func readData(a *app, args []string) error {
	if err := noArgs("data", a, args); err != nil {
		return err
	}
	return a.withDevice(func(d *ut330.Device) error {
		readings, err := d.ReadData()
		if err != nil {
			return err
		}
		log.Infof("downloaded %d readings", len(readings))
		return a.printReadings(readings)
	})
}

// simple adapts a device command without arguments or output.
func simple(msg string, fn func(*ut330.Device) error) command {
	return func(a *app, args []string) error {
		if err := noArgs("command", a, args); err != nil {
			return err
		}
		return a.withDevice(func(d *ut330.Device) error {
			if err := fn(d); err != nil {
				return err
			}
			return a.done(msg)
		})
	}
}
