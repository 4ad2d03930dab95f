package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/ut330-logger/internal/monitor"
	"github.com/shaunagostinho/ut330-logger/internal/server"
	"github.com/shaunagostinho/ut330-logger/internal/ut330"
)

var log = logrus.WithField("component", "main")

const usage = `usage: ut330 [flags] <command> [command flags]

commands:
  name           print the device name
  config         print the configuration
  set-config     change configuration fields (see ut330 set-config -h)
  offsets        print live readings and calibration offsets
  set-offsets    change calibration offsets (see ut330 set-offsets -h)
  data           download all stored readings
  delete         erase all stored readings
  factory-reset  restore factory settings
  sync-time      set the logger clock to the host clock
  serve          run the live-data HTTP server

flags:
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			log.Error(err)
		}
		os.Exit(1)
	}
}

// app carries what every command needs.
type app struct {
	cfg    *server.Config
	format string
	out    io.Writer
	sim    *ut330.Simulator // non-nil in demo mode
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ut330", flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", "/etc/ut330/config.yaml", "Path to config file")
	port := fs.String("port", "", "Serial port (default: find the logger by USB ID)")
	demo := fs.Bool("demo", false, "Talk to a simulated logger")
	format := fs.String("format", "text", "Output format: text, json, yaml or csv (data only)")
	level := fs.String("log-level", "", "Log level (overrides config)")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := server.LoadConfig(*configPath)
	if *port != "" {
		cfg.Device.PortPath = *port
	}
	if *demo {
		cfg.Device.Demo = true
	}
	if *level != "" {
		cfg.Log.Level = *level
	}
	if err := setupLogging(cfg.Log); err != nil {
		return err
	}

	a := &app{cfg: cfg, format: *format, out: out}
	if cfg.Device.Demo {
		a.sim = ut330.NewSimulator()
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return flag.ErrHelp
	}
	name, rest := fs.Arg(0), fs.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fs.Usage()
		return fmt.Errorf("unknown command %q", name)
	}
	return cmd(a, rest)
}

func setupLogging(c server.LogConfig) error {
	lvl, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(os.Stderr)
	switch c.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// device builds a disconnected Device from the config.
func (a *app) device(observer func(string, time.Duration, error)) *ut330.Device {
	cc := a.cfg.ConnConfig()
	cc.Observer = observer
	if a.sim != nil {
		log.Info("demo mode: using a simulated UT330")
		return ut330.NewWithOpener(cc, a.sim.Opener())
	}
	return ut330.New(cc)
}

// withDevice runs fn against a freshly connected device.
func (a *app) withDevice(fn func(d *ut330.Device) error) error {
	return ut330.WithDevice(a.device(nil), fn)
}

func serve(a *app, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(a.out)
	listen := fs.String("listen", "", "Override listen address (e.g. :8330)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *listen != "" {
		a.cfg.Server.ListenAddr = *listen
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received %v, shutting down", sig)
		cancel()
	}()

	mon := monitor.New()
	mon.StartRuntimeMonitor(10*time.Second, ctx.Done())

	dev := a.device(mon.Observe)
	defer dev.Disconnect()

	// The server starts regardless; the poller reports disconnected until
	// the logger shows up.
	go connectWithRetry(ctx, "UT330", dev, 10)

	return server.New(a.cfg, dev, mon).Run(ctx)
}

// connectable is satisfied by *ut330.Device.
type connectable interface {
	Connect() error
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, logs each attempt up to
// maxAttempts and then keeps trying at the max interval.
func connectWithRetry(ctx context.Context, name string, c connectable, maxAttempts int) {
	connectWithBackoff(ctx, name, c, maxAttempts, time.Second, 60*time.Second)
}

func connectWithBackoff(ctx context.Context, name string, c connectable, maxAttempts int, delay, maxDelay time.Duration) {
	l := log.WithField("device", name)
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := c.Connect()
		if err == nil {
			l.Infof("connected (attempt %d)", attempt+1)
			return
		}
		attempt++
		if attempt <= maxAttempts {
			l.Warnf("connect attempt %d/%d failed: %v (retry in %v)", attempt, maxAttempts, err, delay)
		} else {
			l.Debugf("connect attempt %d failed: %v (retry in %v)", attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
