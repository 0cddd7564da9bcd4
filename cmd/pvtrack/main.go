// Command pvtrack tracks the maximum power point of a photovoltaic device
// under test on a Keithley 2400 sourcemeter, with optional control of the
// solar simulator shutter.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/tarm/serial"
	"github.com/theckman/yacspin"

	"github.com/epmm-lab/pvtrack/config"
	"github.com/epmm-lab/pvtrack/keithley"
	"github.com/epmm-lab/pvtrack/monitor"
	"github.com/epmm-lab/pvtrack/mppt"
	"github.com/epmm-lab/pvtrack/shutter"
)

// seriesCapacity is the number of plot points retained per live series;
// at the 10 Hz retention rate this is an hour of history.
const seriesCapacity = 36000

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("pvtrack", pflag.ContinueOnError)
	cfgPath := flags.String("config", "pvtrack.yml", "path to the YAML configuration file")
	printCfg := flags.Bool("print-config", false, "print the effective configuration as YAML and exit")
	flags.String("address", "", "sourcemeter address, host:port or a serial device with --serial")
	flags.Bool("serial", false, "connect to the sourcemeter over a local serial port")
	flags.Int("baud", 9600, "serial baud rate")
	flags.Int("tracking_time", 0, "total number of seconds to track for")
	flags.Float64("device_area", 0, "device active area in cm^2")
	flags.String("shutter.address", "", "address of the DAQ carrying the shutter line")
	flags.String("shutter.channel", "101", "digital line driving the shutter")
	flags.Bool("shutter.disabled", false, "skip shutter control, operate it manually")
	flags.String("monitor.addr", ":8175", "listen address of the live view server")
	flags.Bool("monitor.enabled", true, "serve the live view")
	flags.String("log_file", "mpp_tracker_log.txt", "append-only tracking data log")
	flags.Bool("verbose", false, "per-cycle console output")
	flags.Bool("debug", false, "alias for --verbose")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := config.Load(*cfgPath, flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if *printCfg {
		if err := cfg.Dump(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		return 0
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flags.Usage()
		return 2
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()
	if cfg.Verbose || cfg.Debug {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// resources are acquired in stages and released in reverse order;
	// a failed stage releases only what came before it.
	logf, err := os.Create(cfg.LogFile)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.LogFile).Msg("cannot create data log")
		return 1
	}
	defer logf.Close()

	var inst *keithley.Sourcemeter2400
	if cfg.Serial {
		inst = keithley.NewSerial(&serial.Config{Name: cfg.Address, Baud: cfg.Baud})
	} else {
		inst = keithley.New(cfg.Address)
	}
	if err := inst.Initialize(); err != nil {
		log.Error().Err(err).Msg("unable to connect to the sourcemeter")
		return 1
	}
	defer inst.Close()
	defer inst.Idle()
	log.Info().Str("address", cfg.Address).Msg("sourcemeter initialised")

	var sh shutter.Shutter = shutter.Nop{}
	if !cfg.Shutter.Disabled && cfg.Shutter.Address != "" {
		ctl, err := shutter.New(cfg.Shutter.Address, cfg.Shutter.Channel)
		if err != nil {
			log.Warn().Err(err).Msg("could not initialise shutter control, operate the shutter manually")
		} else {
			sh = ctl
			log.Info().Str("channel", cfg.Shutter.Channel).Msg("shutter control initialised, shutter open")
		}
	} else {
		log.Info().Msg("shutter control disabled, operate the shutter manually")
	}
	// the shutter, if present, is left closed on every exit path
	defer func() {
		if !sh.Present() {
			return
		}
		if err := sh.Set(true); err != nil {
			log.Warn().Err(err).Msg("could not close the shutter")
		}
	}()

	mon := monitor.New(seriesCapacity)
	if cfg.Monitor.Enabled {
		srv := &http.Server{Addr: cfg.Monitor.Addr, Handler: mon.Mux()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn().Err(err).Msg("live view server stopped, continuing headless")
			}
		}()
		defer srv.Close()
		log.Info().Str("addr", cfg.Monitor.Addr).Msg("live view at /series, /sweep, /metrics")
	}

	log.Info().Msgf("%.2f minutes MPP tracking", float64(cfg.TrackingTime)/60)

	spin := newSpinner("holding device at 0 current before measuring Voc")
	spin.start()
	voc, err := mppt.MeasureVoc(ctx, inst)
	spin.stop()
	if err != nil {
		return finish(log, ctx, err)
	}
	log.Info().Msgf("device Voc: %.2f V", voc)

	spin = newSpinner("sweeping from Voc to 0 V to find initial Vmpp")
	spin.start()
	dev, res, err := mppt.FindInitialMPP(ctx, inst, voc)
	spin.stop()
	if err != nil {
		return finish(log, ctx, err)
	}
	mon.SetSweep(res, dev)
	log.Info().Msgf("initial MPP found: %.2f mW @ %.2f V",
		res.Powers[res.MaxIndex]*1000, dev.Vmpp)

	session := mppt.NewSession(float64(cfg.TrackingTime), cfg.DeviceArea,
		mppt.LogSink{W: logf}, mon)
	tracker := mppt.NewTracker(inst, dev, session, log)
	return finish(log, ctx, tracker.Run(ctx))
}

// finish maps the outcome of a phase onto an exit status after the deferred
// shutdown sequence: cancellation and timeout are the expected zero paths,
// measurement failure is not.
func finish(log zerolog.Logger, ctx context.Context, err error) int {
	switch {
	case ctx.Err() != nil:
		log.Info().Msg("cancelled, shutting down")
		return 0
	case err != nil:
		log.Error().Err(err).Msg("measurement failed, shutting down")
		return 1
	}
	log.Info().Msg("tracking time elapsed, shutting down")
	return 0
}

// spinner wraps yacspin so a failed terminal probe degrades to no spinner.
type spinner struct {
	s *yacspin.Spinner
}

func newSpinner(msg string) spinner {
	s, err := yacspin.New(yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[14],
		Suffix:          " " + msg,
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
		SuffixAutoColon: true,
	})
	if err != nil {
		return spinner{}
	}
	return spinner{s: s}
}

func (s spinner) start() {
	if s.s != nil {
		s.s.Start()
	}
}

func (s spinner) stop() {
	if s.s != nil {
		s.s.Stop()
	}
}
