//go:build linux

package inetbox

/*------------------------------------------------------------------
 *
 * Purpose:   	Entry point for the inetboxd daemon: flags, config,
 *		signal handling, then hand over to the run loop.
 *
 *---------------------------------------------------------------*/

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
)

func InetboxdMain() {
	var configPath = pflag.StringP("config", "c", "", "Path to the YAML configuration file. Defaults apply without one.")
	var device = pflag.StringP("device", "d", "", "Serial device, overriding the configuration (path or \"auto\").")
	var verbose = pflag.BoolP("verbose", "v", false, "Verbose. Log every bus level oddity.")

	pflag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	var cfg, err = config_load(*configPath)
	if err != nil {
		log.Fatal("configuration", "err", err)
	}
	if *device != "" {
		cfg.Device = *device
	}

	var shutdown = make(chan struct{})
	var signals = make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		close(shutdown)
	}()

	if err := inetboxd_run(cfg, shutdown); err != nil {
		log.Fatal("inetboxd", "err", err)
	}
}
