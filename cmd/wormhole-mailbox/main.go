package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/urfave/cli"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/chris-pikul/wormhole-mailbox-server/conn"
	"github.com/chris-pikul/wormhole-mailbox-server/config"
	"github.com/chris-pikul/wormhole-mailbox-server/log"
	"github.com/chris-pikul/wormhole-mailbox-server/metrics"
	"github.com/chris-pikul/wormhole-mailbox-server/relay"
	"github.com/chris-pikul/wormhole-mailbox-server/store"
)

// Version holds the CLI application version.
const Version = "0.1.0"

const usageText = `wormhole-mailbox [global options...]

   Runs the rendezvous mailbox relay. If --config is provided, the
   JSON file is read first and any flags given override its values.
`

func main() {
	if _, err := maxprocs.Set(maxprocs.Logger(log.Debugf)); err != nil {
		log.Warnf("failed to set GOMAXPROCS from cgroup quota: %s", err.Error())
	}

	app := cli.NewApp()
	app.Name = "wormhole-mailbox"
	app.Usage = "rendezvous mailbox relay for magic-wormhole-style key exchange"
	app.UsageText = usageText
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "configuration JSON `FILE`, overridden by any flags given"},
		cli.UintFlag{Name: "port", Usage: "`PORT` for the websocket listener", Value: config.DefaultOptions.Relay.Port},
		cli.StringFlag{Name: "channel-db", Usage: "path to the channel SQLite `FILE`", Value: config.DefaultOptions.Relay.ChannelDBFile},
		cli.StringFlag{Name: "usage-db", Usage: "path to the usage SQLite `FILE` (empty disables usage recording)"},
		cli.Int64Flag{Name: "blur-usage", Usage: "round usage timestamps down to a multiple of `SECONDS`"},
		cli.StringFlag{Name: "advertise-version", Usage: "client `VERSION` to advertise via welcome"},
		cli.StringFlag{Name: "signal-error", Usage: "fatal `MESSAGE` sent to every connecting client"},
		cli.StringFlag{Name: "motd", Usage: "`MESSAGE` of the day sent to every connecting client"},
		cli.BoolFlag{Name: "disallow-list", Usage: "disable the 'list' command"},
		cli.StringFlag{Name: "log-fd, l", Usage: "`FILE` to write logs to (empty logs to stdout)"},
		cli.StringFlag{Name: "log-level, L", Usage: "logging `LEVEL`: DEBUG|INFO|WARN|ERROR", Value: config.DefaultOptions.Logging.Level},
		cli.UintFlag{Name: "log-blur", Usage: "round access times in logs to `SECONDS`", Value: config.DefaultOptions.Logging.BlurTimes},
		cli.StringSliceFlag{Name: "websocket-protocol-option", Usage: "repeatable `K=V` (V is JSON) stored in the configuration; not applied to the websocket upgrader"},
	}
	app.Action = runServer

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
}

func runServer(c *cli.Context) error {
	cfgFile := c.String("config")
	cfg, err := config.NewOptions(nil, cfgFile, c)
	if err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}
	config.SetGlobal(cfg)

	if err := log.Initialize(cfg.Logging); err != nil {
		return fmt.Errorf("failed to start logging: %w", err)
	}
	log.Info("initialized logging")

	channelStore, err := store.OpenChannelStore(cfg.Relay.ChannelDBFile)
	if err != nil {
		log.Get().WithError(err).Fatal("failed to open channel database")
	}
	defer channelStore.Close()

	usageStore, err := store.OpenUsageStore(cfg.Relay.UsageDBFile)
	if err != nil {
		log.Get().WithError(err).Fatal("failed to open usage database")
	}
	if usageStore != nil {
		defer usageStore.Close()
	}

	welcome := relay.Welcome{
		MOTD:              cfg.Relay.MOTD,
		CurrentCLIVersion: cfg.Relay.AdvertiseVersion,
		Error:             cfg.Relay.SignalError,
	}
	srv := relay.NewServer(channelStore, usageStore, welcome, cfg.Relay.BlurUsage, cfg.Relay.AllowList)

	mux := http.NewServeMux()
	mux.Handle("/v1", conn.Handler(srv))
	mux.Handle("/metrics", metrics.Handler())

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Relay.Port),
		Handler: mux,
	}

	stop := make(chan struct{})
	rebooted := time.Now().Unix()

	go runPruning(srv, cfg.Relay.PruneInterval, cfg.Relay.PruneOld, rebooted, stop)
	go watchConfig(cfgFile, stop)
	go sampleHostStats(stop)

	go func() {
		log.Infof("wormhole mailbox relay listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Get().WithError(err).Error("listener closed unexpectedly")
		}
	}()

	blockUntilSignal()
	close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srv.Shutdown()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Errorf("graceful shutdown failed: %s", err.Error())
	}
	log.Info("wormhole mailbox relay stopped")

	return nil
}

func blockUntilSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("shutdown requested")
}

// sampleHostStats logs host memory and load once per minute, purely
// as an operational signal for whoever is watching the log — it
// feeds no invariant and is not persisted.
func sampleHostStats(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			vm, err := mem.VirtualMemory()
			if err != nil {
				continue
			}
			avg, err := load.Avg()
			if err != nil {
				continue
			}
			log.Get().WithFields(map[string]interface{}{
				"mem_used_percent": vm.UsedPercent,
				"load1":            avg.Load1,
			}).Debug("host stats sample")
		}
	}
}
