package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/boz/contiman/net"
	"github.com/boz/contiman/net/server"
	"github.com/boz/contiman/pubsub"
	rpubsub "github.com/boz/contiman/pubsub/redis"
	"github.com/boz/contiman/registry"
	"github.com/boz/contiman/version"
	"github.com/sirupsen/logrus"

	_ "github.com/boz/contiman/interior/docker"
	_ "github.com/boz/contiman/interior/postgres"
	_ "github.com/boz/contiman/interior/process"
	_ "github.com/boz/contiman/interior/redis"

	kingpin "gopkg.in/alecthomas/kingpin.v2"
)

var (
	listenAddress = kingpin.Flag("listen-address", "Listen address. Default: "+net.DefaultListenAddress).
			Short('l').
			Default(net.DefaultListenAddress).
			String()

	redisAddress = kingpin.Flag("redis-address", "Redis address for the pub/sub transport. Unset: events stay in-process.").
			Short('r').
			String()

	flagLogLevel = kingpin.Flag("log-level", "Log level (debug, info, warn, error).  Default: info").
			Short('v').
			Default("info").
			Enum("debug", "info", "warn", "error")

	flagLogFile = kingpin.Flag("log-file", "Log file.  Default: /dev/stderr").
			Default("/dev/stderr").
			String()
)

func main() {
	kingpin.CommandLine.Version(version.String())
	kingpin.HelpFlag.Short('h')
	kingpin.CommandLine.DefaultEnvars()

	kingpin.Parse()

	log := createLog()

	ctx, cancel := context.WithCancel(context.Background())
	stopch := handleSignals(ctx, cancel)

	bus, err := newBus(ctx)
	kingpin.FatalIfError(err, "pubsub bus")

	reg := registry.New(ctx, bus, log)

	opts := []server.Opt{
		server.WithAddress(*listenAddress),
		server.WithRegistry(reg),
		server.WithLog(log),
	}

	sdonech := make(chan struct{})
	srv, err := server.New(opts...)
	if err != nil {
		kingpin.Errorf("can't create server: %v", err)
		goto done
	}

	go func() {
		defer close(sdonech)
		if err := srv.Run(); err != nil {
			log.WithError(err).Warn("server run")
		}
	}()

	select {
	case <-sdonech:
		log.Info("server done")
	case <-stopch:
		log.Info("shutdown requested")
		srv.Close()
	}

done:
	log.Info("shutting down registry...")
	reg.Shutdown()
	<-reg.Done()

	cancel()

	if err := bus.Shutdown(); err != nil {
		log.WithError(err).Warn("bus shutdown")
	}

	<-stopch
}

func newBus(ctx context.Context) (pubsub.Service, error) {
	if *redisAddress == "" {
		return pubsub.NewBus(ctx)
	}
	return rpubsub.New(ctx, *redisAddress)
}

func handleSignals(ctx context.Context, cancel context.CancelFunc) <-chan struct{} {
	donech := make(chan struct{})
	go func() {
		defer close(donech)

		sigch := make(chan os.Signal, 1)
		signal.Notify(sigch, syscall.SIGINT, syscall.SIGHUP, syscall.SIGTERM)
		defer signal.Stop(sigch)

		select {
		case <-ctx.Done():
		case <-sigch:
		}
	}()
	return donech
}

func createLog() logrus.FieldLogger {
	level, err := logrus.ParseLevel(*flagLogLevel)
	kingpin.FatalIfError(err, "Invalid log level")

	file, err := os.OpenFile(*flagLogFile, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	kingpin.FatalIfError(err, "Error opening log file")

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(file)

	return logger
}
