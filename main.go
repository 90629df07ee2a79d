package main

import (
	"flag"
	"os"
	"runtime"
	"syscall"

	"code.cloudfoundry.org/clock"
	"github.com/tedsuo/ifrit"
	"github.com/tedsuo/ifrit/grouper"
	"github.com/tedsuo/ifrit/sigmon"
	"github.com/uber-go/zap"

	"github.com/rohan-flutterint/minum/brig"
	"github.com/rohan-flutterint/minum/common/health"
	"github.com/rohan-flutterint/minum/config"
	"github.com/rohan-flutterint/minum/dispatch"
	"github.com/rohan-flutterint/minum/errorwriter"
	"github.com/rohan-flutterint/minum/logger"
	"github.com/rohan-flutterint/minum/registry"
	"github.com/rohan-flutterint/minum/router"
	"github.com/rohan-flutterint/minum/static"
)

var configFile string

func main() {
	flag.StringVar(&configFile, "c", "", "Configuration File")
	flag.Parse()

	c, err := config.DefaultConfig()
	if err != nil {
		bootLogger().Fatal("error-loading-config", zap.Error(err))
	}

	if configFile != "" {
		c, err = config.InitConfigFromFile(configFile)
		if err != nil {
			bootLogger().Fatal("error-loading-config", zap.Error(err))
		}
	} else if err = c.Process(); err != nil {
		bootLogger().Fatal("error-processing-config", zap.Error(err))
	}

	log := logger.NewLogger(
		"minum",
		c.Logging.Format.Timestamp,
		logger.LevelFromString(c.Logging.Level),
	)
	log.Info("starting")

	if c.GoMaxProcs != 0 && c.GoMaxProcs != -1 {
		runtime.GOMAXPROCS(c.GoMaxProcs)
	}

	handlerRegistry := registry.NewHandlerRegistry(log.Session("registry"))

	assets := static.NewAssetCache(log.Session("static"), c.StaticFiles.Directory, c.StaticFiles.CacheControl)
	if err := assets.Load(); err != nil {
		log.Fatal("error-loading-static-assets", zap.Error(err))
	}

	theBrig := brig.NewBrig(log.Session("brig"), clock.NewClock(), c.Brig.Enabled, c.Brig.SuspiciousPaths)
	sweeper := brig.NewSweeper(theBrig, c.Brig.SweepInterval, clock.NewClock(), log.Session("brig-sweeper"))

	ew := errorwriter.NewPlaintextErrorWriter()
	dispatcher := dispatch.NewDispatcher(log, c, handlerRegistry, assets, theBrig, ew)

	h := &health.Health{}
	minumRouter := router.NewRouter(log.Session("router"), c, dispatcher, h, nil)

	members := grouper.Members{
		{Name: "brig-sweeper", Runner: sweeper},
		{Name: "router", Runner: minumRouter},
	}
	group := grouper.NewOrdered(os.Interrupt, members)

	monitor := ifrit.Invoke(sigmon.New(group, syscall.SIGTERM, syscall.SIGINT))

	<-monitor.Ready()
	h.SetHealth(health.Healthy)

	err = <-monitor.Wait()
	if err != nil {
		log.Fatal("minum.exited-with-failure", zap.Error(err))
	}

	os.Exit(0)
}

func bootLogger() logger.Logger {
	return logger.NewLogger("minum", "unix-epoch", zap.InfoLevel)
}
