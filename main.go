package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"dryerlink/config"
	"dryerlink/device"
	"dryerlink/history"
	"dryerlink/log"
	"dryerlink/models"
	"dryerlink/netwatch"
	"dryerlink/services"
	"dryerlink/store"
	"dryerlink/transport"
)

const initRetryInterval = 60 * time.Second

func main() {
	logger := log.GetInstance()
	defer logger.Sync()

	logger.Info("Starting dryerlink agent")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	channels, err := config.LoadChannels(cfg.ChannelsFile)
	if err != nil {
		logger.Fatal("Failed to load channel map", zap.Error(err))
	}

	st, err := store.Open(cfg.DatabasePath, log.Component("store"))
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The previous process may have died with the connection flag set.
	if err := st.ResetConnectionState(ctx); err != nil {
		logger.Warn("Failed to reset connection state", zap.Error(err))
	}

	probe := netwatch.NewProbe(cfg.ProbeTimeout, log.Component("netwatch"))
	retryCfg := netwatch.RetryConfig{
		Attempts: cfg.RetryAttempts,
		Base:     cfg.RetryBackoffBase,
		Max:      cfg.RetryBackoffMax,
	}
	cloudAPI := device.NewCloudAPI(cfg.ServerURL, cfg.SigningSecret, retryCfg, log.Component("cloud-api"))
	identity := device.NewManager(st, cloudAPI, probe,
		cfg.DeviceType, cfg.SoftwareVersion, cfg.TokenRenewalThresholdDays, log.Component("device"))

	dev := waitForIdentity(ctx, identity, logger)
	if dev == nil {
		return
	}

	var current atomic.Pointer[models.DeviceIdentity]
	current.Store(dev)
	serial := func() string { return current.Load().Serial }

	queue := transport.NewQueue(cfg.QueueSnapshotPath, cfg.QueueMaxMessages, log.Component("queue"))
	queue.LoadSnapshot()
	acks := transport.NewAckTracker(cfg.AckTimeout, cfg.AckRetryDelay, cfg.AckMaxRetries, log.Component("acks"))
	acks.Bind(queue.EnqueueRaw, nil, nil)
	streams := transport.NewStreamManager(serial, log.Component("streams"))
	session := transport.NewSession(cfg.ServerURL, cfg.HeartbeatInterval, queue, acks, streams, log.Component("session"))
	streams.Bind(session)
	publisher := transport.NewPublisher(queue, acks)

	session.OnStateChange(func(connected bool) {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := st.SetCloudConnection(sctx, connected); err != nil {
			logger.Warn("Failed to persist connection state", zap.Error(err))
		}
	})

	dataAPI := services.NewDataAPI(cfg.LocalAPIURL, log.Component("data-api"))
	terminal := services.NewTerminal(session, cfg.TerminalSessionTimeout, log.Component("terminal"))
	syncEngine := history.NewEngine(st, publisher, serial, cfg, log.Component("history-sync"))
	collector := history.NewCollector(dataAPI, st, channels, serial, cfg, log.Component("collector"))
	alarms := services.NewAlarmMonitor(dataAPI, publisher, serial,
		cfg.DeviceType, cfg.AlarmCheckInterval, log.Component("alarms"))

	dispatcher := transport.NewDispatcher(session, queue, acks, streams, log.Component("dispatcher"))
	dispatcher.Commands = services.NewCommands(cfg.ServiceUnit, log.Component("commands"))
	dispatcher.Updates = services.NewUpdater(cfg.UpdateScript, log.Component("updater"))
	dispatcher.Access = services.NewAccess(cfg.SSHAccessDefault, log.Component("access"))
	dispatcher.Terminal = terminal
	dispatcher.Relay = dataAPI
	dispatcher.History = syncEngine
	session.SetDispatcher(dispatcher)

	registerStreams(streams, dataAPI)

	watchdog := netwatch.NewWatchdog(netwatch.WatchdogConfig{
		CheckInterval:    cfg.InternetCheckInterval,
		TokenInterval:    cfg.TokenCheckInterval,
		RecoveryCooldown: cfg.RecoveryCooldown,
	}, probe, identity, session, func(d *models.DeviceIdentity) {
		current.Store(d)
		session.Disconnect()
		if err := session.Connect(d.Token); err != nil {
			logger.Error("Reconnection failed", zap.Error(err))
		}
	}, log.Component("watchdog"))

	go collector.Run(ctx)
	go syncEngine.Run(ctx)
	go alarms.Run(ctx)
	go terminal.Run(ctx)
	go watchdog.Run(ctx)

	if err := session.Connect(dev.Token); err != nil {
		logger.Warn("Initial connection failed, watchdog will retry", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	cancel()
	terminal.CloseAll()
	session.Disconnect()
	if err := st.Close(); err != nil {
		logger.Warn("Failed to close database", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

// waitForIdentity retries initialization until an identity is available or
// shutdown. First boot needs the network up before registration can work.
func waitForIdentity(ctx context.Context, identity *device.Manager, logger *zap.Logger) *models.DeviceIdentity {
	for {
		dev, err := identity.Initialize(ctx)
		if err == nil {
			return dev
		}
		logger.Error("Device initialization failed, retrying",
			zap.Error(err), zap.Duration("retry_in", initRetryInterval))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(initRetryInterval):
		}
	}
}

// registerStreams declares the poll-mode streams mirroring controller pages.
func registerStreams(streams *transport.StreamManager, dataAPI *services.DataAPI) {
	pages := map[string]string{
		"home":       "/home/data",
		"settings":   "/settings",
		"diagnostic": "/diagnostic",
		"custom":     "/custom",
	}
	for name, path := range pages {
		p := path
		streams.Register(name, transport.StreamSpec{
			Mode: transport.StreamPoll,
			Poll: func(ctx context.Context) (any, error) {
				return dataAPI.Resource(ctx, p)
			},
		})
	}
}
