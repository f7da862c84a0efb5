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

	"github.com/spf13/cobra"

	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/api"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/config"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/engine"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/log"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/monitor"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/notify"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/orchestrator"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/registry"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/state"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane and the health monitor",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "", "Path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Logging.Level),
		JSONOutput: cfg.Logging.JSON,
	})
	logger := log.WithComponent("serve")

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	eng, err := engine.NewDockerEngine()
	if err != nil {
		return fmt.Errorf("connect to docker: %w", err)
	}
	defer eng.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = eng.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("docker not reachable: %w", err)
	}

	var store storage.Store = storage.Nop{}
	if cfg.Storage.Enabled {
		if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		bolt, err := storage.NewBoltStore(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer bolt.Close()
		store = bolt
	} else {
		logger.Warn().Msg("persistence disabled, events and snapshots will not be stored")
	}

	queue := notify.NewQueue(
		notify.NewDiscoveryClient(cfg.Notify.DiscoveryURL),
		notify.NewBillingClient(cfg.Notify.BillingURL),
	)
	queue.Start()
	defer queue.Stop()

	reg := registry.New(eng)
	orch := orchestrator.New(state.New(), reg, eng, queue, store, host)

	mon := monitor.New(reg, eng, queue, store, cfg.Monitor.Interval, cfg.Monitor.Retention(), host)
	mon.Start()
	defer mon.Stop()

	server := api.New(cfg.Server.ListenAddr, orch, eng)

	go notify.SelfRegister(
		context.Background(),
		cfg.Notify.RegistryURL,
		cfg.Notify.InstanceID,
		"http://"+host+cfg.Server.ListenAddr+"/health",
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	return nil
}
