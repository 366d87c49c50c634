package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/botfleet/botfleet/internal/command"
	"github.com/botfleet/botfleet/internal/config"
	"github.com/botfleet/botfleet/internal/controlplane"
	"github.com/botfleet/botfleet/internal/gateway"
	"github.com/botfleet/botfleet/internal/logger"
	"github.com/botfleet/botfleet/internal/manager"
	"github.com/botfleet/botfleet/internal/store"
	"github.com/botfleet/botfleet/pkg/constants"
)

var (
	configFile string
	staticDir  string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the supervisor and its HTTP control-plane",
		Long:  "Start the supervisor: preload stored bots, listen for inbound chat events, and serve the HTTP control-plane",
		Run: func(cmd *cobra.Command, args []string) {
			// .env is optional; the config file can reference its variables
			_ = godotenv.Load()

			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				log.Fatalf("Failed to load config: %v", err)
			}

			fmt.Printf("Starting botfleet with config: %s\n", configFile)
			fmt.Printf("Listen address: %s\n", cfg.Server.Addr())
			fmt.Printf("Gateway type: %s\n", cfg.Gateway.Type)
			fmt.Printf("Command prefix: %s\n", cfg.Manager.Prefix)

			if err := logger.Init(logger.Config{
				Level:        cfg.Logging.Level,
				File:         cfg.Logging.File,
				MaxSize:      cfg.Logging.MaxSize,
				MaxBackups:   cfg.Logging.MaxBackups,
				MaxAge:       cfg.Logging.MaxAge,
				Compress:     cfg.Logging.Compress,
				EnableStdout: cfg.Logging.EnableStdout,
			}); err != nil {
				log.Fatalf("Failed to initialize logger: %v", err)
			}

			logger.WithFields(logrus.Fields{
				"config_file": configFile,
				"log_level":   cfg.Logging.Level,
			}).Info("logger-initialized")

			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			st, err := store.NewRedis(&store.Config{RedisClient: client})
			if err != nil {
				log.Fatalf("Failed to connect to store: %v", err)
			}

			registry := command.NewRegistry()
			command.RegisterBuiltins(registry, time.Now())

			var gw gateway.Gateway
			switch cfg.Gateway.Type {
			case config.GatewayDiscord:
				gw = gateway.NewDiscordGateway()
			case config.GatewayTelegram:
				gw = gateway.NewTelegramGateway()
			default:
				log.Fatalf("Unsupported gateway type: %s", cfg.Gateway.Type)
			}

			mgr, err := manager.New(&manager.Config{
				Gateway:  gw,
				Store:    st,
				Registry: registry,
				Options: manager.Options{
					Prefix:           cfg.Manager.Prefix,
					LoginTimeout:     config.Duration(cfg.Manager.LoginTimeout, constants.DefaultLoginTimeout),
					LogoutTimeout:    config.Duration(cfg.Manager.LogoutTimeout, constants.DefaultLogoutTimeout),
					SettleDelay:      config.Duration(cfg.Manager.SettleDelay, constants.DefaultSettleDelay),
					PresenceInterval: config.Duration(cfg.Manager.PresenceInterval, constants.DefaultPresenceInterval),
					SelfListen:       cfg.Gateway.SelfListen,
				},
				Notify: func(ev manager.Event) {
					logger.WithFields(logrus.Fields{
						"type":   ev.Type,
						"bot_id": ev.BotID,
						"detail": ev.Detail,
					}).Info("session-notification")
				},
			})
			if err != nil {
				log.Fatalf("Failed to create manager: %v", err)
			}

			preloadStoredBots(mgr, st)

			srv, err := controlplane.New(&controlplane.Config{
				Manager:   mgr,
				Store:     st,
				Registry:  registry,
				StaticDir: staticDir,
			})
			if err != nil {
				log.Fatalf("Failed to create control-plane: %v", err)
			}

			httpServer := &http.Server{
				Addr:    cfg.Server.Addr(),
				Handler: srv.Router(),
			}

			serverErrChan := make(chan error, 1)
			go func() {
				fmt.Println("\nbotfleet control-plane starting...")
				fmt.Println("Press Ctrl+C to stop")
				serverErrChan <- httpServer.ListenAndServe()
			}()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigChan:
				log.Printf("Received signal: %v, shutting down gracefully...", sig)
			case err := <-serverErrChan:
				if err != nil && err != http.ErrServerClosed {
					log.Fatalf("Control-plane error: %v", err)
				}
			}

			// Sessions first, then the HTTP listener
			mgr.StopAll(context.Background())

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Printf("Error during HTTP shutdown: %v", err)
			}

			log.Println("botfleet stopped")
		},
	}
)

// preloadStoredBots logs every persisted bot back in on startup. A bot that
// fails to log in is logged and skipped; it stays listed in the error state
// for operator remediation.
func preloadStoredBots(mgr *manager.Manager, st store.Store) {
	ctx := context.Background()

	configs, err := st.ListBotConfigs(ctx)
	if err != nil {
		logger.WithField("error", err).Warn("failed-to-list-stored-bots")
		return
	}

	for _, cfg := range configs {
		if _, err := mgr.AddBot(ctx, cfg.ID, cfg.Credentials, ""); err != nil {
			logger.WithFields(logrus.Fields{
				"bot_id": cfg.ID,
				"error":  err,
			}).Warn("failed-to-preload-bot")
			continue
		}
		logger.WithField("bot_id", cfg.ID).Info("bot-preloaded")
	}

	logger.WithField("count", len(configs)).Info("startup-preload-completed")
}

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "config.yaml", "Configuration file path")
	serveCmd.Flags().StringVar(&staticDir, "static-dir", "", "Optional dashboard directory served under /dashboard")
}
