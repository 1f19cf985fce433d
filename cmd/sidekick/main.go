package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pelilauta/sidekick/internal/app"
	"github.com/pelilauta/sidekick/internal/auth"
	"github.com/pelilauta/sidekick/internal/config"
	"github.com/pelilauta/sidekick/internal/docstore"
	"github.com/pelilauta/sidekick/internal/logging"
	"github.com/pelilauta/sidekick/internal/messaging"
	"github.com/pelilauta/sidekick/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sidekick",
		Short: "Pelilauta background worker for counters and push notifications",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("region", defaults.GetString("region"), "Execution region tag")
	cmd.PersistentFlags().String("push-gateway-url", defaults.GetString("push.gateway_url"), "Push gateway endpoint")
	cmd.PersistentFlags().String("site-base-url", defaults.GetString("site.base_url"), "Public site base URL")
	cmd.PersistentFlags().String("signing-secret", "", "Webhook signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "region", "region")
	bindFlag(cmd, "push.gateway_url", "push-gateway-url")
	bindFlag(cmd, "site.base_url", "site-base-url")
	bindFlag(cmd, "webhook.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runWorker(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.Region)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, err := docstore.Open(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := store.DB().DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	pushClient, err := messaging.NewClient(messaging.ClientConfig{
		GatewayURL: appConfig.PushGatewayURL,
		APIKey:     appConfig.PushAPIKey,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handlers, err := app.Build(app.Config{
		Store:   store,
		Sender:  pushClient,
		BaseURL: appConfig.SiteBaseURL,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	tokens := auth.NewWebhookTokens(auth.WebhookTokenConfig{
		SigningSecret: []byte(appConfig.WebhookSigningSecret),
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:   tokens,
		Registry: handlers.Registry,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("worker starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		handlers.Dispatcher.Wait()
		return shutdownErr
	case err := <-errCh:
		handlers.Dispatcher.Wait()
		return err
	}
}
