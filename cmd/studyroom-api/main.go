package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/studyroom/internal/auth"
	"github.com/MarcoPoloResearchLab/studyroom/internal/config"
	"github.com/MarcoPoloResearchLab/studyroom/internal/database"
	"github.com/MarcoPoloResearchLab/studyroom/internal/logging"
	"github.com/MarcoPoloResearchLab/studyroom/internal/metrics"
	"github.com/MarcoPoloResearchLab/studyroom/internal/presence"
	"github.com/MarcoPoloResearchLab/studyroom/internal/realtime"
	"github.com/MarcoPoloResearchLab/studyroom/internal/rooms"
	"github.com/MarcoPoloResearchLab/studyroom/internal/server"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "studyroom-api",
		Short: "Study room synchronization service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
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
	cmd.PersistentFlags().String("public-url", defaults.GetString("http.public_url"), "Public base URL announced at startup")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("cors.allowed_origins"), "Allowed CORS and websocket origins")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "Postgres connection string")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("message-history", defaults.GetInt("rooms.message_history_limit"), "Messages returned with a room snapshot")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (enables authentication)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.public_url", "public-url")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "rooms.message_history_limit", "message-history")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := rooms.NewStore(rooms.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: rooms.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	directory, err := rooms.NewDirectory(rooms.DirectoryConfig{
		Store:        store,
		Codes:        rooms.NewRandomCodeGenerator(),
		Logger:       logger,
		MessageLimit: appConfig.MessageHistory,
		ListingLimit: appConfig.ListingLimit,
	})
	if err != nil {
		return err
	}

	observer := metrics.NewRealtime()
	registry := presence.NewRegistry()
	dispatcher := realtime.NewDispatcher(appConfig.RealtimeBufferSize)

	sessions, err := realtime.NewSessionManager(realtime.SessionConfig{
		Store:        store,
		Registry:     registry,
		Dispatcher:   dispatcher,
		Logger:       logger,
		Observer:     observer,
		MessageLimit: appConfig.MessageHistory,
	})
	if err != nil {
		return err
	}

	eventRouter, err := realtime.NewRouter(realtime.RouterConfig{
		Sessions:   sessions,
		Store:      store,
		Registry:   registry,
		Dispatcher: dispatcher,
		Logger:     logger,
		Observer:   observer,
	})
	if err != nil {
		return err
	}

	var sessionValidator server.SessionValidator
	if appConfig.AuthEnabled() {
		validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
			SigningSecret: []byte(appConfig.SigningSecret),
			Issuer:        appConfig.SessionIssuer,
			CookieName:    appConfig.SessionCookieName,
		})
		if err != nil {
			return err
		}
		sessionValidator = validator
	} else {
		logger.Warn("session signing secret not configured; client identities are trusted")
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Directory:        directory,
		Sessions:         sessions,
		EventRouter:      eventRouter,
		Dispatcher:       dispatcher,
		SessionValidator: sessionValidator,
		Observer:         observer,
		Logger:           logger,
		AllowedOrigins:   appConfig.AllowedOrigins,
		MaxMessageBytes:  appConfig.MaxMessageBytes,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("public_url", appConfig.PublicURL),
			zap.Bool("auth_enabled", appConfig.AuthEnabled()))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
