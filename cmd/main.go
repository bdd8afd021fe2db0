package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"

	"runcrew/cmd/buildCFG"
	"runcrew/internal/api/api"
	"runcrew/internal/auth"
	rabbitReader "runcrew/internal/consumerWorker"
	"runcrew/internal/imagestore"
	"runcrew/internal/mailer"
	"runcrew/internal/model"
	"runcrew/internal/rabbit"
	"runcrew/internal/repo"
	"runcrew/internal/service"
)

func main() {
	zlog.Init()
	log := zlog.Logger

	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg := config.New()
	if err := cfg.Load("config.yaml", "", "'"); err != nil {
		log.Fatal().Msgf("failed to load configuration: %v", err)
	}
	serverCfg := buildCFG.BuildServerConfig(cfg, &log)
	port := serverCfg.Port

	masterDSN, slaveDSNs, poolOptions, err := buildCFG.BuildDBConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build DB config")
	}
	db, err := dbpg.New(masterDSN, slaveDSNs, poolOptions)
	if err != nil {
		log.Fatal().Msgf("failed to connect to DB: %v", err)
	}
	if err := db.Master.Ping(); err != nil {
		log.Fatal().Msgf("DB ping failed: %v", err)
	}
	log.Info().Msg("Database connected successfully")

	repository, err := repo.NewRepository(db, &log)
	if err != nil {
		log.Fatal().Msgf("failed to initialize repository: %v", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		log.Fatal().Err(err).Msg("cannot get working directory")
	}
	migrationPath := filepath.Join(cwd, "migrations/postgres")
	if err := repository.MigrateUp(migrationPath); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Msg("Migrations applied successfully")

	appCfg, err := buildCFG.BuildAppConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build app config")
	}

	passwordHash, err := auth.HashPassword(appCfg.AdminPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to hash bootstrap admin password")
	}
	bootstrapCtx, cancelBootstrap := context.WithTimeout(context.Background(), 10*time.Second)
	err = repository.EnsureAdmin(bootstrapCtx, &model.Admin{
		Email:        appCfg.AdminEmail,
		Name:         appCfg.AdminName,
		PasswordHash: passwordHash,
	})
	cancelBootstrap()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap admin account")
	}
	log.Info().Str("email", appCfg.AdminEmail).Msg("bootstrap admin ensured")

	authCfg, err := buildCFG.BuildAuthConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build auth config")
	}
	tokens := auth.NewManager(authCfg.Secret, authCfg.TokenTTL)

	storageCfg := buildCFG.BuildStorageConfig(cfg, &log)
	images, err := imagestore.NewDiskStore(storageCfg.Dir, storageCfg.BaseURL, storageCfg.MaxBytes, storageCfg.MaxDim, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize image store")
	}

	smtpCfg := buildCFG.BuildSMTPConfig(cfg, &log)
	mail := mailer.New(smtpCfg, &log)

	rabbitCfg, err := buildCFG.BuildRabbitConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load RabbitMQ config")
	}
	rmq, err := rabbit.NewRabbit(rabbitCfg.Url, rabbitCfg.Exchange, rabbitCfg.Queue)
	if err != nil {
		log.Fatal().Msgf("Failed to connect to RabbitMQ: %v", err)
	}
	defer rmq.Close()

	workerCtx, cancelWorkers := context.WithCancel(context.Background())

	rabbitReaderer := rabbitReader.NewReader(rmq, repository, mail)
	go rabbitReaderer.Start(workerCtx)

	serviceInstance := service.NewService(repository, &log, rmq, mail, images, tokens, appCfg.Location)
	app := api.NewRouters(&api.Routers{
		Service:   serviceInstance,
		Auth:      tokens,
		ImagesDir: images.Dir(),
	})

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info().Msgf("Starting server on %s", port)
		if err := app.Run(":" + port); err != nil {
			serverErrChan <- fmt.Errorf("failed to start server: %w", err)
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-signalChan:
		log.Info().Msgf("Received signal %s. Initiating shutdown...", sig)
	case err := <-serverErrChan:
		log.Error().Msgf("Server error: %v", err)
	}

	cancelWorkers()
	rabbitReaderer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if closer, ok := interface{}(app).(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(shutdownCtx); err != nil {
			log.Error().Msgf("Error shutting down server: %v", err)
		}
	}

	log.Info().Msg("Shutdown complete")
}
