package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mellowlab/asmrgen/internal/config"
	"github.com/mellowlab/asmrgen/internal/creem"
	"github.com/mellowlab/asmrgen/internal/database"
	"github.com/mellowlab/asmrgen/internal/kie"
	"github.com/mellowlab/asmrgen/internal/repository"
	"github.com/mellowlab/asmrgen/internal/server"
	"github.com/mellowlab/asmrgen/internal/service"
	"github.com/mellowlab/asmrgen/internal/storage"
	"github.com/mellowlab/asmrgen/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logg := logger.New(!cfg.Production)

	db, err := database.Connect(cfg)
	if err != nil {
		logg.Error("connect database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		logg.Error("migrate database", "err", err)
		os.Exit(1)
	}

	uploader, err := storage.NewUploader(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
		Prefix:        cfg.S3Prefix,
	})
	if err != nil {
		logg.Error("init uploader", "err", err)
		os.Exit(1)
	}

	profileRepo := repository.NewProfileRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	videoRepo := repository.NewVideoRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	packageRepo := repository.NewPackageRepository(db)
	rewardRepo := repository.NewRewardRepository(db)

	creemClient := creem.NewClient(creem.Config{
		APIKey:          cfg.Payment.APIKey(),
		BaseURL:         cfg.Payment.BaseURL(),
		CheckoutBaseURL: cfg.Payment.CheckoutBaseURL(),
		Timeout:         cfg.RequestTimeout,
	}, logg)
	kieClient := kie.NewClient(cfg.KIEAPIKey, cfg.KIEBaseURL, cfg.RequestTimeout, logg)

	profiles := service.NewProfileService(cfg, profileRepo)
	credits := service.NewCreditService(logg, profileRepo, transactionRepo)
	videos := service.NewVideoService(cfg, logg, videoRepo, profileRepo, credits, uploader)
	generations := service.NewGenerationService(cfg, logg, profileRepo, transactionRepo, credits, videos, kieClient)
	packages := service.NewPackageService(cfg, packageRepo)
	checkouts := service.NewCheckoutService(cfg, logg, creemClient, orderRepo, packages, profileRepo, credits)
	rewards := service.NewRewardService(cfg, logg, rewardRepo, profileRepo, credits)

	if err := packages.EnsureDefaultPackage(ctx); err != nil {
		logg.Error("seed default package", "err", err)
		os.Exit(1)
	}

	srv := server.New(cfg.ListenAddr, cfg.AdminUsername, cfg.AdminPassword, logg,
		profiles, credits, generations, checkouts, packages, rewards, videos)

	if err := srv.Run(ctx); err != nil {
		logg.Error("server error", "err", err)
		os.Exit(1)
	}
	logg.Info("shutdown complete")
}
