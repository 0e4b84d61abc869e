package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/billing-engine/internal/config"
	"github.com/ignatzorin/billing-engine/internal/db"
	"github.com/ignatzorin/billing-engine/internal/gateway"
	"github.com/ignatzorin/billing-engine/internal/goroutine"
	httpHandlers "github.com/ignatzorin/billing-engine/internal/http/handlers"
	httpRouter "github.com/ignatzorin/billing-engine/internal/http/router"
	"github.com/ignatzorin/billing-engine/internal/logger"
	"github.com/ignatzorin/billing-engine/internal/repository"
	"github.com/ignatzorin/billing-engine/internal/service"
	"github.com/ignatzorin/billing-engine/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	logLevel := "info"
	if cfg.Env == "development" {
		logLevel = "debug"
		logger.Init(logLevel)
		logger.SetTextFormatter()
	} else {
		logger.Init(logLevel)
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Вспомогательные компоненты.
	tokenManager := service.NewTokenManager(cfg.JWTSecret)

	snowflakeNode, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		log.Fatalf("main: ошибка инициализации генератора номеров счетов: %v", err)
	}

	gatewayClient := gateway.NewHTTPClient(cfg.GatewayBaseURL, cfg.GatewayTimeout)

	// Репозитории.
	offerRepo := repository.NewOfferRepository(dbConn)
	escrowRepo := repository.NewEscrowRepository(dbConn)
	billingRepo := repository.NewBillingRepository(dbConn)
	payoutRepo := repository.NewPayoutRepository(dbConn)
	contractRepo := repository.NewContractRepository(dbConn)

	// Сервисы.
	offerService := service.NewOfferService(offerRepo, cfg.DefaultCurrency)
	escrowService := service.NewEscrowService(escrowRepo, offerRepo, contractRepo, billingRepo, gatewayClient)
	billingService := service.NewBillingService(billingRepo, contractRepo, offerRepo)
	payoutService := service.NewPayoutService(payoutRepo, snowflakeNode, cfg.FeeRate, cfg.DefaultCurrency)
	terminationService := service.NewTerminationService(contractRepo, billingRepo, payoutService, escrowService)

	// Вебсокеты: хаб раздаёт события статусов подписанным дашбордам.
	hub := ws.NewHub()
	goroutine.SafeGo(hub.Run)

	offerService.SetNotifier(hub)
	escrowService.SetNotifier(hub)
	billingService.SetNotifier(hub)
	payoutService.SetNotifier(hub)
	terminationService.SetNotifier(hub)

	// Свипер — единственный актор переходов по времени.
	sweeper := service.NewSweeper(offerService, escrowRepo, cfg.SweepInterval, cfg.EscrowCallbackWindow)
	goroutine.SafeGoWithContext(ctx, sweeper.Run)

	// HTTP хэндлеры.
	offerHandler := httpHandlers.NewOfferHandler(offerService)
	escrowHandler := httpHandlers.NewEscrowHandler(escrowService, cfg.GatewayWebhookSecret)
	billingHandler := httpHandlers.NewBillingHandler(billingService)
	payoutHandler := httpHandlers.NewPayoutHandler(payoutService)
	terminationHandler := httpHandlers.NewTerminationHandler(terminationService)
	adminHandler := httpHandlers.NewAdminHandler(sweeper)
	wsHandler := httpHandlers.NewWSHandler(hub, tokenManager)
	healthHandler := httpHandlers.NewHealthHandler(dbConn)

	// Роутер.
	engine := httpRouter.SetupRouter(cfg, offerHandler, escrowHandler, billingHandler,
		payoutHandler, terminationHandler, adminHandler, wsHandler, healthHandler, tokenManager)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
