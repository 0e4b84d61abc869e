package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/billing-engine/internal/config"
	"github.com/ignatzorin/billing-engine/internal/http/handlers"
	"github.com/ignatzorin/billing-engine/internal/http/middleware"
	"github.com/ignatzorin/billing-engine/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	offerHandler *handlers.OfferHandler,
	escrowHandler *handlers.EscrowHandler,
	billingHandler *handlers.BillingHandler,
	payoutHandler *handlers.PayoutHandler,
	terminationHandler *handlers.TerminationHandler,
	adminHandler *handlers.AdminHandler,
	wsHandler *handlers.WSHandler,
	healthHandler *handlers.HealthHandler,
	tokenManager *service.TokenManager,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")
	api.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod))

	// Вебхук шлюза аутентифицируется HMAC-подписью, а не JWT.
	api.POST("/webhooks/escrow", escrowHandler.Webhook)

	api.GET("/ws", wsHandler.Handle)

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	{
		// Офферы
		protected.POST("/offers", offerHandler.Create)
		protected.GET("/offers/:id", middleware.UUIDValidator("id"), offerHandler.Get)
		protected.POST("/offers/:id/accept", middleware.UUIDValidator("id"), offerHandler.Accept)
		protected.POST("/offers/:id/reject", middleware.UUIDValidator("id"), offerHandler.Reject)

		// Escrow
		protected.POST("/offers/:id/escrow", middleware.UUIDValidator("id"), escrowHandler.Initiate)
		protected.GET("/offers/:id/escrow", middleware.UUIDValidator("id"), escrowHandler.GetByOffer)
		protected.GET("/escrow/:id", middleware.UUIDValidator("id"), escrowHandler.Get)

		// Биллинг
		protected.POST("/billing/units", billingHandler.Submit)
		protected.GET("/billing/units", billingHandler.ListMy)
		protected.GET("/billing/units/:id", middleware.UUIDValidator("id"), billingHandler.Get)

		// Контракты и расторжение
		protected.GET("/contracts/:id", middleware.UUIDValidator("id"), terminationHandler.GetContract)
		protected.POST("/contracts/:id/terminate", middleware.UUIDValidator("id"), terminationHandler.Request)

		// Счета доступны обеим сторонам
		protected.GET("/payouts/batches/:id", middleware.UUIDValidator("id"), payoutHandler.GetBatch)
		protected.GET("/payouts/invoices/:id", middleware.UUIDValidator("id"), payoutHandler.GetInvoice)
	}

	admin := api.Group("")
	admin.Use(middleware.AuthMiddleware(tokenManager), middleware.AdminOnly())
	{
		admin.POST("/escrow/:id/release", middleware.UUIDValidator("id"), escrowHandler.Release)
		admin.POST("/escrow/:id/refund", middleware.UUIDValidator("id"), escrowHandler.Refund)

		admin.POST("/billing/units/:id/review", middleware.UUIDValidator("id"), billingHandler.Review)
		admin.POST("/billing/units/:id/resolve-flag", middleware.UUIDValidator("id"), billingHandler.ResolveFlag)

		admin.POST("/payouts/batches", payoutHandler.BuildBatch)
		admin.POST("/payouts/batches/:id/invoice", middleware.UUIDValidator("id"), payoutHandler.FinalizeInvoice)
		admin.POST("/payouts/invoices/:id/correct", middleware.UUIDValidator("id"), payoutHandler.CorrectInvoice)

		admin.POST("/terminations/:id/approve", middleware.UUIDValidator("id"), terminationHandler.Approve)
		admin.POST("/terminations/:id/reject", middleware.UUIDValidator("id"), terminationHandler.Reject)
		admin.POST("/contracts/:id/settle", middleware.UUIDValidator("id"), terminationHandler.Settle)
		admin.POST("/contracts/:id/refund-escrow", middleware.UUIDValidator("id"), terminationHandler.RefundEscrow)

		admin.POST("/admin/sweep", adminHandler.Sweep)
	}

	return r
}
