// internal/router/router.go
package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/javajoker/farmtrace-backend/internal/config"
	"github.com/javajoker/farmtrace-backend/internal/handlers"
	"github.com/javajoker/farmtrace-backend/internal/middleware"
	"github.com/javajoker/farmtrace-backend/internal/repository"
	"github.com/javajoker/farmtrace-backend/internal/services"
	"github.com/javajoker/farmtrace-backend/internal/utils"
)

// Services is everything the HTTP layer calls into.
type Services struct {
	Farmers     *services.FarmerService
	Produce     *services.ProduceService
	Custody     *services.CustodyService
	Settlement  *services.SettlementService
	Collections *services.CollectionService
	Carbon      *services.CarbonService
}

func Initialize(cfg *config.Config, repo repository.Repository, svc *Services, limiter *middleware.RateLimiter) *gin.Engine {
	// Initialize handlers
	farmerHandler := handlers.NewFarmerHandler(svc.Farmers)
	produceHandler := handlers.NewProduceHandler(svc.Produce)
	transactionHandler := handlers.NewTransactionHandler(svc.Settlement, svc.Collections)
	carbonHandler := handlers.NewCarbonHandler(svc.Carbon)
	verificationHandler := handlers.NewVerificationHandler(svc.Custody)
	paymentHandler := handlers.NewPaymentHandler(svc.Collections)

	if limiter == nil {
		limiter = middleware.NewRateLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst)
	}

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Accept-Language", "Authorization"},
		ExposeHeaders:    []string{"X-Total-Count", "X-Page", "X-Per-Page", "X-Total-Pages"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(middleware.I18nMiddleware())
	r.Use(limiter.Middleware())
	r.Use(middleware.AuditLogMiddleware(repo))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Public routes
		v1.POST("/verify", verificationHandler.Verify)
		v1.GET("/verifications/:id/proof", verificationHandler.GetProof)
		v1.POST("/payments/mpesa/callback", paymentHandler.MPesaCallback)

		operator := v1.Group("")
		operator.Use(middleware.OperatorRequired())

		// Farmer routes
		farmers := operator.Group("/farmers")
		farmers.Use(middleware.RoleRequired(utils.RoleAgent))
		{
			farmers.POST("", farmerHandler.RegisterFarmer)
			farmers.GET("/:id", farmerHandler.GetFarmer)
			farmers.PUT("/:id/certification", farmerHandler.UpdateCertification)
			farmers.GET("/:id/carbon-credits", farmerHandler.GetCarbonCredits)
		}

		// Produce routes
		produce := operator.Group("/produce")
		produce.Use(middleware.RoleRequired(utils.RoleAgent))
		{
			produce.GET("", produceHandler.ListProduce)
			produce.POST("", produceHandler.RegisterProduce)
			produce.POST("/expire", produceHandler.ExpireDue)
			produce.GET("/:id", produceHandler.GetProduce)
			produce.PUT("/:id", produceHandler.UpdateProduce)
			produce.POST("/:id/tracking", produceHandler.AddTrackingPoint)
			produce.GET("/:id/history", produceHandler.GetHistory)
			produce.POST("/:id/sales", produceHandler.RecordSale)
			produce.POST("/:id/reanchor", produceHandler.Reanchor)
		}

		// Transaction routes
		transactions := operator.Group("/transactions")
		{
			transactions.GET("/:id", middleware.RoleRequired(utils.RoleAgent), transactionHandler.GetTransaction)
			transactions.POST("/:id/collect", middleware.RoleRequired(utils.RoleAgent), transactionHandler.RequestCollection)
			transactions.GET("/:id/collection", middleware.RoleRequired(utils.RoleAgent), transactionHandler.GetCollection)

			settlement := transactions.Group("")
			settlement.Use(middleware.RoleRequired(utils.RoleFinance))
			{
				settlement.POST("/:id/settle", transactionHandler.Settle)
				settlement.POST("/bulk-settle", transactionHandler.BulkSettle)
				settlement.POST("/settle-pending", transactionHandler.SettlePending)
				settlement.POST("/reconcile", transactionHandler.Reconcile)
				settlement.POST("/release-stale", transactionHandler.ReleaseStale)
			}
		}

		// Carbon credit routes
		credits := operator.Group("/carbon-credits")
		credits.Use(middleware.RoleRequired(utils.RoleFinance))
		{
			credits.POST("/:id/redeem", carbonHandler.Redeem)
		}
	}

	return r
}
