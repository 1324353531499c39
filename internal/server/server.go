package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/studiodesk/internal/audit/domain"
	"github.com/smallbiznis/studiodesk/internal/config"
	orderdomain "github.com/smallbiznis/studiodesk/internal/order/domain"
	paymentdomain "github.com/smallbiznis/studiodesk/internal/payment/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine, NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(RunHTTP),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	orderSvc     orderdomain.Service
	checkoutSvc  paymentdomain.CheckoutService
	webhookSvc   paymentdomain.WebhookService
	refundSvc    paymentdomain.RefundService
	recurringSvc paymentdomain.RecurringService
	auditSvc     auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	OrderSvc     orderdomain.Service
	CheckoutSvc  paymentdomain.CheckoutService
	WebhookSvc   paymentdomain.WebhookService
	RefundSvc    paymentdomain.RefundService
	RecurringSvc paymentdomain.RecurringService
	AuditSvc     auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		log:          p.Log.Named("http"),
		genID:        p.GenID,
		orderSvc:     p.OrderSvc,
		checkoutSvc:  p.CheckoutSvc,
		webhookSvc:   p.WebhookSvc,
		refundSvc:    p.RefundSvc,
		recurringSvc: p.RecurringSvc,
		auditSvc:     p.AuditSvc,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	v1 := s.engine.Group("/v1")

	// The webhook authenticates by signature, not password.
	v1.POST("/payments/webhook", s.HandleWebhook)

	admin := v1.Group("", s.AdminRequired())
	admin.POST("/orders", s.CreateOrder)
	admin.GET("/orders/:id", s.GetOrder)
	admin.GET("/orders/:id/amount-owed", s.GetAmountOwed)
	admin.POST("/orders/:id/checkout", s.CreateCheckout)
	admin.DELETE("/orders/:id", s.DeleteOrder)
	admin.POST("/ledger/:id/refund", s.CreateRefund)
	admin.POST("/billing/run", s.RunBilling)
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
