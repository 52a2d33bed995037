package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/repairpay/internal/actorcontext"
	adjustmentdomain "github.com/smallbiznis/repairpay/internal/adjustment/domain"
	"github.com/smallbiznis/repairpay/internal/authorization"
	auditdomain "github.com/smallbiznis/repairpay/internal/audit/domain"
	"github.com/smallbiznis/repairpay/internal/clock"
	"github.com/smallbiznis/repairpay/internal/config"
	"github.com/smallbiznis/repairpay/internal/observability"
	obslogger "github.com/smallbiznis/repairpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/repairpay/internal/observability/metrics"
	obstracing "github.com/smallbiznis/repairpay/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/repairpay/internal/order/domain"
	"github.com/smallbiznis/repairpay/internal/ratelimit"
	reportdomain "github.com/smallbiznis/repairpay/internal/report/domain"
	returnsdomain "github.com/smallbiznis/repairpay/internal/returns/domain"
	settlementdomain "github.com/smallbiznis/repairpay/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if httpMetrics != nil {
		r.GET("/metrics", gin.WrapH(httpMetrics.Handler()))
	}

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	clock         clock.Clock
	authzSvc      authorization.Service
	auditSvc      auditdomain.Service
	orderSvc      orderdomain.Service
	adjustmentSvc adjustmentdomain.Service
	returnsSvc    returnsdomain.Service
	settlementSvc settlementdomain.Service
	reportSvc     reportdomain.Service
	limiter       rateLimiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Clock         clock.Clock
	AuthzSvc      authorization.Service
	AuditSvc      auditdomain.Service
	OrderSvc      orderdomain.Service
	AdjustmentSvc adjustmentdomain.Service
	ReturnsSvc    returnsdomain.Service
	SettlementSvc settlementdomain.Service
	ReportSvc     reportdomain.Service   `optional:"true"`
	RateLimiter   *ratelimit.TokenBucket `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		clock:         p.Clock,
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		orderSvc:      p.OrderSvc,
		adjustmentSvc: p.AdjustmentSvc,
		returnsSvc:    p.ReturnsSvc,
		settlementSvc: p.SettlementSvc,
		reportSvc:     p.ReportSvc,
	}
	if p.RateLimiter != nil {
		svc.limiter = p.RateLimiter
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", ActorFromHeaders())

	// -------- Orders --------
	api.POST("/orders", RequireRole(actorcontext.RoleAdmin), s.CreateOrder)
	api.GET("/orders/:orderId", s.GetOrder)
	api.PUT("/orders/:orderId/receipt", RequireRole(actorcontext.RoleAdmin), s.AttachReceipt)
	api.DELETE("/orders/:orderId/receipt", RequireRole(actorcontext.RoleAdmin), s.RemoveReceipt)
	api.PATCH("/orders/:orderId/costs", RequireRole(actorcontext.RoleAdmin), s.UpdateOrderCosts)
	api.POST("/orders/:orderId/return", RequireRole(actorcontext.RoleAdmin), s.MarkOrderReturned)
	api.POST("/orders/:orderId/cancel", RequireRole(actorcontext.RoleAdmin), s.MarkOrderCancelled)
	api.DELETE("/orders/:orderId", RequireRole(actorcontext.RoleAdmin), s.DeleteOrder)
	api.GET("/orders/:orderId/notes", s.ListOrderNotes)
	api.POST("/orders/:orderId/notes", s.AddOrderNote)

	// -------- Adjustments --------
	api.GET("/adjustments/:adjustmentId", s.GetAdjustment)

	// -------- Settlements --------
	api.GET("/settlements/:settlementId", s.GetSettlement)
	api.GET("/settlements/:settlementId/payslip", s.limitByActor(payslipRateLimit), s.RenderPayslip)

	// -------- Technician scoped --------
	tech := api.Group("/technicians/:technicianId", TechnicianScope())
	{
		tech.GET("/orders", s.ListOrders)
		tech.GET("/orders/pending", s.ListPendingOrders)

		tech.POST("/adjustments", s.CreateAdjustment)
		tech.GET("/adjustments", s.ListPendingAdjustments)
		tech.DELETE("/adjustments/:adjustmentId", RequireRole(actorcontext.RoleAdmin), s.DeleteAdjustment)

		tech.GET("/returns", s.ListPendingReturns)
		tech.GET("/returns/week", s.GetWeekReturns)
		tech.POST("/returns/settle", RequireRole(actorcontext.RoleAdmin), s.SettleReturns)

		tech.GET("/settlements", s.ListSettlements)
		tech.GET("/settlements/summary", s.GetSettlementSummary)
		tech.POST("/settlements/summary", s.GetSettlementSummary)
		tech.POST("/settlements", RequireRole(actorcontext.RoleAdmin), s.limitByActor(settleRateLimit), s.Settle)
	}
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", ActorFromHeaders(), RequireRole(actorcontext.RoleAdmin))

	admin.GET("/reports/weekly", s.GetWeeklyBoard)
	admin.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

// authorize checks the casbin policy for handlers whose service does not.
func (s *Server) authorize(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.authzSvc == nil {
			AbortWithError(c, authorization.ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
