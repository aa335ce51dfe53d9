package handlers

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/tradeledger_backend/config"
	"bitbucket.org/mmdatafocus/tradeledger_backend/middlewares"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NewRouter wires every JSON route. Routes other than /health answer 503 until the database is connected.
func NewRouter(logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.GET("/health", health)
	r.Use(func(c *gin.Context) {
		if config.GetDB() == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{Detail: "database is not ready"})
			return
		}
		c.Next()
	})

	r.Use(cors.New(corsConfig()))
	if limiter := rateLimiterFromEnv(); limiter != nil {
		r.Use(limiter.Middleware())
	}
	r.Use(middlewares.ActorMiddleware())
	r.Use(middlewares.ErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/operations", createOperation)
	r.GET("/operations", listOperations)
	r.GET("/operations/margins", marginSummary)
	r.POST("/operations/import", importOperations)
	r.GET("/operations/import/template", importTemplate)
	r.GET("/operations/:id", getOperation)
	r.PATCH("/operations/:id/status", updateOperationStatus)
	r.DELETE("/operations/:id", deleteOperation)
	r.POST("/operations/:id/reconcile", reconcileOperation)
	r.GET("/operations/:id/movements", listOperationMovements)
	r.POST("/operations/:id/invoice", generateInvoice)
	r.GET("/operations/:id/invoice", getOperationInvoice)

	r.POST("/movements", recordMovement)
	r.GET("/movements", listMovements)
	r.DELETE("/movements/:id", deleteMovement)
	r.POST("/scheduled-payments/:id/settle", settleScheduledPayment)
	r.GET("/balance", getBalance)

	r.POST("/contacts", createContact)
	r.GET("/contacts", listContacts)
	r.GET("/contacts/:id", getContact)
	r.DELETE("/contacts/:id", deleteContact)
	r.POST("/hs-codes", createHsCode)
	r.GET("/hs-codes", listHsCodes)
	r.GET("/invoices", listInvoices)

	r.GET("/ledger-events/:type/:id", getLedgerEventStatus)
	r.POST("/ledger-events/:type/:id/requeue", requeueLedgerEvents)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Detail: "route not found"})
	})
	return r
}

func health(c *gin.Context) {
	status := gin.H{"status": "ok", "database": config.GetDB() != nil, "redis": config.GetRedisDB() != nil}
	c.JSON(http.StatusOK, status)
}

// corsConfig allows every origin outside production. In production only CORS_ALLOWED_ORIGINS
// (comma-separated) is allowed, and nothing when it is unset.
func corsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		if len(corsConfig.AllowOrigins) == 0 {
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PATCH", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", middlewares.CorrelationHeader, middlewares.ActorHeader)
	corsConfig.AddExposeHeaders("Content-Length", middlewares.CorrelationHeader)
	return corsConfig
}

// rateLimiterFromEnv returns nil unless RATE_LIMIT_ENABLED=true and Redis is connected.
func rateLimiterFromEnv() *middlewares.RateLimiter {
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		return nil
	}
	client := config.GetRedisDB()
	if client == nil {
		return nil
	}
	limit := int64(600)
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}
	windowSec := int64(60)
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			windowSec = n
		}
	}
	return middlewares.NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
