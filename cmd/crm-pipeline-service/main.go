package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/crm_backend/config"
	"github.com/mmdatafocus/crm_backend/dealapi"
	"github.com/mmdatafocus/crm_backend/middlewares"
	"github.com/mmdatafocus/crm_backend/models"
	"github.com/mmdatafocus/crm_backend/utils"
	"github.com/mmdatafocus/crm_backend/workflow"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("CRM_PIPELINE_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(func(c *gin.Context) {
		if c.GetHeader("token") == "" {
			auth := strings.TrimSpace(c.GetHeader("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				token := strings.TrimSpace(auth[7:])
				if token != "" {
					c.Request.Header.Set("token", token)
				}
			}
		}
		c.Next()
	})
	r.Use(middlewares.SessionMiddleware())
	r.Use(requestLogger(logger))
	r.Use(gin.Recovery())

	// Pipelines & stages
	r.POST("/api/pipelines", dealapi.CreatePipelineHandler())
	r.GET("/api/pipelines", dealapi.ListPipelinesHandler())
	r.GET("/api/pipelines/:id", dealapi.GetPipelineHandler())
	r.DELETE("/api/pipelines/:id", dealapi.DeletePipelineHandler())
	r.GET("/api/pipelines/:id/board", dealapi.PipelineBoardHandler())
	r.GET("/api/pipelines/:id/stages", dealapi.ListStagesHandler())
	r.POST("/api/stages", dealapi.CreateStageHandler())

	// Deals
	r.POST("/api/deals", dealapi.CreateDealHandler())
	r.GET("/api/deals", dealapi.ListDealsHandler())
	r.GET("/api/deals/:id", dealapi.GetDealHandler())
	r.PUT("/api/deals/:id", dealapi.UpdateDealHandler())
	r.DELETE("/api/deals/:id", dealapi.DeleteDealHandler())
	r.POST("/api/deals/:id/transition", dealapi.TransitionDealHandler())
	r.POST("/api/deals/:id/won", dealapi.MarkDealWonHandler())
	r.POST("/api/deals/:id/lost", dealapi.MarkDealLostHandler())
	r.GET("/api/deals/:id/changelog", dealapi.DealChangeLogHandler())

	// Forecast & staleness
	r.GET("/api/forecast", dealapi.ForecastHandler())
	r.GET("/api/stale-deals", dealapi.StaleDealsHandler())

	// Accounts
	r.POST("/api/accounts", dealapi.CreateAccountHandler())
	r.GET("/api/accounts", dealapi.ListAccountsHandler())
	r.GET("/api/accounts/:id", dealapi.GetAccountHandler())
	r.POST("/api/accounts/:id/recompute", dealapi.RecomputeAccountHandler())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	go bootstrapPubSub(sigCtx, logger)

	notifier := buildNotifier(logger)
	dispatcher := workflow.NewDealEventDispatcher(db, logger, notifier)
	go dispatcher.Run(sigCtx)

	if config.StaleDealSweepEnabled() {
		sweeper := workflow.NewStaleDealSweeper(db, logger, notifier)
		go sweeper.Run(sigCtx)
	} else {
		logger.WithFields(logrus.Fields{"field": "StaleDealSweeper"}).Info("STALE_DEAL_SWEEP disabled; sweep not started")
	}

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}

// bootstrapPubSub ensures the configured topics exist before the dispatcher
// starts publishing, plus the board-feed subscription when one is named.
// Runs in the background: the client initializer retries until Pub/Sub is
// reachable.
func bootstrapPubSub(ctx context.Context, logger *logrus.Logger) {
	dealEventsTopic := os.Getenv("PUBSUB_DEAL_EVENTS_TOPIC")
	notificationTopic := os.Getenv("PUBSUB_NOTIFICATION_TOPIC")
	if dealEventsTopic == "" && notificationTopic == "" {
		return
	}

	client, err := config.GetClient(ctx)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "pubsub"}).Warn("pubsub bootstrap skipped: " + err.Error())
		return
	}

	for _, name := range []string{dealEventsTopic, notificationTopic} {
		if name == "" {
			continue
		}
		topic, err := config.CreateTopicIfNotExists(client, name)
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "pubsub", "topic": name}).Warn("topic bootstrap failed: " + err.Error())
			continue
		}
		if name == dealEventsTopic {
			if sub := os.Getenv("PUBSUB_DEAL_EVENTS_SUBSCRIPTION"); sub != "" {
				if _, err := config.CreateSubscriptionIfNotExists(client, sub, topic); err != nil {
					logger.WithFields(logrus.Fields{"field": "pubsub", "subscription": sub}).Warn("subscription bootstrap failed: " + err.Error())
				}
			}
		}
	}
}

func buildNotifier(logger *logrus.Logger) workflow.Notifier {
	if os.Getenv("PUBSUB_NOTIFICATION_TOPIC") != "" {
		return workflow.PubSubNotifier{}
	}
	return workflow.LogNotifier{Logger: logger}
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

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		logger.WithFields(logrus.Fields{
			"status":         c.Writer.Status(),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"latency":        latency.String(),
			"correlation_id": cid,
		}).Info("request")
	}
}
