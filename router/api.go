package router

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phonginreallife/oncall/handlers"
	"github.com/phonginreallife/oncall/internal/config"
	"github.com/phonginreallife/oncall/services"
)

// Services groups the wired service layer so the API server and the worker share one construction path.
type Services struct {
	Schedulers *services.SchedulerService
	Rotations  *services.RotationService
	Overrides  *services.OverrideService
	OnCall     *services.OnCallService
	Escalation *services.EscalationService
	Incidents  *services.IncidentService
}

// NewServices wires the service layer from configuration.
func NewServices(pg *sql.DB, redisClient *redis.Client, cfg config.Config) (*Services, error) {
	sender, err := services.NewNotificationSender(cfg.Notification.Backend, cfg.Notification.Queue, pg, redisClient)
	if err != nil {
		return nil, err
	}
	notifier := services.NewNotificationDispatcher(sender, cfg.Notification.Timeout)

	shiftStore := services.NewShiftStore()
	overrideStore := services.NewOverrideStore()
	rotationService := services.NewRotationService(pg, shiftStore, cfg.Rotation.DefaultWeeksAhead)
	onCallService := services.NewOnCallService(pg, shiftStore, overrideStore)
	escalationService := services.NewEscalationService(pg, onCallService, notifier)

	return &Services{
		Schedulers: services.NewSchedulerService(pg, shiftStore, overrideStore, rotationService),
		Rotations:  rotationService,
		Overrides:  services.NewOverrideService(pg, shiftStore, overrideStore),
		OnCall:     onCallService,
		Escalation: escalationService,
		Incidents:  services.NewIncidentService(pg, escalationService, notifier),
	}, nil
}

func NewGinRouter(pg *sql.DB, svc *Services, jwtSecret string) *gin.Engine {
	r := gin.Default()

	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	schedulerHandler := handlers.NewSchedulerHandler(svc.Schedulers, svc.Rotations)
	overrideHandler := handlers.NewOverrideHandler(svc.Overrides)
	onCallHandler := handlers.NewOnCallHandler(svc.OnCall)
	incidentHandler := handlers.NewIncidentHandler(svc.Incidents, svc.Escalation)

	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pg.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(handlers.JWTAuthMiddleware(jwtSecret))
	{
		groupRoutes := api.Group("/groups/:id")
		{
			groupRoutes.POST("/schedulers", schedulerHandler.CreateScheduler)
			groupRoutes.GET("/schedulers", schedulerHandler.ListSchedulers)
			groupRoutes.POST("/shifts", schedulerHandler.CreateGroupShift)
			groupRoutes.GET("/shifts", schedulerHandler.ListGroupShifts)
			groupRoutes.GET("/oncall", onCallHandler.GetEffectiveAssignment)
			groupRoutes.GET("/overrides", overrideHandler.ListOverrides)
			groupRoutes.POST("/escalation-policies", incidentHandler.CreateEscalationPolicy)
		}

		schedulerRoutes := api.Group("/schedulers")
		{
			schedulerRoutes.GET("/:id", schedulerHandler.GetScheduler)
			schedulerRoutes.PUT("/:id/shifts", schedulerHandler.ReplaceShifts)
			schedulerRoutes.POST("/:id/shifts", schedulerHandler.CreateShift)
			schedulerRoutes.DELETE("/:id", schedulerHandler.DeleteScheduler)
			schedulerRoutes.GET("/:id/rotation", schedulerHandler.GetRotationCycle)
		}

		api.GET("/shifts/:id", schedulerHandler.GetShift)
		api.POST("/shifts/swap", schedulerHandler.SwapShifts)
		api.POST("/rotations/preview", schedulerHandler.PreviewRotation)

		api.POST("/overrides", overrideHandler.CreateOverride)
		api.DELETE("/overrides/:id", overrideHandler.DeleteOverride)

		api.GET("/escalation-policies/:id", incidentHandler.GetEscalationPolicy)

		incidentRoutes := api.Group("/incidents")
		{
			incidentRoutes.POST("", incidentHandler.CreateIncident)
			incidentRoutes.GET("/:id", incidentHandler.GetIncident)
			incidentRoutes.POST("/:id/escalate", incidentHandler.EscalateIncident)
			incidentRoutes.POST("/:id/acknowledge", incidentHandler.AcknowledgeIncident)
			incidentRoutes.POST("/:id/resolve", incidentHandler.ResolveIncident)
		}
	}

	return r
}
