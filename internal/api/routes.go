package api

import (
	"github.com/gin-gonic/gin"

	"github.com/ajharbinger/dilution-monitor/internal/auth"
	"github.com/ajharbinger/dilution-monitor/internal/metrics"
	"github.com/ajharbinger/dilution-monitor/internal/models"
	"github.com/ajharbinger/dilution-monitor/internal/provider"
)

// Dependencies are the collaborators the HTTP surface is built from
type Dependencies struct {
	Companies     CompanyReader
	ScoringConfig ScoringConfigManager
	Export        WatchlistExporter
	Pipeline      PipelineController
	DB            HealthChecker
	Providers     []*provider.HealthMonitor
	Metrics       *metrics.Recorder
	JWTSecret     string
	DefaultMode   models.RunMode
}

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, deps Dependencies) {
	companyHandler := NewCompanyHandler(deps.Companies, deps.Export)
	configHandler := NewConfigHandler(deps.ScoringConfig)
	pipelineHandler := NewPipelineHandler(deps.Pipeline, deps.DefaultMode)
	healthHandler := NewHealthHandler(deps.DB, deps.Providers...)

	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// Public routes
	public := r.Group("/api/v1")
	{
		public.GET("/health", healthHandler.GetHealth)
		public.GET("/health/providers", healthHandler.GetProviderHealth)

		public.GET("/companies", companyHandler.ListCompanies)
		public.GET("/companies/:ticker", companyHandler.GetCompany)
		public.GET("/companies/:ticker/history", companyHandler.GetHistory)
		public.GET("/companies/:ticker/filings", companyHandler.GetFilings)
		public.GET("/companies/:ticker/fundamentals", companyHandler.GetFundamentals)
		public.GET("/screener", companyHandler.Screener)
		public.GET("/stats", companyHandler.GetStats)
		public.GET("/export/watchlist.xlsx", companyHandler.ExportWatchlist)

		public.GET("/config/scoring", configHandler.GetScoringConfig)
	}

	// Admin routes
	admin := r.Group("/api/v1")
	admin.Use(auth.JWTMiddleware(deps.JWTSecret))
	admin.Use(auth.RequireRole(auth.RoleAdmin))
	{
		admin.PUT("/config/scoring", configHandler.UpdateScoringConfig)

		admin.GET("/pipeline/status", pipelineHandler.GetPipelineStatus)
		admin.POST("/pipeline/run", pipelineHandler.RunPipeline)
		admin.POST("/pipeline/start", pipelineHandler.StartPipeline)
		admin.POST("/pipeline/stop", pipelineHandler.StopPipeline)

		admin.POST("/health/providers/reset", healthHandler.ResetProviderHealth)
	}
}
