package api

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"fridge-tetris/internal/lib/sl"
	"fridge-tetris/internal/llm"
	"fridge-tetris/internal/packing"
)

//go:embed static/index.html
var indexHTML []byte

const requestIDHeader = "X-Request-Id"

// Options configures the HTTP layer.
type Options struct {
	// PromptTemplate is the base prompt sent with every plan.
	PromptTemplate string
	// PublicShare allows cross-origin requests from any site.
	PublicShare bool
	// RateLimit is the number of packing plans per second. Zero disables limiting.
	RateLimit float64
	// RateBurst is the limiter burst size.
	RateBurst int
	// MaxUploadBytes bounds the multipart body of a plan request.
	MaxUploadBytes int64
}

// NewRouter builds the gin engine with middleware and all routes registered.
func NewRouter(planner *packing.Planner, opts Options, log *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(AccessLog(log))

	corsCfg := cors.DefaultConfig()
	if opts.PublicShare {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowWildcard = true
		corsCfg.AllowOrigins = []string{
			"http://localhost", "http://localhost:*",
			"http://127.0.0.1", "http://127.0.0.1:*",
		}
	}
	corsCfg.AddExposeHeaders(requestIDHeader)
	r.Use(cors.New(corsCfg))

	SetupRoutes(r, NewPlanService(planner, opts, log))
	return r
}

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, svc *PlanService) {
	r.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	{
		v1.GET("/backend", svc.BackendHandler())
		v1.POST("/plan", svc.RateLimit(), svc.PlanHandler())
	}
}

// RequestID assigns every request an id, honouring one supplied by the client.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(packing.ContextWithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// AccessLog logs one line per request.
func AccessLog(log *slog.Logger) gin.HandlerFunc {
	log = log.With(sl.Module("http"))
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request",
			sl.RequestID(c.GetString("request_id")),
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("client", c.ClientIP()),
		)
	}
}

// PlanService provides the HTTP handlers around a Planner.
type PlanService struct {
	planner        *packing.Planner
	prompt         string
	limiter        *rate.Limiter
	maxUploadBytes int64
	log            *slog.Logger
}

// NewPlanService creates the handler set for a planner.
func NewPlanService(planner *packing.Planner, opts Options, log *slog.Logger) *PlanService {
	svc := &PlanService{
		planner:        planner,
		prompt:         opts.PromptTemplate,
		maxUploadBytes: opts.MaxUploadBytes,
		log:            log.With(sl.Module("plan-api")),
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		svc.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	if svc.maxUploadBytes <= 0 {
		svc.maxUploadBytes = 2*llm.DefaultMaxImageBytes + 1<<20
	}
	return svc
}

// RateLimit rejects plan requests beyond the configured rate. The backend is a
// single shared GPU or runner, so the limit is process-wide.
func (s *PlanService) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter != nil && !s.limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests, please try again in a moment.",
				"code":  "rate_limited",
			})
			return
		}
		c.Next()
	}
}

// BackendHandler reports which backend is configured and whether it answers.
func (s *PlanService) BackendHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		backend := s.planner.Backend()

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		info := gin.H{
			"name":      backend.Name(),
			"type":      backend.Type(),
			"model":     backend.Model(),
			"available": true,
		}
		if err := backend.Ping(ctx); err != nil {
			info["available"] = false
			info["error"] = llm.UserMessage(err)
			info["code"] = llm.Code(err)
		}
		c.JSON(http.StatusOK, info)
	}
}
