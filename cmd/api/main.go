package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/queue"
	"rollcall/internal/report"
	"rollcall/internal/schema"
	"rollcall/internal/store"
	"rollcall/internal/users"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	wb, err := store.Open(cfg.DataFile)
	if err != nil {
		return err
	}
	log.Printf("record store ready at %s", wb.Path())

	userRepo := users.NewRepository(wb)
	attRepo := attendance.NewRepository(wb)
	agg := report.NewAggregator(userRepo, attRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var q queue.Queue
	var redisClient *redis.Client
	if cfg.QueueBackend == "redis" {
		redisClient = queue.NewRedisClient(cfg.RedisAddr)
		q = queue.NewRedisQueue(redisClient, "rollcall:updates")
	} else {
		q = queue.NewInMemory(64)
	}

	// With the in-memory queue the applier runs in-process and completions
	// are tracked; with Redis the worker binary applies updates.
	local := cfg.QueueBackend != "redis"
	att := attendance.NewService(attRepo, q, local)
	if local {
		go func() {
			if err := att.RunApplier(ctx); err != nil {
				log.Printf("status applier stopped: %v", err)
			}
		}()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin).Middleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		_, statErr := os.Stat(wb.Path())
		storeHealthy := statErr == nil
		status := http.StatusOK
		body := gin.H{"status": "ok", "store": storeHealthy}
		if redisClient != nil {
			redisHealthy := queue.Healthy(c.Request.Context(), redisClient)
			body["redis"] = redisHealthy
			if !redisHealthy {
				status = http.StatusServiceUnavailable
			}
		}
		if !storeHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, body)
	})

	r.POST("/v1/auth/login", func(c *gin.Context) {
		var req struct {
			Name     string `json:"name" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		u, err := userRepo.Authenticate(req.Name, req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
			return
		}
		if u == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		tokens, err := auth.Issue(u.ID, u.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
			"user":          gin.H{"id": u.ID, "name": u.Name, "role": u.Role, "subject": u.Subject},
		})
	})

	r.POST("/v1/auth/refresh", refreshHandler(userRepo, cfg))

	authed := r.Group("/v1", auth.UserAuth(cfg.JWTSigningKey, cfg.JWTIssuer))
	adminOnly := auth.RequireRole(schema.RoleAdmin)
	staffOrAdmin := auth.RequireRole(schema.RoleAdmin, schema.RoleStaff)

	// Subject list for the client's subject picker. AllSubjects is the value
	// report filters accept to match everything.
	authed.GET("/subjects", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subjects": schema.Subjects, "all_filter": schema.AllSubjects})
	})

	// User management (admin).
	authed.GET("/users", adminOnly, func(c *gin.Context) {
		role := c.Query("role")
		if role == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "role query parameter required"})
			return
		}
		list, err := userRepo.ByRole(role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": list})
	})

	authed.POST("/users", adminOnly, func(c *gin.Context) {
		var req struct {
			Name     string `json:"name" binding:"required"`
			Password string `json:"password" binding:"required"`
			Role     string `json:"role" binding:"required"`
			Subject  string `json:"subject"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := userRepo.Add(req.Name, req.Password, req.Role, req.Subject)
		if errors.Is(err, users.ErrInvalidUser) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": id})
	})

	authed.DELETE("/users/:id", adminOnly, func(c *gin.Context) {
		if err := userRepo.Remove(c.Param("id")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	authed.PUT("/users/:id/password", adminOnly, func(c *gin.Context) {
		var req struct {
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if strings.TrimSpace(req.Password) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "password cannot be empty"})
			return
		}
		if err := userRepo.UpdatePassword(c.Param("id"), strings.TrimSpace(req.Password)); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	// Attendance.
	authed.GET("/attendance", staffOrAdmin, func(c *gin.Context) {
		rows, err := agg.RawRows()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if c.Query("format") == "csv" {
			writeCSV(c, "RawAttendance", report.RawColumns, report.RawCells(rows))
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": rows})
	})

	authed.GET("/attendance/students/:id", func(c *gin.Context) {
		id := c.Param("id")
		if !canViewStudent(c, id) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		recs, err := attRepo.ForStudent(id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": recs})
	})

	authed.GET("/attendance/status", staffOrAdmin, func(c *gin.Context) {
		subject := c.Query("subject")
		if subject == "" {
			subject = schema.DefaultSubject
		}
		status, err := attRepo.StatusFor(c.Query("student_id"), c.Query("date"), subject)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": status})
	})

	authed.GET("/attendance/marked", staffOrAdmin, func(c *gin.Context) {
		marked, err := attRepo.HasBeenMarked(c.Query("date"), c.Query("subject"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"marked": marked})
	})

	authed.POST("/attendance", staffOrAdmin, func(c *gin.Context) {
		var req struct {
			Date    string              `json:"date" binding:"required"`
			Subject string              `json:"subject" binding:"required"`
			Records []attendance.Record `json:"records" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := att.Mark(req.Records, req.Date, req.Subject); err != nil {
			c.JSON(markErrStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"saved": len(req.Records), "date": req.Date, "subject": req.Subject})
	})

	authed.PATCH("/attendance/status", adminOnly, func(c *gin.Context) {
		var upd attendance.StatusUpdate
		if err := c.ShouldBindJSON(&upd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		task, err := att.SubmitStatusUpdate(c.Request.Context(), upd)
		if err != nil {
			c.JSON(markErrStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID})
	})

	// Reports.
	authed.GET("/reports/aggregate", staffOrAdmin, func(c *gin.Context) {
		start, end, err := report.ParseRange(c.Query("start"), c.Query("end"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rows, err := agg.Aggregate(start, end, c.Query("subject"))
		if err != nil {
			c.JSON(reportErrStatus(err), gin.H{"error": err.Error()})
			return
		}
		if c.Query("format") == "csv" {
			writeCSV(c, "AggregateReport", report.ReportColumns, report.RowCells(rows))
			return
		}
		c.JSON(http.StatusOK, gin.H{"rows": rows})
	})

	authed.GET("/reports/at-risk", staffOrAdmin, func(c *gin.Context) {
		thresholdStr := c.DefaultQuery("threshold", "75")
		threshold, err := report.ParseThreshold(thresholdStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		start, end, err := report.ParseRange(c.Query("start"), c.Query("end"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rows, err := agg.AtRiskRows(start, end, c.Query("subject"), threshold)
		if err != nil {
			c.JSON(reportErrStatus(err), gin.H{"error": err.Error()})
			return
		}
		if c.Query("format") == "csv" {
			writeCSV(c, "AtRiskReport", report.ReportColumns, report.RowCells(rows))
			return
		}
		c.JSON(http.StatusOK, gin.H{"rows": rows, "threshold": threshold})
	})

	authed.GET("/reports/students/:id/summary", func(c *gin.Context) {
		id := c.Param("id")
		if !canViewStudent(c, id) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		sum, err := agg.StudentSummary(id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if c.Query("format") == "csv" {
			writeCSV(c, "SubjectSummary", report.SummaryColumns, report.SummaryCells(sum.Subjects))
			return
		}
		c.JSON(http.StatusOK, sum)
	})

	authed.GET("/reports/today", staffOrAdmin, func(c *gin.Context) {
		ov, err := agg.TodayOverview(c.Query("subject"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, ov)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("server exited")
	return nil
}

// refreshHandler re-issues a token pair from a valid refresh token. Tokens are
// stateless; the account is re-checked so tokens for removed users die at
// refresh time.
func refreshHandler(userRepo *users.Repository, cfg config.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			RefreshToken string `json:"refresh_token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, err := auth.Parse(req.RefreshToken, cfg.JWTSigningKey, cfg.JWTIssuer)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
			return
		}
		u, err := userRepo.ByID(claims.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
			return
		}
		if u == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "account no longer exists"})
			return
		}
		tokens, err := auth.Issue(u.ID, u.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	}
}

// writeCSV serves a result table as a CSV attachment named
// <ReportName>_<today>.csv.
func writeCSV(c *gin.Context, reportName string, headers []string, cells [][]any) {
	filename := report.Filename(reportName, time.Now())
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(report.ToDelimitedText(headers, cells)))
}

// canViewStudent restricts students to their own records; staff and admin
// tokens pass for any id.
func canViewStudent(c *gin.Context, id string) bool {
	claimsAny, _ := c.Get("claims")
	claims, ok := claimsAny.(auth.Claims)
	if !ok {
		return false
	}
	if strings.EqualFold(claims.Role, schema.RoleStudent) {
		return strings.EqualFold(claims.UserID, id)
	}
	return true
}

func markErrStatus(err error) int {
	switch {
	case errors.Is(err, attendance.ErrBadDate),
		errors.Is(err, attendance.ErrBadSubject),
		errors.Is(err, attendance.ErrBadStatus),
		errors.Is(err, attendance.ErrBadStudent):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func reportErrStatus(err error) int {
	if errors.Is(err, report.ErrBadRange) || errors.Is(err, report.ErrBadThreshold) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Security headers middleware, HSTS only in production.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
