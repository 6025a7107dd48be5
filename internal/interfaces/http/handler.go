package http

import (
	"bufio"
	"errors"
	"fmt"
	"mime"
	"net/http"

	"convertapi/internal/entities"
	"convertapi/internal/infrastructure"
	"convertapi/internal/usecases"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	authBodyLimit = 1 << 20
	sniffLength   = 3072

	// DownloadURLHeader carries the signed link encoded in a QR image.
	DownloadURLHeader = "X-Download-Url"
)

// Services is everything the router needs from the usecase layer.
type Services struct {
	Auth        *usecases.AuthUsecase
	APIKeys     *usecases.APIKeyUsecase
	Conversions *usecases.ConversionUsecase
	Status      *usecases.StatusUsecase
	Dashboard   *usecases.DashboardUsecase
	Metrics     *infrastructure.Metrics
	Logger      *zap.SugaredLogger
	// MaxUploadBytes caps the whole multipart request.
	MaxUploadBytes int64
}

type Handler struct {
	svc Services
}

func NewHandler(svc Services) *Handler {
	return &Handler{svc: svc}
}

func SetupRoutes(r *gin.Engine, svc Services, middleware *Middleware) {
	h := NewHandler(svc)
	adminHandler := NewAdminHandler(svc.Dashboard, middleware)
	sessionOnly := usecases.AuthOptions{SessionOnly: true}

	r.Use(middleware.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(SecurityHeaders())

	r.GET("/healthz", h.Health)
	if svc.Metrics != nil {
		r.GET("/metrics", gin.WrapH(svc.Metrics.Handler()))
	}

	api := r.Group("/api")

	// Conversion
	api.POST("/convert", RequestSizeLimiter(svc.MaxUploadBytes), middleware.SubmissionAuth(), middleware.RateLimit(), h.Convert)
	jobs := api.Group("", middleware.AuthOptional(), middleware.RateLimit())
	{
		jobs.GET("/jobs/:jobId", h.JobStatus)
		jobs.GET("/jobs/:jobId/qr", h.JobQR)
		jobs.GET("/jobs/:jobId/link", h.JobLink)
		jobs.GET("/download/:jobId", h.Download)
	}

	// Catalog
	tools := api.Group("/tools")
	{
		tools.GET("", h.ListTools)
		tools.GET("/category/:category", h.ToolsByCategory)
		tools.GET("/:toolType", h.GetTool)
	}

	// Auth
	auth := api.Group("/auth", RequestSizeLimiter(authBodyLimit))
	{
		auth.POST("/register", middleware.RateLimit(), h.Register)
		auth.POST("/login", middleware.RateLimit(), h.Login)

		session := auth.Group("", middleware.AuthRequired(sessionOnly), middleware.RateLimit())
		session.GET("/profile", h.Profile)
		session.POST("/api-keys", h.CreateAPIKey)
		session.GET("/api-keys", h.ListAPIKeys)
		session.DELETE("/api-keys/:id", h.DeleteAPIKey)
	}

	// Account
	account := api.Group("", middleware.AuthRequired(usecases.AuthOptions{}), middleware.RateLimit())
	{
		account.GET("/usage", h.Usage)
		account.GET("/conversions", h.Conversions)
		account.GET("/plan", h.Plan)
	}

	// Admin-only Routes
	admin := api.Group("/admin", RequestSizeLimiter(authBodyLimit), middleware.AuthRequired(sessionOnly), middleware.AdminRequired())
	{
		admin.PUT("/users/:id/plan", adminHandler.ChangePlan)
		admin.POST("/users/:id/reset-usage", adminHandler.ResetUsage)
	}

	r.NoRoute(func(c *gin.Context) {
		abortWithCode(c, http.StatusNotFound, codeNotFound, "route not found")
	})
}

func (h *Handler) Health(c *gin.Context) {
	respond(c, http.StatusOK, gin.H{"status": "ok"})
}

type submissionResponse struct {
	JobID         string             `json:"jobId"`
	Status        entities.JobStatus `json:"status"`
	ToolType      entities.ToolType  `json:"toolType"`
	EstimatedTime int                `json:"estimatedTime"`
	PollInterval  int                `json:"pollInterval"`
	StatusURL     string             `json:"statusUrl"`
	ErrorMessage  string             `json:"errorMessage,omitempty"`
}

// Convert accepts a multipart upload (fields: file, toolType, options) and
// returns as soon as the job is queued.
func (h *Handler) Convert(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, &entities.ValidationError{Field: "file", Message: fmt.Sprintf("request exceeds %d bytes", tooLarge.Limit)})
			return
		}
		respondError(c, &entities.ValidationError{Field: "file", Message: "file is required"})
		return
	}
	options, err := ParseOptions(c.PostForm("options"))
	if err != nil {
		respondError(c, err)
		return
	}

	f, err := fh.Open()
	if err != nil {
		respondError(c, fmt.Errorf("open upload: %w", err))
		return
	}
	defer f.Close()

	sub, err := h.svc.Conversions.Submit(c.Request.Context(), usecases.SubmitInput{
		Identity: identityFrom(c),
		ToolType: c.PostForm("toolType"),
		Filename: CleanFilename(fh.Filename),
		Size:     fh.Size,
		Body:     f,
		Options:  options,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusAccepted, submissionResponse{
		JobID:         sub.Job.ID,
		Status:        sub.Job.Status,
		ToolType:      sub.Job.ToolType,
		EstimatedTime: sub.Tool.ProcessingTimeEstimate,
		PollInterval:  entities.PollIntervalSeconds,
		StatusURL:     "/api/jobs/" + sub.Job.ID,
		ErrorMessage:  sub.Job.ErrorMessage,
	})
}

func (h *Handler) JobStatus(c *gin.Context) {
	job, err := h.svc.Status.GetStatus(c.Request.Context(), c.Param("jobId"), identityFrom(c).UserID())
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, job.View())
}

// Download streams the converted file.
// Download serves a job's output to its owner, or to anyone holding a
// signed link token.
func (h *Handler) Download(c *gin.Context) {
	var dl *usecases.Download
	var err error
	if token := c.Query("token"); token != "" {
		dl, err = h.svc.Status.DownloadWithToken(c.Request.Context(), c.Param("jobId"), token)
	} else {
		dl, err = h.svc.Status.Download(c.Request.Context(), c.Param("jobId"), identityFrom(c).UserID())
	}
	if err != nil {
		respondError(c, err)
		return
	}
	defer dl.Body.Close()

	br := bufio.NewReaderSize(dl.Body, sniffLength)
	head, _ := br.Peek(sniffLength)
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename})
	c.DataFromReader(http.StatusOK, dl.Size, mimetype.Detect(head).String(), br, map[string]string{
		"Content-Disposition": disposition,
	})
}

func (h *Handler) JobQR(c *gin.Context) {
	png, link, err := h.svc.Status.DownloadQR(c.Request.Context(), c.Param("jobId"), identityFrom(c).UserID())
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header(DownloadURLHeader, link.URL)
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) JobLink(c *gin.Context) {
	link, err := h.svc.Status.Link(c.Request.Context(), c.Param("jobId"), identityFrom(c).UserID())
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"url": link.URL, "expiresAt": link.ExpiresAt})
}

func (h *Handler) ListTools(c *gin.Context) {
	respond(c, http.StatusOK, entities.Tools())
}

func (h *Handler) ToolsByCategory(c *gin.Context) {
	category := c.Param("category")
	tools := entities.ToolsByCategory(category)
	if !ValidSlug(category) || len(tools) == 0 {
		respondError(c, fmt.Errorf("%w: unknown category %q", entities.ErrToolNotFound, TruncateString(category, MaxSlugLength)))
		return
	}
	respond(c, http.StatusOK, tools)
}

func (h *Handler) GetTool(c *gin.Context) {
	toolType := c.Param("toolType")
	tool, ok := entities.LookupTool(entities.ToolType(toolType))
	if !ValidSlug(toolType) || !ok {
		respondError(c, fmt.Errorf("%w: unknown tool %q", entities.ErrToolNotFound, TruncateString(toolType, MaxSlugLength)))
		return
	}
	respond(c, http.StatusOK, tool)
}
