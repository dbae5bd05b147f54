package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"kull-server/pkg/config"
	"kull-server/pkg/errutil"
	"kull-server/pkg/sequence"
	"kull-server/pkg/task"
	"kull-server/services/credits"
	"kull-server/services/culling"
	"kull-server/services/notify"
	"kull-server/services/provider"
	"kull-server/services/rating"
	"kull-server/services/report"
)

const defaultUserID = "local"

type Handler struct {
	culling   *culling.Service
	credits   *credits.Service
	registry  *provider.Registry
	bus       *notify.Bus
	enqueuer  task.Enqueuer
	sequence  sequence.Generator
	archiver  *report.Archiver
	narrative report.Generator
	cfg       *config.Config
}

type HandlerParams struct {
	fx.In

	Culling  *culling.Service
	Credits  *credits.Service
	Registry *provider.Registry
	Bus      *notify.Bus
	Enqueuer task.Enqueuer      `optional:"true"`
	Sequence sequence.Generator `optional:"true"`
	Archiver *report.Archiver   `optional:"true"`
	Config   *config.Config
}

func NewHandler(p HandlerParams) *Handler {
	cfg := p.Config
	var narrative report.Generator = report.TemplateGenerator{}
	if cfg.Providers.OpenAI.APIKey != "" {
		narrative = &report.OpenAIGenerator{
			APIKey:  cfg.Providers.OpenAI.APIKey,
			Model:   cfg.Report.NarrativeModel,
			BaseURL: cfg.Providers.OpenAI.BaseURL,
		}
	}
	return &Handler{
		culling:   p.Culling,
		credits:   p.Credits,
		registry:  p.Registry,
		bus:       p.Bus,
		enqueuer:  p.Enqueuer,
		sequence:  p.Sequence,
		archiver:  p.Archiver,
		narrative: narrative,
		cfg:       cfg,
	}
}

func (h *Handler) Register(r *gin.Engine) {
	kull := r.Group("/api/kull")
	kull.POST("/run/openai", h.Run)
	kull.POST("/report/generate", h.GenerateReport)
	kull.GET("/credits/summary", h.CreditSummary)
	kull.POST("/credits/grant", h.GrantAllowance)
	kull.GET("/models", h.Models)
}

type runImage struct {
	ID           string `json:"id"`
	URL          string `json:"url,omitempty"`
	B64          string `json:"b64,omitempty"`
	Filename     string `json:"filename,omitempty"`
	RelativePath string `json:"relativePath,omitempty"`
}

type runRequest struct {
	UserID         string     `json:"userId,omitempty"`
	ShootID        string     `json:"shootId,omitempty"`
	Model          string     `json:"model,omitempty"`
	Images         []runImage `json:"images"`
	Prompt         string     `json:"prompt"`
	BaseDir        string     `json:"baseDir,omitempty"`
	Report         bool       `json:"report,omitempty"`
	ProviderOrder  []string   `json:"providerOrder,omitempty"`
	AllowFallback  *bool      `json:"allowFallback,omitempty"`
	ShootName      string     `json:"shootName,omitempty"`
	PreviewBaseURL string     `json:"previewBaseUrl,omitempty"`
	HeroLimit      int        `json:"heroLimit,omitempty"`
}

type runResponse struct {
	OK               bool              `json:"ok"`
	ShootID          string            `json:"shootId"`
	ProviderID       string            `json:"providerId"`
	Ratings          []rating.Result   `json:"ratings"`
	Sidecars         []string          `json:"sidecars"`
	EstimatedCostUSD float64           `json:"estimatedCostUSD"`
	Attempts         []culling.Attempt `json:"attempts"`
	Report           *report.Report    `json:"report,omitempty"`
}

func (req *runRequest) validate() []errutil.Detail {
	var issues []errutil.Detail
	if len(req.Images) == 0 {
		issues = append(issues, errutil.Detail{Field: "images", Message: "at least one image is required"})
	}
	for i, img := range req.Images {
		if img.ID == "" {
			issues = append(issues, errutil.Detail{Field: "images", Message: fmt.Sprintf("image at index %d is missing an id", i)})
		}
	}
	if strings.TrimSpace(req.Prompt) == "" {
		issues = append(issues, errutil.Detail{Field: "prompt", Message: "prompt is required"})
	}
	if req.HeroLimit != 0 && (req.HeroLimit < 1 || req.HeroLimit > 25) {
		issues = append(issues, errutil.Detail{Field: "heroLimit", Message: "heroLimit must be between 1 and 25"})
	}
	return issues
}

func (h *Handler) Run(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	if issues := req.validate(); len(issues) > 0 {
		c.Error(errutil.ValidationFailed("invalid run request", errutil.WithDetails(issues...)))
		return
	}

	userID := h.resolveUserID(c, req.UserID)
	shootID := h.resolveShootID(c.Request.Context(), req.ShootID)
	allowFallback := true
	if req.AllowFallback != nil {
		allowFallback = *req.AllowFallback
	}

	images := make([]provider.BatchImage, 0, len(req.Images))
	for _, img := range req.Images {
		images = append(images, provider.BatchImage{
			ID:       img.ID,
			Filename: img.Filename,
			URL:      img.URL,
			B64:      img.B64,
		})
	}

	options := map[string]provider.RunOptions{}
	if req.Model != "" {
		options[provider.OpenAIGPT5] = provider.RunOptions{Model: req.Model}
	}

	result, err := h.culling.Run(c.Request.Context(), culling.RunArgs{
		UserID:          userID,
		ShootID:         shootID,
		Prompt:          req.Prompt,
		Images:          images,
		ProviderOrder:   req.ProviderOrder,
		AllowFallback:   allowFallback,
		ProviderOptions: options,
	})
	if err != nil {
		var exhausted *culling.ExhaustedProvidersError
		if errors.As(err, &exhausted) {
			h.emitFailure(c.Request.Context(), userID, shootID, exhausted)
			c.JSON(http.StatusInternalServerError, gin.H{
				"ok":       false,
				"shootId":  shootID,
				"error":    exhausted.Error(),
				"attempts": exhausted.Attempts,
			})
			return
		}
		c.Error(err)
		return
	}

	resp := runResponse{
		OK:               true,
		ShootID:          shootID,
		ProviderID:       result.ProviderID,
		Ratings:          result.Ratings,
		Sidecars:         sidecarFilenames(result.Ratings),
		EstimatedCostUSD: float64(result.CreditsCharged) / 100,
		Attempts:         result.Attempts,
	}

	if req.Report {
		previewBase := req.PreviewBaseURL
		if previewBase == "" {
			previewBase = h.cfg.Report.PreviewBaseURL
		}
		resp.Report = report.Build(c.Request.Context(), report.BuildArgs{
			ShootName:      req.ShootName,
			Ratings:        result.Ratings,
			HeroLimit:      req.HeroLimit,
			PreviewBaseURL: previewBase,
			Narrative:      h.narrative,
		})
	}

	c.JSON(http.StatusOK, resp)

	if resp.Report != nil && h.archiver.Enabled() {
		if key, err := h.archiver.Store(c.Request.Context(), shootID, resp.Report); err != nil {
			zap.L().Warn("failed to archive report", zap.String("shoot_id", shootID), zap.Error(err))
		} else {
			zap.L().Info("report archived", zap.String("shoot_id", shootID), zap.String("object_key", key))
		}
	}

	h.emitCompletion(c.Request.Context(), userID, resp.Report)
}

type reportRequest struct {
	ShootName      string          `json:"shootName"`
	Ratings        []rating.Result `json:"ratings"`
	PreviewBaseURL string          `json:"previewBaseUrl,omitempty"`
	HeroLimit      int             `json:"heroLimit,omitempty"`
}

func (h *Handler) GenerateReport(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}
	if req.Ratings == nil {
		c.Error(errutil.ValidationFailed("invalid report request",
			errutil.WithDetails(errutil.Detail{Field: "ratings", Message: "ratings is required"})))
		return
	}

	previewBase := req.PreviewBaseURL
	if previewBase == "" {
		previewBase = h.cfg.Report.PreviewBaseURL
	}

	rep := report.Build(c.Request.Context(), report.BuildArgs{
		ShootName:      req.ShootName,
		Ratings:        req.Ratings,
		HeroLimit:      req.HeroLimit,
		PreviewBaseURL: previewBase,
		Narrative:      h.narrative,
	})

	c.JSON(http.StatusOK, rep)
}

func (h *Handler) CreditSummary(c *gin.Context) {
	userID := h.resolveUserID(c, c.Query("userId"))

	summary, err := h.credits.GetSummary(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type grantRequest struct {
	UserID string `json:"userId"`
	PlanID string `json:"planId"`
}

// GrantAllowance queues the monthly allowance grant for a user. The grant
// itself runs on the task worker so the ledger write happens off the
// request path.
func (h *Handler) GrantAllowance(c *gin.Context) {
	if h.enqueuer == nil {
		c.Error(errutil.BadRequest("task queue is not configured"))
		return
	}

	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	userID := h.resolveUserID(c, req.UserID)
	user, err := h.credits.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}

	planID := req.PlanID
	if planID == "" && user != nil {
		planID = user.PlanID
	}

	t := credits.NewGrantAllowanceTask(credits.GrantAllowancePayload{
		UserID: userID,
		PlanID: planID,
	})

	info, err := h.enqueuer.Enqueue(t)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"ok":     true,
		"taskId": info.ID,
		"userId": userID,
		"planId": credits.PlanFor(planID).ID,
	})
}

func (h *Handler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.registry.Capabilities()})
}

func (h *Handler) resolveUserID(c *gin.Context, bodyUserID string) string {
	if bodyUserID != "" {
		return bodyUserID
	}
	if header := c.GetHeader("X-User-ID"); header != "" {
		return header
	}
	return defaultUserID
}

func (h *Handler) emitCompletion(ctx context.Context, userID string, rep *report.Report) {
	user, err := h.credits.GetUser(ctx, userID)
	if err != nil {
		zap.L().Warn("failed to load user for completion event", zap.String("user_id", userID), zap.Error(err))
	}

	recipient := notify.Recipient{ID: userID}
	if user != nil {
		recipient.Email = user.Email
		recipient.FirstName = user.FirstName
		recipient.LastName = user.LastName
	}
	notify.EmitShootCompleted(h.bus, recipient, rep, h.credits.NotifyDevices(ctx, userID))
}

func (h *Handler) emitFailure(ctx context.Context, userID, shootID string, exhausted *culling.ExhaustedProvidersError) {
	notify.EmitShootFailed(h.bus, userID, shootID, exhausted.Error(), h.credits.NotifyDevices(ctx, userID))
}

// resolveShootID keeps client-supplied identifiers and otherwise issues a
// daily sequence code, falling back to a random id when redis is absent.
func (h *Handler) resolveShootID(ctx context.Context, shootID string) string {
	if shootID != "" {
		return shootID
	}
	if h.sequence != nil {
		code, err := h.sequence.NextShootCode(ctx)
		if err == nil {
			return code
		}
		zap.L().Warn("failed to issue shoot code", zap.Error(err))
	}
	return uuid.NewString()
}

// sidecarFilenames plans one .xmp filename per rating by swapping the image
// extension.
func sidecarFilenames(ratings []rating.Result) []string {
	sidecars := make([]string, 0, len(ratings))
	for _, r := range ratings {
		id := r.Identifier()
		if id == "" {
			continue
		}
		sidecars = append(sidecars, xmpFilename(id))
	}
	return sidecars
}

func xmpFilename(imageFilename string) string {
	lastDot := strings.LastIndex(imageFilename, ".")
	if lastDot == -1 {
		return imageFilename + ".xmp"
	}
	return imageFilename[:lastDot] + ".xmp"
}
