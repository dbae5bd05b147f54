package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kull-server/pkg/config"
	"kull-server/pkg/middleware"
	"kull-server/services/credits"
	"kull-server/services/culling"
	"kull-server/services/notify"
	"kull-server/services/provider"
	"kull-server/services/rating"
	"kull-server/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{ID: "task-1", Type: t.Type()}, nil
}

type fixture struct {
	router   *gin.Engine
	registry *provider.Registry
	credits  *credits.Service
	bus      *notify.Bus
	enqueuer *fakeEnqueuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, &credits.User{}, &credits.MobileDevice{}, &credits.LedgerEntry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	bus := notify.NewBus()
	creditsSvc := credits.NewService(credits.ServiceParams{DB: db, Node: node, Bus: bus})

	registry := provider.NewRegistry()
	cullingSvc := culling.NewService(culling.ServiceParams{Registry: registry, Storage: creditsSvc})

	cfg := &config.Config{}
	enqueuer := &fakeEnqueuer{}
	handler := NewHandler(HandlerParams{
		Culling:  cullingSvc,
		Credits:  creditsSvc,
		Registry: registry,
		Bus:      bus,
		Enqueuer: enqueuer,
		Config:   cfg,
	})

	router := gin.New()
	router.Use(middleware.Error())
	handler.Register(router)

	return &fixture{router: router, registry: registry, credits: creditsSvc, bus: bus, enqueuer: enqueuer}
}

func (f *fixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := f.credits.RecordEntry(context.Background(), credits.EntryArgs{
		UserID:    userID,
		EntryType: credits.EntryCredit,
		Credits:   amount,
	})
	require.NoError(t, err)
}

func TestRunSuccess(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", 1000)

	f.registry.Register(provider.OpenAIGPT5, provider.ExecutorFunc(
		func(ctx context.Context, args provider.ExecArgs) ([]rating.Result, error) {
			return []rating.Result{
				{ImageID: "img-1", Filename: "dune.jpg", StarRating: 5, Title: "Dune"},
			}, nil
		}))

	w := f.post(t, "/api/kull/run/openai", gin.H{
		"userId":        "u1",
		"prompt":        "cull this shoot",
		"images":        []gin.H{{"id": "img-1", "filename": "dune.jpg", "b64": "aGk="}},
		"providerOrder": []string{provider.OpenAIGPT5},
		"allowFallback": false,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		OK               bool              `json:"ok"`
		ShootID          string            `json:"shootId"`
		ProviderID       string            `json:"providerId"`
		Ratings          []rating.Result   `json:"ratings"`
		Sidecars         []string          `json:"sidecars"`
		EstimatedCostUSD float64           `json:"estimatedCostUSD"`
		Attempts         []culling.Attempt `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.OK)
	require.NotEmpty(t, resp.ShootID)
	require.Equal(t, provider.OpenAIGPT5, resp.ProviderID)
	require.Equal(t, []string{"dune.xmp"}, resp.Sidecars)
	require.InDelta(t, 0.01, resp.EstimatedCostUSD, 0.0001)
	require.Len(t, resp.Attempts, 1)
	require.Equal(t, culling.AttemptSuccess, resp.Attempts[0].Status)

	// The metered debit landed in the ledger.
	summary, err := f.credits.GetSummary(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(999), summary.Balance)
}

func TestRunWithReport(t *testing.T) {
	f := newFixture(t)

	f.registry.Register(provider.AppleIntelligence, provider.ExecutorFunc(
		func(ctx context.Context, args provider.ExecArgs) ([]rating.Result, error) {
			return []rating.Result{
				{ImageID: "img-1", Filename: "a.jpg", StarRating: 5, Title: "Hero"},
				{ImageID: "img-2", Filename: "b.jpg", StarRating: 2},
			}, nil
		}))

	w := f.post(t, "/api/kull/run/openai", gin.H{
		"prompt":        "cull",
		"images":        []gin.H{{"id": "img-1"}, {"id": "img-2"}},
		"providerOrder": []string{provider.AppleIntelligence},
		"report":        true,
		"shootName":     "Dunes",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		OK     bool `json:"ok"`
		Report *struct {
			ShootName string `json:"shootName"`
			Narrative string `json:"narrative"`
			Stats     struct {
				TotalImages int `json:"totalImages"`
				HeroCount   int `json:"heroCount"`
			} `json:"stats"`
		} `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Report)
	require.Equal(t, "Dunes", resp.Report.ShootName)
	require.Equal(t, 2, resp.Report.Stats.TotalImages)
	require.Equal(t, 1, resp.Report.Stats.HeroCount)
	require.Contains(t, resp.Report.Narrative, "Processed 2 images")
}

func TestRunValidation(t *testing.T) {
	f := newFixture(t)

	w := f.post(t, "/api/kull/run/openai", gin.H{"prompt": "cull", "images": []gin.H{}})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp struct {
		Error struct {
			Details []struct {
				Field string `json:"field"`
			} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Error.Details)
	require.Equal(t, "images", resp.Error.Details[0].Field)

	w = f.post(t, "/api/kull/run/openai", gin.H{
		"prompt":    "cull",
		"images":    []gin.H{{"id": "img-1"}},
		"heroLimit": 99,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunExhaustionCarriesAttempts(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", 1000)

	f.registry.Register(provider.OpenAIGPT5, provider.ExecutorFunc(
		func(ctx context.Context, args provider.ExecArgs) ([]rating.Result, error) {
			return nil, errors.New("upstream down")
		}))

	w := f.post(t, "/api/kull/run/openai", gin.H{
		"userId":        "u1",
		"prompt":        "cull",
		"images":        []gin.H{{"id": "img-1"}},
		"providerOrder": []string{provider.OpenAIGPT5},
		"allowFallback": false,
	})
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp struct {
		OK       bool              `json:"ok"`
		Attempts []culling.Attempt `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(t, resp.OK)
	require.Len(t, resp.Attempts, 1)
	require.Equal(t, "upstream down", resp.Attempts[0].Reason)
}

func TestGenerateReport(t *testing.T) {
	f := newFixture(t)

	w := f.post(t, "/api/kull/report/generate", gin.H{
		"shootName": "Coast",
		"ratings": []gin.H{
			{"imageId": "1", "filename": "a.jpg", "starRating": 5, "title": "Surf"},
			{"imageId": "2", "filename": "b.jpg", "starRating": 4},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var rep struct {
		ShootName string `json:"shootName"`
		Heroes    []struct {
			ImageID string `json:"imageId"`
		} `json:"heroes"`
		Notifications struct {
			Desktop struct {
				Title string `json:"title"`
			} `json:"desktop"`
		} `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	require.Equal(t, "Coast", rep.ShootName)
	require.Len(t, rep.Heroes, 2)
	require.Equal(t, "Coast: 1 hero ready", rep.Notifications.Desktop.Title)
}

func TestGenerateReportValidation(t *testing.T) {
	f := newFixture(t)

	w := f.post(t, "/api/kull/report/generate", gin.H{"shootName": "Coast"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreditSummaryEndpoint(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", 640)

	w := f.get(t, "/api/kull/credits/summary?userId=u1")
	require.Equal(t, http.StatusOK, w.Code)

	var summary struct {
		Balance int64  `json:"balance"`
		PlanID  string `json:"planId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	require.Equal(t, int64(640), summary.Balance)
	require.Equal(t, "free", summary.PlanID)
}

func TestGrantAllowanceEnqueuesTask(t *testing.T) {
	f := newFixture(t)

	w := f.post(t, "/api/kull/credits/grant", gin.H{"userId": "u1", "planId": "pro"})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		OK     bool   `json:"ok"`
		TaskID string `json:"taskId"`
		PlanID string `json:"planId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.OK)
	require.Equal(t, "task-1", resp.TaskID)
	require.Equal(t, "pro", resp.PlanID)

	require.Len(t, f.enqueuer.tasks, 1)
	require.Equal(t, credits.TaskGrantAllowance, f.enqueuer.tasks[0].Type())

	var payload credits.GrantAllowancePayload
	require.NoError(t, json.Unmarshal(f.enqueuer.tasks[0].Payload(), &payload))
	require.Equal(t, "u1", payload.UserID)
	require.Equal(t, "pro", payload.PlanID)
}

func TestModelsEndpoint(t *testing.T) {
	f := newFixture(t)

	w := f.get(t, "/api/kull/models")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Models []provider.Capability `json:"models"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Models, 3)
}
