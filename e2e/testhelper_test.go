package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/transflow/api/internal/agent"
	"github.com/transflow/api/internal/auth"
	"github.com/transflow/api/internal/batch"
	"github.com/transflow/api/internal/client"
	"github.com/transflow/api/internal/config"
	"github.com/transflow/api/internal/docstate"
	"github.com/transflow/api/internal/handler"
	"github.com/transflow/api/internal/jobcancel"
	"github.com/transflow/api/internal/middleware"
	"github.com/transflow/api/internal/model"
	"github.com/transflow/api/internal/progress"
	"github.com/transflow/api/internal/repository"
	"github.com/transflow/api/internal/server"
	"github.com/transflow/api/internal/service"
)

const testJWTSecret = "test-secret-for-e2e"

// recordingQueue stands in for the asynq client
type recordingQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (q *recordingQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: fmt.Sprint(len(q.tasks))}, nil
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// testApp holds all components needed for testing
type testApp struct {
	app      *fiber.App
	db       *gorm.DB
	queue    *recordingQueue
	jobs     *jobcancel.Registry
	verifier *auth.HMACVerifier
}

// setupApp assembles the same app main.go serves, on sqlite and miniredis,
// with no LLM, object storage or translation memory configured.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	validate := validator.New()
	queue := &recordingQueue{}
	jobs := jobcancel.New()
	verifier := auth.NewHMACVerifier(testJWTSecret)

	documentRepo := repository.NewDocumentRepository(db)
	unitRepo := repository.NewUnitRepository(db)
	recordRepo := repository.NewStageRecordRepository(db)
	dictionaryRepo := repository.NewDictionaryRepository(db)
	store := progress.NewStore(redisClient, time.Hour)
	machine := docstate.NewMachine(documentRepo)

	llmClient := client.NewLLMClient(&config.LLMConfig{}) // no API key
	runner := agent.NewRunner(llmClient, dictionaryRepo, nil)

	orchestrator := batch.NewOrchestrator(store, queue, unitRepo, recordRepo, machine, nil, batch.Config{MaxRetry: 1})
	documentService := service.NewDocumentService(documentRepo, unitRepo, dictionaryRepo, machine, store, nil, queue,
		agent.NewDocumentTerms(llmClient), jobs, service.DocumentConfig{MaxRetry: 1})

	app := server.New(server.Handlers{
		Health:   handler.NewHealthHandler(db, redisClient, fiber.Map{"llm": false, "storage": false}),
		Auth:     handler.NewAuthHandler(verifier),
		Batch:    handler.NewBatchHandler(orchestrator, validate),
		Document: handler.NewDocumentHandler(documentService, validate),
		Unit:     handler.NewUnitHandler(service.NewUnitService(unitRepo, recordRepo), validate),
		Agent:    handler.NewAgentHandler(service.NewAgentService(runner, time.Second), validate),
		Upload:   handler.NewUploadHandler(service.NewUploadService(nil, 0), validate),
		Job:      handler.NewJobHandler(jobs),
	}, server.Options{
		Auth:        middleware.NewAuthMiddleware(verifier).Authenticate(),
		RateLimiter: middleware.NewRateLimiter(redisClient),
		// Use very high rate limits so tests don't get blocked
		BatchStartPerMin: 10000,
		AgentPerMin:      10000,
	})

	return &testApp{app: app, db: db, queue: queue, jobs: jobs, verifier: verifier}
}

// seedDocument stores a document with the given units, in order.
func (ta *testApp) seedDocument(t *testing.T, status model.DocumentStatus, sources ...string) (string, []string) {
	t.Helper()
	doc := &model.Document{ID: uuid.New().String(), URL: "uploads/u/doc.txt", Name: "doc.txt", Status: status}
	if err := ta.db.Create(doc).Error; err != nil {
		t.Fatalf("failed to seed document: %v", err)
	}
	ids := make([]string, 0, len(sources))
	for i, src := range sources {
		u := model.Unit{
			ID:         uuid.New().String(),
			DocumentID: doc.ID,
			Order:      i + 1,
			SourceText: src,
			Status:     model.StageNotStarted,
			Type:       model.UnitTypeText,
		}
		if err := ta.db.Create(&u).Error; err != nil {
			t.Fatalf("failed to seed unit: %v", err)
		}
		ids = append(ids, u.ID)
	}
	return doc.ID, ids
}

// generateToken creates a legacy HMAC JWT token for test requests.
func (ta *testApp) generateToken(t *testing.T) string {
	t.Helper()
	token, err := ta.verifier.Sign(auth.Identity{UserID: "test-user-123", Email: "test@example.com", TenantID: "org-1"}, time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func (ta *testApp) doAuthRequest(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	resp, err := doRequest(ta.app, method, path, body, map[string]string{
		"Authorization": "Bearer " + ta.generateToken(t),
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// errorCode extracts error.code from an error response.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := parseJSON(t, resp)
	e, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error object, got %v", body)
	}
	code, _ := e["code"].(string)
	return code
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
