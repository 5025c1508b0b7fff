package api

import (
	"bytes"
	"encoding/json"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/fyerfyer/ocr-proofreader/api/handler"
	"github.com/fyerfyer/ocr-proofreader/api/middleware"
	"github.com/fyerfyer/ocr-proofreader/internal/database"
	"github.com/fyerfyer/ocr-proofreader/internal/metrics"
	"github.com/fyerfyer/ocr-proofreader/internal/models"
	"github.com/fyerfyer/ocr-proofreader/internal/ocr"
	"github.com/fyerfyer/ocr-proofreader/internal/pagesource"
	"github.com/fyerfyer/ocr-proofreader/internal/pagetext"
	"github.com/fyerfyer/ocr-proofreader/internal/repository"
	"github.com/fyerfyer/ocr-proofreader/internal/services"
	"github.com/fyerfyer/ocr-proofreader/internal/viewer"
	"github.com/fyerfyer/ocr-proofreader/pkg/storage"
	"github.com/fyerfyer/ocr-proofreader/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const ocrJSON = `[
  [[[2, 2], [30, 2], [30, 12], [2, 12]], ["alpha", 0.98]],
  [[[2, 20], [40, 20], [40, 30], [2, 30]], ["beta", 0.91]]
]`

// 测试环境
type testEnv struct {
	Router   *gin.Engine
	Service  *services.ProofreadService
	Engine   *ocr.MockEngine
	Dir      string
	LeftPath string
}

// envelope 响应外层结构，data保持原样便于按需解析
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	TraceID string          `json:"trace_id"`
}

// 创建测试环境
// 第1、2页有图片，第3页没有
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger, _ := test.NewNullLogger()
	middleware.SetLogger(logger)

	dir := t.TempDir()

	dbCfg := database.DefaultConfig()
	dbCfg.DSN = filepath.Join(dir, "proofread.db")
	db, err := database.Setup(dbCfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	imageDir := filepath.Join(dir, "images")
	require.NoError(t, os.MkdirAll(imageDir, 0755))
	for _, name := range []string{"page_1.png", "page_2.png"} {
		img := imaging.New(64, 48, color.White)
		require.NoError(t, imaging.Save(img, filepath.Join(imageDir, name)))
	}

	leftPath := filepath.Join(dir, "left.txt")
	rightPath := filepath.Join(dir, "right.txt")
	require.NoError(t, os.WriteFile(leftPath, []byte("<1>\nalpha\n<2>\nbeta\n<3>\ngamma\n"), 0644))
	require.NoError(t, os.WriteFile(rightPath, []byte("<1>\nalphx\n<2>\nbeta\n"), 0644))

	ocrStorage, err := storage.NewLocalStorage(storage.LocalConfig{Path: filepath.Join(dir, "ocr"), Create: true})
	require.NoError(t, err)
	sliceStorage, err := storage.NewLocalStorage(storage.LocalConfig{Path: filepath.Join(dir, "slices"), Create: true})
	require.NoError(t, err)

	source, err := pagesource.New(pagesource.Config{ImageDir: imageDir})
	require.NoError(t, err)
	ocrStore := ocr.NewStore(ocrStorage, 0, logger)

	m := metrics.New(prometheus.NewRegistry())

	v, err := viewer.New(1, 3,
		viewer.WithSource(source),
		viewer.WithOCR(ocrStore),
		viewer.WithMetrics(m),
		viewer.WithLogger(logger),
	)
	require.NoError(t, err)

	engine := ocr.NewMockEngine(t)
	engine.On("Name").Return(ocr.EngineRemote).Maybe()

	svc := services.NewProofreadService(v, services.ProofreadConfig{
		Project: filepath.Join(dir, "config.json"),
		TextPaths: map[models.Side]string{
			models.SideLeft:  leftPath,
			models.SideRight: rightPath,
		},
		Splitter: pagetext.DefaultSplitterConfig(),
	},
		services.WithEditRepository(repository.NewEditRepository(db)),
		services.WithSessionRepository(repository.NewSessionRepository(db)),
		services.WithOcrJobRepository(repository.NewOcrJobRepository(db)),
		services.WithOCRStore(ocrStore),
		services.WithEngine(engine),
		services.WithSliceStorage(sliceStorage),
		services.WithMetrics(m),
		services.WithLogger(logger),
	)
	require.NoError(t, svc.Init(t.Context()))

	queue := taskqueue.NewMemoryQueue(taskqueue.DefaultConfig())
	t.Cleanup(func() { _ = queue.Close() })

	router := SetupRouter(Handlers{
		Proofread: handler.NewProofreadHandler(svc),
		OCR:       handler.NewOCRHandler(svc),
		Task:      handler.NewTaskHandler(queue, filepath.Join(dir, "config.json")),
		Help:      handler.NewHelpHandler(),
	}, m)

	return &testEnv{
		Router:   router,
		Service:  svc,
		Engine:   engine,
		Dir:      dir,
		LeftPath: leftPath,
	}
}

// do 发送请求并返回响应
func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// decode 解析响应外层，并把data解析到out
func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if out != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return env
}

func TestHealth(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestGetView(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/view", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	var view viewer.PageView
	resp := decode(t, w, &view)
	assert.Equal(t, 0, resp.Code)
	assert.Equal(t, 1, view.Page)
	assert.Equal(t, 1, view.Start)
	assert.Equal(t, 3, view.End)
	assert.Equal(t, "alpha", view.Left)
	assert.Equal(t, "alphx", view.Right)
	require.NotNil(t, view.Image)
	assert.Equal(t, 1, view.Image.PhysicalIndex)
	assert.Empty(t, view.Placeholder)
	assert.NotEmpty(t, view.Diff.Left)
}

func TestTraceIDPropagated(t *testing.T) {
	env := setupTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/view/jump", strings.NewReader(`{"page": 99}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trace-ID", "trace-123")
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	assert.Equal(t, "trace-123", w.Header().Get("X-Trace-ID"))
	resp := decode(t, w, nil)
	assert.Equal(t, "trace-123", resp.TraceID)
}

func TestNavigation(t *testing.T) {
	env := setupTestEnv(t)

	t.Run("next and previous", func(t *testing.T) {
		var view viewer.PageView
		decode(t, env.do(t, http.MethodPost, "/api/view/next", nil), &view)
		assert.Equal(t, 2, view.Page)

		decode(t, env.do(t, http.MethodPost, "/api/view/previous", nil), &view)
		assert.Equal(t, 1, view.Page)
	})

	t.Run("jump", func(t *testing.T) {
		var view viewer.PageView
		w := env.do(t, http.MethodPost, "/api/view/jump", map[string]int{"page": 3})
		require.Equal(t, http.StatusOK, w.Code)
		decode(t, w, &view)
		assert.Equal(t, 3, view.Page)
		assert.Nil(t, view.Image)
		assert.Contains(t, view.Placeholder, "No image for page 3")
	})

	t.Run("jump out of range keeps page", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/view/jump", map[string]int{"page": 0})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decode(t, w, nil)
		assert.Equal(t, http.StatusBadRequest, resp.Code)
		assert.Equal(t, 3, env.Service.Viewer().Current())
	})

	t.Run("jump without page", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/view/jump", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetPageDoesNotMove(t *testing.T) {
	env := setupTestEnv(t)

	var view viewer.PageView
	w := env.do(t, http.MethodGet, "/api/pages/2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &view)
	assert.Equal(t, 2, view.Page)
	assert.Equal(t, "beta", view.Left)
	assert.Empty(t, view.Diff.Left)
	assert.Equal(t, 1, env.Service.Viewer().Current())

	w = env.do(t, http.MethodGet, "/api/pages/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetImage(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/pages/1/image", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "1", w.Header().Get("X-Physical-Index"))
	assert.NotEmpty(t, w.Body.Bytes())

	w = env.do(t, http.MethodGet, "/api/pages/3/image", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/pages/9/image", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateTextAndSave(t *testing.T) {
	env := setupTestEnv(t)

	var view viewer.PageView
	w := env.do(t, http.MethodPut, "/api/pages/1/text/left", map[string]string{"text": "alphx"})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &view)
	assert.Equal(t, "alphx", view.Left)
	assert.Empty(t, view.Diff.Left)

	w = env.do(t, http.MethodPut, "/api/pages/1/text/middle", map[string]string{"text": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/api/pages/1/text/left", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/texts/left/save", nil)
	require.Equal(t, http.StatusOK, w.Code)

	content, err := os.ReadFile(env.LeftPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "<1>\nalphx\n")
	assert.Contains(t, string(content), "<3>\ngamma\n")
}

func TestPatchAndMap(t *testing.T) {
	env := setupTestEnv(t)

	// 第1页 alpha / alphx 在下标4处不同
	w := env.do(t, http.MethodPost, "/api/pages/1/map", map[string]interface{}{"side": "left", "index": 2})
	require.Equal(t, http.StatusOK, w.Code)
	var loc viewer.Location
	decode(t, w, &loc)
	assert.Equal(t, 2, loc.Counterpart)
	assert.Nil(t, loc.BBox)

	w = env.do(t, http.MethodPost, "/api/pages/1/patch", map[string]interface{}{"side": "left", "index": 4, "push": false})
	require.Equal(t, http.StatusOK, w.Code)
	var view viewer.PageView
	decode(t, w, &view)
	assert.Equal(t, "alphx", view.Left)

	w = env.do(t, http.MethodPost, "/api/pages/1/patch", map[string]interface{}{"side": "left", "index": 4})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/pages/1/patch", map[string]interface{}{"side": "left"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOCRFlow(t *testing.T) {
	env := setupTestEnv(t)
	env.Engine.On("Recognize", mock.Anything, mock.Anything).Return([]byte(ocrJSON), nil).Once()

	// 没有OCR结果时不能切图
	w := env.do(t, http.MethodPost, "/api/pages/1/slices", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/pages/1/ocr", map[string]interface{}{"engine": "remote"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var job struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Stale  bool   `json:"stale"`
	}
	decode(t, w, &job)
	assert.Equal(t, string(models.OcrJobCompleted), job.Status)
	assert.False(t, job.Stale)

	w = env.do(t, http.MethodGet, "/api/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"alpha"`)

	// 已有结果，不再调用引擎
	w = env.do(t, http.MethodPost, "/api/pages/1/ocr", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/pages/1/ocr/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Jobs []json.RawMessage `json:"jobs"`
	}
	decode(t, w, &list)
	assert.Len(t, list.Jobs, 2)

	var view viewer.PageView
	decode(t, env.do(t, http.MethodGet, "/api/view", nil), &view)
	require.NotNil(t, view.OCR)
	assert.Len(t, view.OCR.Items, 2)

	w = env.do(t, http.MethodPost, "/api/pages/1/map", map[string]interface{}{"side": "left", "index": 1})
	var loc viewer.Location
	decode(t, w, &loc)
	require.NotNil(t, loc.BBox)
	assert.Equal(t, 0, loc.Line)

	w = env.do(t, http.MethodPost, "/api/pages/1/slices", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var slices struct {
		Count int      `json:"count"`
		Keys  []string `json:"keys"`
	}
	decode(t, w, &slices)
	assert.Equal(t, 2, slices.Count)
}

func TestOCRErrors(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/pages/1/ocr", map[string]string{"engine": "local"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/pages/1/ocr", map[string]string{"engine": "cloud"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/pages/7/ocr", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/pages/1/tasks", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSettings(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, http.MethodPut, "/api/settings/regex", map[string]string{"left": "^(al)"})
	require.Equal(t, http.StatusOK, w.Code)

	var regex struct {
		Left  string `json:"left"`
		Right string `json:"right"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/settings/regex", nil), &regex)
	assert.Equal(t, "^(al)", regex.Left)
	assert.Empty(t, regex.Right)

	var view viewer.PageView
	decode(t, env.do(t, http.MethodGet, "/api/view", nil), &view)
	require.Len(t, view.Highlights.Left, 1)
	assert.Equal(t, "al", view.Highlights.Left[0].Text)

	w = env.do(t, http.MethodPut, "/api/settings/regex", map[string]string{"right": "(["})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/api/settings/right-source", map[string]string{"source": "pdf"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/api/settings/right-source", map[string]string{"source": "ocr"})
	require.Equal(t, http.StatusOK, w.Code)

	// OCR模式下右侧只读
	w = env.do(t, http.MethodPut, "/api/pages/1/text/right", map[string]string{"text": "x"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHelpAndMetrics(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, http.MethodGet, "/help", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "<h1")

	env.do(t, http.MethodGet, "/api/view", nil)
	w = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `proofreader_http_requests_total{route="/api/view",status="200"}`)
}
