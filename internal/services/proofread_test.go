package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fyerfyer/ocr-proofreader/internal/database"
	"github.com/fyerfyer/ocr-proofreader/internal/models"
	"github.com/fyerfyer/ocr-proofreader/internal/ocr"
	"github.com/fyerfyer/ocr-proofreader/internal/pagesource"
	"github.com/fyerfyer/ocr-proofreader/internal/pagetext"
	"github.com/fyerfyer/ocr-proofreader/internal/repository"
	"github.com/fyerfyer/ocr-proofreader/internal/viewer"
	"github.com/fyerfyer/ocr-proofreader/pkg/storage"
	"github.com/fyerfyer/ocr-proofreader/pkg/taskqueue"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProject = "/books/dict/config.json"

const ocrJSON = `[
  [[[2, 2], [30, 2], [30, 12], [2, 12]], ["甲乙", 0.98]],
  [[[2, 20], [40, 20], [40, 30], [2, 30]], ["丙丁", 0.91]]
]`

// pngSource 每页返回同一张生成的PNG
type pngSource struct {
	data []byte
}

func newPNGSource(t *testing.T) *pngSource {
	t.Helper()
	img := imaging.New(64, 48, color.White)
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return &pngSource{data: buf.Bytes()}
}

func (s *pngSource) Name() string { return "png" }

func (s *pngSource) Key(page int) string { return "png:" + strconv.Itoa(page) }

func (s *pngSource) Resolve(ctx context.Context, page int) (*pagesource.Image, error) {
	return &pagesource.Image{
		Page:          page,
		PhysicalIndex: page,
		Data:          s.data,
		MIME:          "image/png",
		Width:         64,
		Height:        48,
		Origin:        "generated",
	}, nil
}

// fakeEngine 返回固定结果的识别引擎
type fakeEngine struct {
	name   string
	result string
	err    error
	calls  atomic.Int32
	block  chan struct{} // 非nil时识别等待该通道关闭
}

func (e *fakeEngine) Name() string { return e.name }

func (e *fakeEngine) Recognize(ctx context.Context, img []byte) ([]byte, error) {
	e.calls.Add(1)
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	return []byte(e.result), nil
}

type fixture struct {
	dir      string
	leftPath string
	edits    repository.EditRepository
	sessions repository.SessionRepository
	jobs     repository.OcrJobRepository
	ocrStore *ocr.Store
	slices   *storage.LocalStorage
	engine   *fakeEngine
	logger   *logrus.Logger
	hook     *test.Hook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	logger, hook := test.NewNullLogger()
	cfg := database.DefaultConfig()
	cfg.DSN = filepath.Join(dir, "proofread.db")
	db, err := database.Setup(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	ocrDir, err := storage.NewLocalStorage(storage.LocalConfig{Path: filepath.Join(dir, "ocr"), Create: true})
	require.NoError(t, err)
	slices, err := storage.NewLocalStorage(storage.LocalConfig{Path: filepath.Join(dir, "out"), Create: true})
	require.NoError(t, err)

	leftPath := filepath.Join(dir, "left.txt")
	require.NoError(t, os.WriteFile(leftPath, []byte("<1>\n甲乙\n<2>\n丙丁\n<3>\n戊己\n"), 0644))

	return &fixture{
		dir:      dir,
		leftPath: leftPath,
		edits:    repository.NewEditRepository(db),
		sessions: repository.NewSessionRepository(db),
		jobs:     repository.NewOcrJobRepository(db),
		ocrStore: ocr.NewStore(ocrDir, 0, logger),
		slices:   slices,
		engine:   &fakeEngine{name: ocr.EngineRemote, result: ocrJSON},
		logger:   logger,
		hook:     hook,
	}
}

func (f *fixture) service(t *testing.T, opts ...ProofreadOption) *ProofreadService {
	t.Helper()
	v, err := viewer.New(1, 3,
		viewer.WithSource(newPNGSource(t)),
		viewer.WithOCR(f.ocrStore),
		viewer.WithLogger(f.logger),
	)
	require.NoError(t, err)

	base := []ProofreadOption{
		WithEditRepository(f.edits),
		WithSessionRepository(f.sessions),
		WithOcrJobRepository(f.jobs),
		WithOCRStore(f.ocrStore),
		WithEngine(f.engine),
		WithSliceStorage(f.slices),
		WithLogger(f.logger),
	}
	srv := NewProofreadService(v, ProofreadConfig{
		Project: testProject,
		TextPaths: map[models.Side]string{
			models.SideLeft:  f.leftPath,
			models.SideRight: filepath.Join(f.dir, "right.txt"),
		},
		Splitter: pagetext.DefaultSplitterConfig(),
	}, append(base, opts...)...)

	require.NoError(t, srv.Init(context.Background()))
	return srv
}

func TestProofreadService_InitMissingRightFile(t *testing.T) {
	f := newFixture(t)
	srv := f.service(t)

	view := srv.View(context.Background())
	assert.Equal(t, 1, view.Page)
	assert.Equal(t, "甲乙", view.Left)
	assert.Empty(t, view.Right)

	found := false
	for _, e := range f.hook.AllEntries() {
		if e.Message == "Text file not found, starting empty" {
			found = true
		}
	}
	assert.True(t, found, "missing text file should be logged")
}

func TestProofreadService_Navigation(t *testing.T) {
	f := newFixture(t)
	srv := f.service(t)
	ctx := context.Background()

	assert.Equal(t, 2, srv.Next(ctx).Page)
	assert.Equal(t, 3, srv.Next(ctx).Page)
	assert.Equal(t, 3, srv.Next(ctx).Page)
	assert.Equal(t, 2, srv.Previous(ctx).Page)

	_, err := srv.Jump(ctx, 9)
	var rangeErr *models.OutOfRangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, 2, srv.Viewer().Current())

	view, err := srv.Jump(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "戊己", view.Left)
}

func TestProofreadService_SessionRestored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.service(t)
	_, err := first.Jump(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, first.SetPatterns(ctx, `^\S+`, ""))
	require.NoError(t, first.SetRightSource(ctx, string(viewer.RightOCR)))

	second := f.service(t)
	assert.Equal(t, 2, second.Viewer().Current())
	assert.Equal(t, viewer.RightOCR, second.Viewer().RightSource())
	left, right := second.Patterns()
	assert.Equal(t, `^\S+`, left)
	assert.Empty(t, right)
}

func TestProofreadService_EditsSurviveRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	srv := f.service(t)
	view, err := srv.UpdateText(ctx, models.SideLeft, 2, "丙丁改")
	require.NoError(t, err)
	assert.Equal(t, "丙丁改", view.Left)

	// 未保存的修改在重新打开后仍然存在
	reopened := f.service(t)
	assert.Equal(t, "丙丁改", reopened.Viewer().Texts(models.SideLeft).Get(2))

	path, err := reopened.SaveSide(ctx, models.SideLeft)
	require.NoError(t, err)
	assert.Equal(t, f.leftPath, path)

	loaded, err := pagetext.LoadFile(f.leftPath, pagetext.DefaultSplitterConfig())
	require.NoError(t, err)
	assert.Equal(t, "丙丁改", loaded.Get(2))
	assert.Equal(t, "甲乙", loaded.Get(1))

	unsaved, err := f.edits.ListUnsaved(testProject, models.SideLeft)
	require.NoError(t, err)
	assert.Empty(t, unsaved)
}

// blockingEdits 在 MarkSaved 中暂停，直到测试放行
type blockingEdits struct {
	repository.EditRepository
	entered chan struct{}
	release chan struct{}
}

func (r *blockingEdits) MarkSaved(project string, side models.Side) error {
	close(r.entered)
	<-r.release
	return r.EditRepository.MarkSaved(project, side)
}

func TestProofreadService_EditDuringSaveStaysUnsaved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	edits := &blockingEdits{
		EditRepository: f.edits,
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	srv := f.service(t, WithEditRepository(edits))

	saveErr := make(chan error, 1)
	go func() {
		_, err := srv.SaveSide(ctx, models.SideLeft)
		saveErr <- err
	}()
	<-edits.entered

	// 文件已经写完，修改发生在标记已写回之前
	updateErr := make(chan error, 1)
	go func() {
		_, err := srv.UpdateText(ctx, models.SideLeft, 2, "保存中修改")
		updateErr <- err
	}()
	time.Sleep(100 * time.Millisecond)
	close(edits.release)

	require.NoError(t, <-saveErr)
	require.NoError(t, <-updateErr)

	unsaved, err := f.edits.ListUnsaved(testProject, models.SideLeft)
	require.NoError(t, err)
	require.Len(t, unsaved, 1)
	assert.Equal(t, 2, unsaved[0].Page)
	assert.Equal(t, "保存中修改", unsaved[0].Text)

	// 重新打开后修改仍然存在
	reopened := f.service(t)
	assert.Equal(t, "保存中修改", reopened.Viewer().Texts(models.SideLeft).Get(2))
}

func TestProofreadService_UpdateTextErrors(t *testing.T) {
	f := newFixture(t)
	srv := f.service(t)
	ctx := context.Background()

	_, err := srv.UpdateText(ctx, models.Side("middle"), 1, "x")
	assert.ErrorIs(t, err, models.ErrInvalidSide)

	_, err = srv.UpdateText(ctx, models.SideLeft, 7, "x")
	assert.ErrorIs(t, err, models.ErrOutOfRange)

	require.NoError(t, srv.SetRightSource(ctx, string(viewer.RightOCR)))
	_, err = srv.UpdateText(ctx, models.SideRight, 1, "x")
	assert.ErrorIs(t, err, viewer.ErrOCRReadOnly)
}

func TestProofreadService_PatchRecordsChangedSide(t *testing.T) {
	f := newFixture(t)
	srv := f.service(t)
	ctx := context.Background()

	_, err := srv.UpdateText(ctx, models.SideRight, 1, "甲丙")
	require.NoError(t, err)

	// 在左侧光标处把左侧内容推到右侧
	view, err := srv.Patch(ctx, 1, models.SideLeft, 1, true)
	require.NoError(t, err)
	assert.Equal(t, "甲乙", view.Right)

	edit, err := f.edits.Get(testProject, models.SideRight, 1)
	require.NoError(t, err)
	assert.Equal(t, "甲乙", edit.Text)

	_, err = srv.Patch(ctx, 1, models.SideLeft, 0, false)
	assert.ErrorIs(t, err, viewer.ErrNoDiff)
}

func TestProofreadService_SetPatterns(t *testing.T) {
	f := newFixture(t)
	var savedLeft, savedRight string
	srv := f.service(t, WithSettingsSaver(func(l, r string) error {
		savedLeft, savedRight = l, r
		return nil
	}))
	ctx := context.Background()

	// 任一表达式非法时不做任何修改
	assert.Error(t, srv.SetPatterns(ctx, `^.`, `[`))
	assert.Error(t, srv.SetPatterns(ctx, `[`, ""))
	assert.Empty(t, savedLeft)
	left, _ := srv.Patterns()
	assert.Empty(t, left)

	require.NoError(t, srv.SetPatterns(ctx, `^.`, ""))
	assert.Equal(t, `^.`, savedLeft)
	assert.Empty(t, savedRight)

	view := srv.View(ctx)
	require.Len(t, view.Highlights.Left, 1)
	assert.Nil(t, view.Highlights.Right)
}

func TestProofreadService_RequestOCRSync(t *testing.T) {
	f := newFixture(t)
	srv := f.service(t)
	ctx := context.Background()

	job, err := srv.RequestOCR(ctx, 1, ocr.EngineRemote, false)
	require.NoError(t, err)
	assert.Equal(t, models.OcrJobCompleted, job.Status)
	assert.False(t, job.Stale)
	assert.NotEmpty(t, job.Result)
	assert.EqualValues(t, 1, f.engine.calls.Load())

	require.NoError(t, srv.SetRightSource(ctx, string(viewer.RightOCR)))
	view := srv.View(ctx)
	require.NotNil(t, view.OCR)
	assert.Len(t, view.OCR.Items, 2)
	assert.Equal(t, "甲乙\n丙丁\n", view.Right)

	// 已有结果时不再调用引擎
	job, err = srv.RequestOCR(ctx, 1, ocr.EngineRemote, false)
	require.NoError(t, err)
	assert.Equal(t, models.OcrJobCompleted, job.Status)
	assert.EqualValues(t, 1, f.engine.calls.Load())

	_, err = srv.RequestOCR(ctx, 1, ocr.EngineRemote, true)
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.engine.calls.Load())

	jobs, err := srv.PageJobs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}

func TestProofreadService_RequestOCRErrors(t *testing.T) {
	f := newFixture(t)
	srv := f.service(t)
	ctx := context.Background()

	_, err := srv.RequestOCR(ctx, 1, ocr.EngineLocal, false)
	assert.ErrorIs(t, err, models.ErrUnknownEngine)

	_, err = srv.RequestOCR(ctx, 8, ocr.EngineRemote, false)
	assert.ErrorIs(t, err, models.ErrOutOfRange)

	f.engine.err = errors.New("service unavailable")
	job, err := srv.RequestOCR(ctx, 2, ocr.EngineRemote, false)
	require.NoError(t, err)
	assert.Equal(t, models.OcrJobFailed, job.Status)
	assert.Contains(t, job.Error, "service unavailable")
	assert.False(t, f.ocrStore.Exists(ctx, 2))
}

func TestProofreadService_RequestOCRAsyncStale(t *testing.T) {
	f := newFixture(t)
	f.engine.block = make(chan struct{})

	qcfg := taskqueue.DefaultConfig()
	qcfg.Concurrency = 1
	qcfg.RetryLimit = 0
	queue := taskqueue.NewMemoryQueue(qcfg)
	queue.SetLogger(f.logger)
	t.Cleanup(func() { _ = queue.Close() })

	srv := f.service(t, WithTaskQueue(queue))

	worker := taskqueue.NewMemoryWorker(queue, qcfg)
	srv.RegisterHandlers(worker)
	require.NoError(t, worker.Start())
	t.Cleanup(worker.Stop)

	ctx := context.Background()
	job, err := srv.RequestOCR(ctx, 1, ocr.EngineRemote, false)
	require.NoError(t, err)
	assert.Equal(t, models.OcrJobPending, job.Status)

	// 识别过程中切到下一页
	srv.Next(ctx)
	close(f.engine.block)

	require.Eventually(t, func() bool {
		j, err := srv.Job(ctx, job.ID)
		return err == nil && j.Status == models.OcrJobCompleted
	}, 5*time.Second, 20*time.Millisecond)

	done, err := srv.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, done.Stale)

	// 结果仍然保存，回到该页时可以看到
	assert.True(t, f.ocrStore.Exists(ctx, 1))
	view, err := srv.Jump(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, view.OCR)
	assert.Len(t, view.OCR.Items, 2)
}

func TestProofreadService_ProcessTaskInvalidPayload(t *testing.T) {
	f := newFixture(t)
	srv := f.service(t)

	_, err := srv.ProcessTask(context.Background(), &taskqueue.Task{ID: "t1", Type: taskqueue.TaskOCRRecognize})
	assert.ErrorIs(t, err, taskqueue.ErrInvalidPayload)
	assert.Equal(t, []taskqueue.TaskType{taskqueue.TaskOCRRecognize}, srv.GetTaskTypes())
}

func TestProofreadService_ExportSlices(t *testing.T) {
	f := newFixture(t)
	srv := f.service(t)
	ctx := context.Background()

	_, err := srv.ExportSlices(ctx, 1)
	assert.ErrorIs(t, err, models.ErrOCRResultNotFound)

	_, err = srv.RequestOCR(ctx, 1, ocr.EngineRemote, false)
	require.NoError(t, err)

	keys, err := srv.ExportSlices(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"slices/1_0.jpg", "slices/1_1.jpg"}, keys)

	for _, key := range keys {
		rc, err := f.slices.Get(ctx, key)
		require.NoError(t, err)
		img, _, err := image.Decode(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Greater(t, img.Bounds().Dx(), 0)
	}
}

func TestProofreadService_Locate(t *testing.T) {
	f := newFixture(t)
	srv := f.service(t)
	ctx := context.Background()

	_, err := srv.RequestOCR(ctx, 1, ocr.EngineRemote, false)
	require.NoError(t, err)

	loc, err := srv.Locate(ctx, 1, models.SideLeft, 1)
	require.NoError(t, err)
	require.NotNil(t, loc.BBox)
	assert.Equal(t, 0, loc.Line)

	_, err = srv.Locate(ctx, 1, models.Side("up"), 1)
	assert.ErrorIs(t, err, models.ErrInvalidSide)
}

func TestProofreadService_WatchReloadsExternalChange(t *testing.T) {
	f := newFixture(t)
	srv := f.service(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// 等待监视器就绪
	require.Eventually(t, func() bool {
		for _, e := range f.hook.AllEntries() {
			if e.Message == "Watching text files" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(f.leftPath, []byte("<1>\n外部修改\n"), 0644))

	require.Eventually(t, func() bool {
		return srv.Viewer().Texts(models.SideLeft).Get(1) == "外部修改"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestProofreadService_SelfWriteIgnored(t *testing.T) {
	f := newFixture(t)
	srv := f.service(t)

	srv.markSelfWrite(f.leftPath)
	assert.True(t, srv.isSelfWrite(cleanPath(f.leftPath), time.Now()))
	assert.False(t, srv.isSelfWrite(cleanPath(f.leftPath), time.Now().Add(selfWriteWindow+time.Second)))
	assert.False(t, srv.isSelfWrite(cleanPath(filepath.Join(f.dir, "other.txt")), time.Now()))
}
