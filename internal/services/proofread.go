package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyerfyer/ocr-proofreader/internal/highlight"
	"github.com/fyerfyer/ocr-proofreader/internal/metrics"
	"github.com/fyerfyer/ocr-proofreader/internal/models"
	"github.com/fyerfyer/ocr-proofreader/internal/ocr"
	"github.com/fyerfyer/ocr-proofreader/internal/pagetext"
	"github.com/fyerfyer/ocr-proofreader/internal/repository"
	"github.com/fyerfyer/ocr-proofreader/internal/viewer"
	"github.com/fyerfyer/ocr-proofreader/pkg/storage"
	"github.com/fyerfyer/ocr-proofreader/pkg/taskqueue"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// ProofreadConfig 校对服务需要的项目信息
type ProofreadConfig struct {
	Project      string                  // 项目标识，通常为配置文件的绝对路径
	TextPaths    map[models.Side]string  // 两侧文本文件
	Splitter     pagetext.SplitterConfig // 分页配置
	SlicesPrefix string                  // 切图在存储中的键前缀
}

// SettingsSaver 正则修改后回写配置文件
type SettingsSaver func(regexLeft, regexRight string) error

// sessionSettings 会话中保存的界面设置
type sessionSettings struct {
	RegexLeft  *string `json:"regex_left,omitempty"`
	RegexRight *string `json:"regex_right,omitempty"`
}

// ProofreadService 校对服务
// 协调浏览状态、修改记录、OCR识别和切图导出
type ProofreadService struct {
	cfg      ProofreadConfig
	viewer   *viewer.Viewer
	edits    repository.EditRepository
	sessions repository.SessionRepository
	jobs     repository.OcrJobRepository
	ocrStore *ocr.Store
	engines  map[string]ocr.Engine
	queue    taskqueue.Queue
	slices   storage.Storage
	saver    SettingsSaver
	metrics  *metrics.Metrics
	logger   *logrus.Logger

	mu         sync.Mutex
	selfWrites map[string]time.Time // 本服务写文件的时间，用于忽略随之而来的文件事件

	// textMu 串行化文本修改、重新加载和保存，标记为已写回的记录一定已经写入文件
	textMu sync.Mutex
}

// ProofreadOption 校对服务配置选项
type ProofreadOption func(*ProofreadService)

// WithEditRepository 设置修改记录仓储
func WithEditRepository(repo repository.EditRepository) ProofreadOption {
	return func(s *ProofreadService) {
		s.edits = repo
	}
}

// WithSessionRepository 设置会话仓储
func WithSessionRepository(repo repository.SessionRepository) ProofreadOption {
	return func(s *ProofreadService) {
		s.sessions = repo
	}
}

// WithOcrJobRepository 设置OCR任务仓储
func WithOcrJobRepository(repo repository.OcrJobRepository) ProofreadOption {
	return func(s *ProofreadService) {
		s.jobs = repo
	}
}

// WithOCRStore 设置OCR结果存储
func WithOCRStore(store *ocr.Store) ProofreadOption {
	return func(s *ProofreadService) {
		s.ocrStore = store
	}
}

// WithEngine 注册一个OCR引擎，按 Name() 区分
func WithEngine(engine ocr.Engine) ProofreadOption {
	return func(s *ProofreadService) {
		if engine != nil {
			s.engines[engine.Name()] = engine
		}
	}
}

// WithTaskQueue 设置后台任务队列，不设置时识别同步执行
func WithTaskQueue(queue taskqueue.Queue) ProofreadOption {
	return func(s *ProofreadService) {
		s.queue = queue
	}
}

// WithSliceStorage 设置切图存储
func WithSliceStorage(store storage.Storage) ProofreadOption {
	return func(s *ProofreadService) {
		s.slices = store
	}
}

// WithSettingsSaver 设置正则回写函数
func WithSettingsSaver(saver SettingsSaver) ProofreadOption {
	return func(s *ProofreadService) {
		s.saver = saver
	}
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) ProofreadOption {
	return func(s *ProofreadService) {
		s.metrics = m
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) ProofreadOption {
	return func(s *ProofreadService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewProofreadService 创建校对服务
func NewProofreadService(v *viewer.Viewer, cfg ProofreadConfig, opts ...ProofreadOption) *ProofreadService {
	if cfg.TextPaths == nil {
		cfg.TextPaths = map[models.Side]string{}
	}
	if cfg.SlicesPrefix == "" {
		cfg.SlicesPrefix = "slices/"
	}

	srv := &ProofreadService{
		cfg:        cfg,
		viewer:     v,
		engines:    make(map[string]ocr.Engine),
		logger:     logrus.New(),
		selfWrites: make(map[string]time.Time),
	}

	for _, opt := range opts {
		opt(srv)
	}

	return srv
}

// Viewer 返回底层浏览器
func (s *ProofreadService) Viewer() *viewer.Viewer {
	return s.viewer
}

// Init 加载两侧文本，叠加未写回的修改，恢复上次的会话
func (s *ProofreadService) Init(ctx context.Context) error {
	for _, side := range []models.Side{models.SideLeft, models.SideRight} {
		if err := s.ReloadSide(side); err != nil {
			return err
		}
	}

	if s.sessions == nil {
		return nil
	}

	session, err := s.sessions.Get(s.cfg.Project)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load session: %w", err)
	}

	if err := s.viewer.Jump(session.CurrentPage); err != nil {
		// 配置的页码范围变了，从起始页开始
		s.logger.WithField("page", session.CurrentPage).Warn("Saved page outside range, starting from first page")
	}
	if src, err := viewer.ParseRightSource(session.RightSource); err == nil {
		_ = s.viewer.SetRightSource(src)
	}
	s.restoreSettings(session.Settings)

	s.logger.WithFields(logrus.Fields{
		"project": s.cfg.Project,
		"page":    s.viewer.Current(),
	}).Info("Session restored")
	return nil
}

func (s *ProofreadService) restoreSettings(raw datatypes.JSON) {
	if len(raw) == 0 {
		return
	}
	var settings sessionSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		s.logger.WithError(err).Warn("Ignoring unreadable session settings")
		return
	}

	left, right := s.viewer.Patterns()
	if settings.RegexLeft != nil {
		if p, err := highlight.Compile(*settings.RegexLeft); err == nil {
			left = p
		}
	}
	if settings.RegexRight != nil {
		if p, err := highlight.Compile(*settings.RegexRight); err == nil {
			right = p
		}
	}
	s.viewer.SetPatterns(left, right)
}

// ReloadSide 从文本文件重新加载一侧，并叠加数据库中未写回的修改
// 文件不存在时视为空文本，页码标记不合法时返回 *models.MalformedTextError
func (s *ProofreadService) ReloadSide(side models.Side) error {
	s.textMu.Lock()
	defer s.textMu.Unlock()

	path := s.cfg.TextPaths[side]

	splitter := s.cfg.Splitter
	pages := pagetext.PageText{}
	if path != "" {
		loaded, err := pagetext.LoadFile(path, splitter)
		switch {
		case err == nil:
			pages = loaded
		case errors.Is(err, models.ErrTextNotFound):
			s.logger.WithFields(logrus.Fields{"side": side, "path": path}).Warn("Text file not found, starting empty")
		default:
			return err
		}
	}

	if s.edits != nil {
		unsaved, err := s.edits.ListUnsaved(s.cfg.Project, side)
		if err != nil {
			return fmt.Errorf("failed to load unsaved edits: %w", err)
		}
		for _, edit := range unsaved {
			pages[edit.Page] = edit.Text
		}
	}

	s.viewer.SetTexts(side, pages)
	return nil
}

// View 返回当前页视图
func (s *ProofreadService) View(ctx context.Context) *viewer.PageView {
	return s.viewer.Render(ctx)
}

// Page 返回指定页视图，不移动当前页
func (s *ProofreadService) Page(ctx context.Context, page int) (*viewer.PageView, error) {
	return s.viewer.RenderPage(ctx, page)
}

// Next 前进一页
func (s *ProofreadService) Next(ctx context.Context) *viewer.PageView {
	s.viewer.Next()
	s.saveSession()
	return s.viewer.Render(ctx)
}

// Previous 后退一页
func (s *ProofreadService) Previous(ctx context.Context) *viewer.PageView {
	s.viewer.Previous()
	s.saveSession()
	return s.viewer.Render(ctx)
}

// Jump 跳转到指定页
func (s *ProofreadService) Jump(ctx context.Context, page int) (*viewer.PageView, error) {
	if err := s.viewer.Jump(page); err != nil {
		return nil, err
	}
	s.saveSession()
	return s.viewer.Render(ctx), nil
}

// saveSession 记录当前位置和设置，失败只记日志
func (s *ProofreadService) saveSession() {
	if s.sessions == nil {
		return
	}

	left, right := s.viewer.Patterns()
	leftExpr, rightExpr := left.String(), right.String()
	settings, err := json.Marshal(sessionSettings{RegexLeft: &leftExpr, RegexRight: &rightExpr})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to encode session settings")
		return
	}

	session := &models.Session{
		Project:     s.cfg.Project,
		CurrentPage: s.viewer.Current(),
		RightSource: string(s.viewer.RightSource()),
		Settings:    datatypes.JSON(settings),
	}
	if err := s.sessions.Save(session); err != nil {
		s.logger.WithError(err).Warn("Failed to save session")
	}
}

// UpdateText 修改某页文本并记录到数据库
func (s *ProofreadService) UpdateText(ctx context.Context, side models.Side, page int, text string) (*viewer.PageView, error) {
	if _, err := models.ParseSide(string(side)); err != nil {
		return nil, err
	}
	if err := s.setText(side, page, text); err != nil {
		return nil, err
	}
	return s.viewer.RenderPage(ctx, page)
}

func (s *ProofreadService) setText(side models.Side, page int, text string) error {
	s.textMu.Lock()
	defer s.textMu.Unlock()

	if err := s.viewer.SetText(side, page, text); err != nil {
		return err
	}
	return s.recordEdit(side, page, text)
}

func (s *ProofreadService) recordEdit(side models.Side, page int, text string) error {
	if s.edits == nil {
		return nil
	}
	edit := &models.PageEdit{Project: s.cfg.Project, Side: side, Page: page, Text: text}
	if err := s.edits.Upsert(edit); err != nil {
		return fmt.Errorf("failed to record edit: %w", err)
	}
	return nil
}

// Patch 在光标所在的差异块上接受对侧内容或推送本侧内容
func (s *ProofreadService) Patch(ctx context.Context, page int, side models.Side, idx int, push bool) (*viewer.PageView, error) {
	if _, err := models.ParseSide(string(side)); err != nil {
		return nil, err
	}
	s.textMu.Lock()
	defer s.textMu.Unlock()

	view, err := s.viewer.Patch(ctx, page, side, idx, push)
	if err != nil {
		return nil, err
	}

	changed := side
	if push {
		changed = side.Other()
	}
	text := view.Left
	if changed == models.SideRight {
		text = view.Right
	}
	if err := s.recordEdit(changed, page, text); err != nil {
		return nil, err
	}
	return view, nil
}

// Locate 光标位置映射到对侧和图片上的OCR框
func (s *ProofreadService) Locate(ctx context.Context, page int, side models.Side, idx int) (*viewer.Location, error) {
	if _, err := models.ParseSide(string(side)); err != nil {
		return nil, err
	}
	return s.viewer.Locate(ctx, page, side, idx)
}

// SaveSide 把一侧的文本写回文件，返回文件路径
func (s *ProofreadService) SaveSide(ctx context.Context, side models.Side) (string, error) {
	if _, err := models.ParseSide(string(side)); err != nil {
		return "", err
	}
	path := s.cfg.TextPaths[side]
	if path == "" {
		return "", fmt.Errorf("no text path configured for %s side", side)
	}

	s.textMu.Lock()
	defer s.textMu.Unlock()

	s.markSelfWrite(path)
	if err := pagetext.WriteFile(path, s.viewer.Texts(side)); err != nil {
		return "", err
	}

	if s.edits != nil {
		if err := s.edits.MarkSaved(s.cfg.Project, side); err != nil {
			return "", fmt.Errorf("failed to mark edits saved: %w", err)
		}
	}

	s.logger.WithFields(logrus.Fields{"side": side, "path": path}).Info("Text saved")
	return path, nil
}

// SetPatterns 运行时修改两侧词头正则，空串表示不高亮
func (s *ProofreadService) SetPatterns(ctx context.Context, regexLeft, regexRight string) error {
	left, err := highlight.Compile(regexLeft)
	if err != nil {
		return err
	}
	right, err := highlight.Compile(regexRight)
	if err != nil {
		return err
	}

	s.viewer.SetPatterns(left, right)
	s.saveSession()

	if s.saver != nil {
		if err := s.saver(regexLeft, regexRight); err != nil {
			s.logger.WithError(err).Warn("Failed to write regex back to config")
		}
	}
	return nil
}

// Patterns 返回当前两侧的正则表达式
func (s *ProofreadService) Patterns() (string, string) {
	left, right := s.viewer.Patterns()
	return left.String(), right.String()
}

// SetRightSource 切换右侧来源
func (s *ProofreadService) SetRightSource(ctx context.Context, src string) error {
	rs, err := viewer.ParseRightSource(src)
	if err != nil {
		return err
	}
	if err := s.viewer.SetRightSource(rs); err != nil {
		return err
	}
	s.saveSession()
	return nil
}
