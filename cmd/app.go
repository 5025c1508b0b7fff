package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fyerfyer/ocr-proofreader/api/middleware"
	"github.com/fyerfyer/ocr-proofreader/config"
	"github.com/fyerfyer/ocr-proofreader/internal/cache"
	"github.com/fyerfyer/ocr-proofreader/internal/database"
	"github.com/fyerfyer/ocr-proofreader/internal/highlight"
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
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
)

// 切图键前缀，切图存储已经按 ocr.slices_dir 划分
const slicesPrefix = "page_"

// app 组装好的校对会话
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	metrics  *metrics.Metrics
	db       *gorm.DB
	ocrStore *ocr.Store
	viewer   *viewer.Viewer
	service  *services.ProofreadService
	queue    taskqueue.Queue
	worker   taskqueue.Worker

	closers []func() error
}

// newApp 加载配置并创建所有组件
// withQueue 为 false 时即使配置启用了队列也同步识别，供一次性命令使用
func newApp(ctx context.Context, configPath string, withQueue bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	a.logger = setupLogger(cfg.Log)
	a.metrics = metrics.New(nil)

	a.db, err = setupDatabase(cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.closers = append(a.closers, func() error { return database.Close(a.db) })

	ocrStorage, err := setupStorage(cfg, cfg.OCRDir())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize ocr storage: %w", err)
	}
	sliceStorage, err := setupStorage(cfg, cfg.OCR.SlicesDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize slice storage: %w", err)
	}

	source, err := a.setupPageSource()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.ocrStore = ocr.NewStore(ocrStorage, cfg.PageOffset, a.logger)

	a.viewer, err = viewer.New(cfg.StartPage, cfg.EndPage,
		viewer.WithSource(source),
		viewer.WithOCR(a.ocrStore),
		viewer.WithPatterns(cfg.RegexLeft, cfg.RegexRight),
		viewer.WithMetrics(a.metrics),
		viewer.WithLogger(a.logger),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []services.ProofreadOption{
		services.WithEditRepository(repository.NewEditRepository(a.db)),
		services.WithSessionRepository(repository.NewSessionRepository(a.db)),
		services.WithOcrJobRepository(repository.NewOcrJobRepository(a.db)),
		services.WithOCRStore(a.ocrStore),
		services.WithSliceStorage(sliceStorage),
		services.WithSettingsSaver(a.saveSettings),
		services.WithMetrics(a.metrics),
		services.WithLogger(a.logger),
	}
	for _, engine := range a.setupEngines() {
		opts = append(opts, services.WithEngine(engine))
	}

	if withQueue && cfg.Queue.Enable {
		if err := a.setupTaskQueue(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize task queue: %w", err)
		}
		opts = append(opts, services.WithTaskQueue(a.queue))
	}

	a.service = services.NewProofreadService(a.viewer, services.ProofreadConfig{
		Project: cfg.Path(),
		TextPaths: map[models.Side]string{
			models.SideLeft:  cfg.TextPathLeft,
			models.SideRight: cfg.TextPathRight,
		},
		Splitter: pagetext.SplitterConfig{
			Leading:   cfg.LeadingText,
			StartPage: cfg.StartPage,
		},
		SlicesPrefix: slicesPrefix,
	}, opts...)

	if err := a.service.Init(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if a.queue != nil {
		a.worker, err = taskqueue.NewWorker(a.queue, a.queueConfig())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create task worker: %w", err)
		}
		a.service.RegisterHandlers(a.worker)
		if err := a.worker.Start(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to start task worker: %w", err)
		}
	}

	a.logger.WithFields(logrus.Fields{
		"config":     cfg.Path(),
		"start_page": cfg.StartPage,
		"end_page":   cfg.EndPage,
		"source":     source.Name(),
		"engines":    a.service.Engines(),
	}).Info("Proofreading session ready")

	return a, nil
}

// Close 按创建的相反顺序释放资源
func (a *app) Close() {
	if a.worker != nil {
		a.worker.Stop()
		a.worker = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("Failed to release resource")
		}
	}
	a.closers = nil
}

// saveSettings 正则修改后写回配置文件
func (a *app) saveSettings(regexLeft, regexRight string) error {
	left, err := highlight.Compile(regexLeft)
	if err != nil {
		return err
	}
	right, err := highlight.Compile(regexRight)
	if err != nil {
		return err
	}
	a.cfg.RegexLeft = left
	a.cfg.RegexRight = right
	return config.Save(a.cfg.Path(), a.cfg)
}

// setupLogger 设置日志系统
func setupLogger(cfg config.LogConfig) *logrus.Logger {
	logger := middleware.GetLogger()

	// 设置日志级别
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// 配置了日志文件时同时写入文件，按大小轮转
	if cfg.File != "" {
		logger.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}))
	}

	middleware.SetLogger(logger)
	return logger
}

// setupDatabase 设置数据库
func setupDatabase(cfg *config.Config, logger *logrus.Logger) (*gorm.DB, error) {
	dbConfig := database.DefaultConfig()
	dbConfig.Type = cfg.Database.Type
	dbConfig.DSN = cfg.Database.DSN

	return database.Setup(dbConfig, logger)
}

// setupStorage 设置OCR结果或切图的存储
// 本地存储以 dir 为根目录，MinIO以 dir 为对象键前缀
func setupStorage(cfg *config.Config, dir string) (storage.Storage, error) {
	return storage.New(storage.Config{
		Type: cfg.Storage.Type,
		Local: storage.LocalConfig{
			Path:   dir,
			Create: true,
		},
		Minio: storage.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
			Prefix:    dir,
		},
	})
}

// setupPageSource 创建页面图片来源，启用缓存时包一层缓存
func (a *app) setupPageSource() (pagesource.Source, error) {
	cfg := a.cfg
	source, err := pagesource.New(pagesource.Config{
		PDFPath:   cfg.PDFPath,
		ImageDir:  cfg.ImageDir,
		Offset:    cfg.PageOffset,
		PreferPDF: cfg.UsePDFRender,
	})
	if err != nil {
		return nil, err
	}

	if !cfg.Cache.Enable {
		return source, nil
	}

	ttl := time.Duration(cfg.Cache.TTL) * time.Second
	pageCache, err := cache.NewCache(cache.Config{
		Type:            cfg.Cache.Type,
		RedisAddr:       cfg.Cache.Address,
		RedisPassword:   cfg.Cache.Password,
		RedisDB:         cfg.Cache.DB,
		KeyPrefix:       "proofread",
		DefaultTTL:      ttl,
		CleanupInterval: 10 * time.Minute,
	})
	if err != nil {
		// 缓存不可用不影响校对，直接读取来源
		a.logger.WithError(err).Warn("Page cache unavailable, reading images directly")
		return source, nil
	}
	a.closers = append(a.closers, pageCache.Close)

	return pagesource.NewCachedSource(source, pageCache,
		pagesource.WithTTL(ttl),
		pagesource.WithMetrics(a.metrics),
		pagesource.WithLogger(a.logger),
	), nil
}

// setupEngines 创建可用的识别引擎
func (a *app) setupEngines() []ocr.Engine {
	var engines []ocr.Engine

	remoteConfig := ocr.DefaultRemoteConfig()
	remoteConfig.URL = a.cfg.OCRAPIURL
	remoteConfig.Token = a.cfg.OCRAPIToken
	if a.cfg.OCR.Timeout > 0 {
		remoteConfig.Timeout = a.cfg.OCR.Timeout
	}
	remoteConfig.MaxRetries = a.cfg.OCR.MaxRetries
	if a.cfg.OCR.RetryDelay > 0 {
		remoteConfig.RetryDelay = a.cfg.OCR.RetryDelay
	}

	remote, err := ocr.NewRemoteClient(remoteConfig, a.logger)
	switch {
	case err == nil:
		engines = append(engines, remote)
	case errors.Is(err, models.ErrOCRDisabled):
		a.logger.Info("Remote OCR not configured, only existing results will be shown")
	default:
		a.logger.WithError(err).Warn("Failed to create remote OCR client")
	}

	local, err := ocr.NewTesseractEngine(a.cfg.OCR.Languages...)
	if err != nil {
		a.logger.WithError(err).Debug("Local OCR unavailable")
	} else {
		engines = append(engines, local)
	}

	return engines
}

// queueConfig 任务队列配置
func (a *app) queueConfig() *taskqueue.Config {
	queueConfig := taskqueue.DefaultConfig()
	queueConfig.RedisAddr = a.cfg.Queue.RedisAddr
	queueConfig.RedisPassword = a.cfg.Queue.RedisPassword
	queueConfig.RedisDB = a.cfg.Queue.RedisDB
	queueConfig.Concurrency = a.cfg.Queue.Concurrency
	queueConfig.RetryLimit = a.cfg.Queue.RetryLimit
	return queueConfig
}

// setupTaskQueue 设置任务队列
func (a *app) setupTaskQueue() error {
	queueConfig := a.queueConfig()

	a.logger.WithFields(logrus.Fields{
		"type":        a.cfg.Queue.Type,
		"redis_addr":  queueConfig.RedisAddr,
		"concurrency": queueConfig.Concurrency,
		"retry_limit": queueConfig.RetryLimit,
	}).Info("Setting up task queue")

	queue, err := taskqueue.NewQueue(a.cfg.Queue.Type, queueConfig)
	if err != nil {
		return err
	}
	if l, ok := queue.(interface{ SetLogger(*logrus.Logger) }); ok {
		l.SetLogger(a.logger)
	}

	a.queue = queue
	a.closers = append(a.closers, queue.Close)
	return nil
}
