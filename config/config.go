package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/fyerfyer/ocr-proofreader/internal/highlight"
	"github.com/fyerfyer/ocr-proofreader/internal/pagetext"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 校对会话配置，加载后只读
type Config struct {
	PDFPath       string            // PDF文件路径
	ImageDir      string            // 图片目录
	StartPage     int               // 起始逻辑页
	EndPage       int               // 结束逻辑页
	PageOffset    int               // 物理索引 = 逻辑页 + 偏移
	TextPathLeft  string            // 左侧文本
	TextPathRight string            // 右侧文本
	OCRJSONPath   string            // OCR结果目录
	RegexLeft     highlight.Pattern // 左侧词头正则
	RegexRight    highlight.Pattern // 右侧词头正则
	UsePDFRender  bool              // 优先从PDF取图
	OCRAPIURL     string            // 远程OCR接口
	OCRAPIToken   string            // 远程OCR令牌
	LeadingText   pagetext.LeadingPolicy

	Server   ServerConfig
	Log      LogConfig
	Cache    CacheConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Queue    QueueConfig
	OCR      OCRConfig

	path string // 配置文件的绝对路径
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	Mode         string        `mapstructure:"mode" validate:"oneof=debug release test"` // gin运行模式
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	File       string `mapstructure:"file"`         // 为空时只输出到标准输出
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // 单个日志文件大小上限
	MaxBackups int    `mapstructure:"max_backups"`  // 保留的旧日志文件数
	MaxAgeDays int    `mapstructure:"max_age_days"` // 旧日志保留天数
}

// CacheConfig 页面图片缓存配置
type CacheConfig struct {
	Enable   bool   `mapstructure:"enable"`
	Type     string `mapstructure:"type" validate:"oneof=memory redis"`
	Address  string `mapstructure:"address"`  // Redis地址
	Password string `mapstructure:"password"` // Redis密码
	DB       int    `mapstructure:"db"`       // Redis数据库
	TTL      int    `mapstructure:"ttl"`      // 缓存TTL（秒）
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type string `mapstructure:"type" validate:"oneof=sqlite postgres"`
	DSN  string `mapstructure:"dsn" validate:"required"`
}

// StorageConfig OCR结果和切图的存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type" validate:"oneof=local minio"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// QueueConfig 后台OCR任务队列配置
type QueueConfig struct {
	Enable        bool   `mapstructure:"enable"`
	Type          string `mapstructure:"type" validate:"oneof=memory redis"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Concurrency   int    `mapstructure:"concurrency" validate:"min=1"`
	RetryLimit    int    `mapstructure:"retry_limit" validate:"min=0"`
}

// OCRConfig 识别相关配置
type OCRConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" validate:"min=0"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	SlicesDir  string        `mapstructure:"slices_dir"` // 切图输出目录
	Languages  []string      `mapstructure:"languages"`  // 本地Tesseract语言
}

// fileConfig 配置文件的原始结构
// 必填的整数用指针区分"未填写"和0
type fileConfig struct {
	PDFPath       string  `mapstructure:"pdf_path" validate:"required_without=ImageDir"`
	ImageDir      string  `mapstructure:"image_dir" validate:"required_without=PDFPath"`
	StartPage     *int    `mapstructure:"start_page" validate:"required"`
	EndPage       *int    `mapstructure:"end_page" validate:"required"`
	PageOffset    int     `mapstructure:"page_offset"`
	TextPathLeft  string  `mapstructure:"text_path_left" validate:"required"`
	TextPathRight string  `mapstructure:"text_path_right" validate:"required"`
	OCRJSONPath   string  `mapstructure:"ocr_json_path"`
	RegexLeft     *string `mapstructure:"regex_left"`
	RegexRight    *string `mapstructure:"regex_right"`
	UsePDFRender  bool    `mapstructure:"use_pdf_render"`
	OCRAPIURL     string  `mapstructure:"ocr_api_url" validate:"omitempty,url"`
	OCRAPIToken   string  `mapstructure:"ocr_api_token"`
	LeadingText   string  `mapstructure:"leading_text" validate:"oneof=discard start"`

	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Queue    QueueConfig    `mapstructure:"queue"`
	OCR      OCRConfig      `mapstructure:"ocr"`
}

// ErrInvalidConfig 配置无法使用
var ErrInvalidConfig = errors.New("invalid config")

// DefaultPath 未指定配置文件时使用的路径
const DefaultPath = "config.json"

// ConfigError 配置文件缺失、格式错误或字段不合法
type ConfigError struct {
	Path   string
	Field  string // 出错字段，文件级错误时为空
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config %s", e.Path)
	if e.Field != "" {
		msg += fmt.Sprintf(": field %s", e.Field)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

func (e *ConfigError) Unwrap() error { return e.Err }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// 错误信息中使用配置文件里的键名
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Load 读取配置文件
// 支持 JSON/YAML/TOML（按扩展名判断，未知扩展名按JSON处理），PROOF_ 前缀的环境变量可以覆盖任意键
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultPath
	}

	if _, err := os.Stat(configPath); err != nil {
		return nil, &ConfigError{Path: configPath, Reason: "config file not found", Err: err}
	}

	v := newViper(configPath)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, &ConfigError{Path: configPath, Reason: "not valid structured data", Err: err}
	}

	// 支持环境变量覆盖
	v.SetEnvPrefix("PROOF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var raw fileConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, &ConfigError{Path: configPath, Reason: "failed to parse config", Err: err}
	}
	processEnvironmentVariables(&raw)

	if err := validate.Struct(&raw); err != nil {
		return nil, validationError(configPath, err)
	}

	cfg, err := build(&raw)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			cfgErr.Path = configPath
		}
		return nil, err
	}

	if abs, err := filepath.Abs(configPath); err == nil {
		cfg.path = abs
	} else {
		cfg.path = configPath
	}
	return cfg, nil
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(configPath)
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".json", ".yaml", ".yml", ".toml":
	default:
		v.SetConfigType("json")
	}
	return v
}

func validationError(path string, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.TrimPrefix(fe.Namespace(), "fileConfig.")
		reason := fmt.Sprintf("failed %q validation", fe.Tag())
		switch fe.Tag() {
		case "required":
			reason = "is required"
		case "required_without":
			reason = "one of pdf_path or image_dir is required"
		}
		return &ConfigError{Path: path, Field: field, Reason: reason}
	}
	return &ConfigError{Path: path, Reason: "validation failed", Err: err}
}

// build 把原始结构转换为只读配置，并检查跨字段约束
func build(raw *fileConfig) (*Config, error) {
	if *raw.StartPage > *raw.EndPage {
		return nil, &ConfigError{
			Field:  "start_page",
			Reason: fmt.Sprintf("start_page %d is greater than end_page %d", *raw.StartPage, *raw.EndPage),
		}
	}

	left, err := compileRegex("regex_left", raw.RegexLeft)
	if err != nil {
		return nil, err
	}
	right, err := compileRegex("regex_right", raw.RegexRight)
	if err != nil {
		return nil, err
	}

	return &Config{
		PDFPath:       raw.PDFPath,
		ImageDir:      raw.ImageDir,
		StartPage:     *raw.StartPage,
		EndPage:       *raw.EndPage,
		PageOffset:    raw.PageOffset,
		TextPathLeft:  raw.TextPathLeft,
		TextPathRight: raw.TextPathRight,
		OCRJSONPath:   raw.OCRJSONPath,
		RegexLeft:     left,
		RegexRight:    right,
		UsePDFRender:  raw.UsePDFRender,
		OCRAPIURL:     raw.OCRAPIURL,
		OCRAPIToken:   raw.OCRAPIToken,
		LeadingText:   pagetext.LeadingPolicy(raw.LeadingText),
		Server:        raw.Server,
		Log:           raw.Log,
		Cache:         raw.Cache,
		Database:      raw.Database,
		Storage:       raw.Storage,
		Queue:         raw.Queue,
		OCR:           raw.OCR,
	}, nil
}

func compileRegex(field string, expr *string) (highlight.Pattern, error) {
	if expr == nil {
		return highlight.None(), nil
	}
	p, err := highlight.Compile(*expr)
	if err != nil {
		return highlight.None(), &ConfigError{Field: field, Reason: "regex does not compile", Err: err}
	}
	return p, nil
}

// processEnvironmentVariables 展开 ${VAR} 形式的取值
func processEnvironmentVariables(cfg *fileConfig) {
	for _, s := range []*string{
		&cfg.OCRAPIURL,
		&cfg.OCRAPIToken,
		&cfg.Storage.AccessKey,
		&cfg.Storage.SecretKey,
		&cfg.Cache.Password,
		&cfg.Queue.RedisPassword,
		&cfg.Database.DSN,
	} {
		*s = expandEnv(*s)
	}
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		if envVal := os.Getenv(s[2 : len(s)-1]); envVal != "" {
			return envVal
		}
	}
	return s
}

// Path 配置文件的绝对路径，同时作为会话和修改记录的项目标识
func (c *Config) Path() string {
	return c.path
}

// PageCount 可浏览的页数
func (c *Config) PageCount() int {
	return c.EndPage - c.StartPage + 1
}

// OCREnabled 是否配置了远程OCR
func (c *Config) OCREnabled() bool {
	return c.OCRAPIURL != "" && c.OCRAPIToken != ""
}

// OCRDir OCR结果目录，未配置时使用 ocr_results
func (c *Config) OCRDir() string {
	if c.OCRJSONPath == "" {
		return "ocr_results"
	}
	return c.OCRJSONPath
}

// Save 把会话内可修改的字段写回配置文件，文件中的其他键保持不变
// 令牌等可能来自环境变量的值不会被覆盖
func Save(path string, cfg *Config) error {
	v := newViper(path)
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return &ConfigError{Path: path, Reason: "not valid structured data", Err: err}
		}
	}

	v.Set("pdf_path", cfg.PDFPath)
	v.Set("image_dir", cfg.ImageDir)
	v.Set("start_page", cfg.StartPage)
	v.Set("end_page", cfg.EndPage)
	v.Set("page_offset", cfg.PageOffset)
	v.Set("text_path_left", cfg.TextPathLeft)
	v.Set("text_path_right", cfg.TextPathRight)
	v.Set("ocr_json_path", cfg.OCRJSONPath)
	v.Set("regex_left", cfg.RegexLeft.String())
	v.Set("regex_right", cfg.RegexRight.String())
	v.Set("use_pdf_render", cfg.UsePDFRender)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("page_offset", 0)
	v.SetDefault("ocr_json_path", "")
	v.SetDefault("use_pdf_render", false)
	v.SetDefault("ocr_api_url", "")
	v.SetDefault("ocr_api_token", "")
	v.SetDefault("leading_text", string(pagetext.LeadingDiscard))

	// 服务器默认配置
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	// 缓存默认配置
	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.ttl", 1800)

	// 数据库默认配置
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "data/proofread.db")

	// 存储默认配置
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.bucket", "proofread")
	v.SetDefault("storage.use_ssl", false)

	// 队列默认配置
	v.SetDefault("queue.enable", false)
	v.SetDefault("queue.type", "memory")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.concurrency", 2)
	v.SetDefault("queue.retry_limit", 2)

	// OCR默认配置
	v.SetDefault("ocr.timeout", "2m")
	v.SetDefault("ocr.max_retries", 2)
	v.SetDefault("ocr.retry_delay", "1s")
	v.SetDefault("ocr.slices_dir", "output_slices")
	v.SetDefault("ocr.languages", []string{"chi_sim", "eng"})
}
