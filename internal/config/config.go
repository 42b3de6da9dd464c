package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/RecoveryAshes/toutiao-repost/internal/models"
	"github.com/RecoveryAshes/toutiao-repost/internal/utils"
)

const (
	// MaxConfigFileSize 配置文件最大大小 (1MB)
	MaxConfigFileSize = 1 * 1024 * 1024

	// EnvPrefix 环境变量前缀, 如 TOUTIAO_REWRITE_API_KEY
	EnvPrefix = "TOUTIAO"
)

// Config 应用程序配置
type Config struct {
	Browser      BrowserConfig     `mapstructure:"browser"`
	Crawl        CrawlConfig       `mapstructure:"crawl"`
	Session      SessionConfig     `mapstructure:"session"`
	Publish      PublishConfig     `mapstructure:"publish"`
	Rewrite      RewriteConfig     `mapstructure:"rewrite"`
	Storage      StorageConfig     `mapstructure:"storage"`
	Media        MediaConfig       `mapstructure:"media"`
	Logging      LoggingConfig     `mapstructure:"logging"`
	Resource     ResourceConfig    `mapstructure:"resource"`
	Reports      ReportsConfig     `mapstructure:"reports"`
	Headers      map[string]string `mapstructure:"headers"`
	KeywordsFile string            `mapstructure:"keywords_file"`

	// 实际读取的配置文件路径
	File string `mapstructure:"-"`
}

// BrowserConfig 浏览器配置
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	Bin               string        `mapstructure:"bin"`
	Stealth           bool          `mapstructure:"stealth"`
	MaxPages          int           `mapstructure:"max_pages"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
}

// CrawlConfig 搜索与详情抓取配置
type CrawlConfig struct {
	Pages    int           `mapstructure:"pages"` // 每个关键词搜索的页数
	Kinds    []string      `mapstructure:"kinds"` // article / video
	DelayMin time.Duration `mapstructure:"delay_min"`
	DelayMax time.Duration `mapstructure:"delay_max"`
}

// SessionConfig 账号登录配置
type SessionConfig struct {
	MaxCodeAttempts int           `mapstructure:"max_code_attempts"`
	NoCodeBackoff   time.Duration `mapstructure:"no_code_backoff"`
	StepTimeout     time.Duration `mapstructure:"step_timeout"`
}

// PublishConfig 发布配置
type PublishConfig struct {
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	StepTimeout      time.Duration `mapstructure:"step_timeout"`
	ConfirmRetries   int           `mapstructure:"confirm_retries"`
	MinContentLength int           `mapstructure:"min_content_length"`
	MaxUploaderFans  int           `mapstructure:"max_uploader_fans"`
	RewriteTitle     bool          `mapstructure:"rewrite_title"`
	RewriteContent   bool          `mapstructure:"rewrite_content"`
	CoverFallback    string        `mapstructure:"cover_fallback"`
	VideoCover       string        `mapstructure:"video_cover"`
	UploadTimeout    time.Duration `mapstructure:"upload_timeout"`
	CoverDir         string        `mapstructure:"cover_dir"`
}

// RewriteConfig LLM 改写服务配置 (OpenAI 兼容接口)
type RewriteConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	Temperature   float64       `mapstructure:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // sqlite | postgres
	DSN    string `mapstructure:"dsn"`
}

// MediaConfig 视频/图片下载配置
type MediaConfig struct {
	Dir           string        `mapstructure:"dir"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	MaxBodySizeMB int           `mapstructure:"max_body_size_mb"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	NoColor  bool           `mapstructure:"no_color"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// ResourceConfig 资源监控配置 (MB)
type ResourceConfig struct {
	SafetyReserveMemoryMB int `mapstructure:"safety_reserve_memory_mb"`
	PageMemoryUsageMB     int `mapstructure:"page_memory_usage_mb"`
	CPULoadThreshold      int `mapstructure:"cpu_load_threshold"`
	MaxPagesLimit         int `mapstructure:"max_pages_limit"`
}

// ReportsConfig 运行报告配置
type ReportsConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoadConfig 加载配置文件
// 配置文件缺失或格式错误都是致命错误, 返回 *models.ConfigError
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".toutiao-repost"))
		}
	}

	setDefaults(v)

	// 密钥类配置可以放在环境变量里
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if err := validateFileSize(configPath); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		path := configPath
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			path = "configs/config.yaml"
			err = fmt.Errorf("未找到配置文件, 请先运行 init 生成: %w", err)
		}
		return nil, &models.ConfigError{FilePath: path, Cause: err}
	}

	used := v.ConfigFileUsed()
	if configPath == "" {
		if err := validateFileSize(used); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, &models.ConfigError{FilePath: used, Cause: fmt.Errorf("配置绑定失败: %w", err)}
	}
	config.File = used
	if config.Headers == nil {
		config.Headers = make(map[string]string)
	}

	// 关键词文件相对于配置文件所在目录
	if config.KeywordsFile != "" && !filepath.IsAbs(config.KeywordsFile) {
		if _, err := os.Stat(config.KeywordsFile); os.IsNotExist(err) {
			config.KeywordsFile = filepath.Join(filepath.Dir(used), config.KeywordsFile)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, &models.ConfigError{FilePath: used, Cause: err}
	}
	return &config, nil
}

// validateFileSize 验证配置文件大小是否在限制内
func validateFileSize(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &models.ConfigError{FilePath: path, Cause: err}
	}
	if info.Size() > MaxConfigFileSize {
		return &models.ConfigError{
			FilePath: path,
			Cause:    fmt.Errorf("配置文件过大: %d 字节 (最大 %d 字节)", info.Size(), MaxConfigFileSize),
		}
	}
	return nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("keywords_file", "keywords.yaml")

	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.max_pages", 4)
	v.SetDefault("browser.navigation_timeout", "3m")

	v.SetDefault("crawl.pages", 3)
	v.SetDefault("crawl.kinds", []string{"article"})
	v.SetDefault("crawl.delay_min", "1500ms")
	v.SetDefault("crawl.delay_max", "3500ms")

	v.SetDefault("session.max_code_attempts", 5)
	v.SetDefault("session.no_code_backoff", "60s")
	v.SetDefault("session.step_timeout", "30s")

	v.SetDefault("publish.max_concurrent", 2)
	v.SetDefault("publish.step_timeout", "5m")
	v.SetDefault("publish.confirm_retries", 3)
	v.SetDefault("publish.min_content_length", 100)
	v.SetDefault("publish.max_uploader_fans", 100000)
	v.SetDefault("publish.rewrite_title", true)
	v.SetDefault("publish.rewrite_content", true)
	v.SetDefault("publish.cover_fallback", "")
	v.SetDefault("publish.video_cover", "")
	v.SetDefault("publish.upload_timeout", "5m")
	v.SetDefault("publish.cover_dir", "covers")

	v.SetDefault("rewrite.base_url", "https://api.openai.com/v1")
	v.SetDefault("rewrite.api_key", "")
	v.SetDefault("rewrite.model", "gpt-4o-mini")
	v.SetDefault("rewrite.temperature", 0.7)
	v.SetDefault("rewrite.max_tokens", 4096)
	v.SetDefault("rewrite.max_concurrent", 8)
	v.SetDefault("rewrite.timeout", "2m")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "data/toutiao.db")

	v.SetDefault("media.dir", "downloads")
	v.SetDefault("media.max_concurrent", 3)
	v.SetDefault("media.max_body_size_mb", 512)
	v.SetDefault("media.timeout", "10m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.no_color", false)
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	v.SetDefault("resource.safety_reserve_memory_mb", 1024)
	v.SetDefault("resource.page_memory_usage_mb", 150)
	v.SetDefault("resource.cpu_load_threshold", 200)
	v.SetDefault("resource.max_pages_limit", 8)

	v.SetDefault("reports.dir", "reports")
}

// Validate 检查取值范围
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Browser.MaxPages >= 1, "browser.max_pages 必须 >= 1, 当前 %d", c.Browser.MaxPages)
	check(c.Browser.NavigationTimeout > 0, "browser.navigation_timeout 必须为正数")
	check(c.Crawl.Pages >= 1, "crawl.pages 必须 >= 1, 当前 %d", c.Crawl.Pages)
	check(c.Crawl.DelayMin >= 0 && c.Crawl.DelayMin <= c.Crawl.DelayMax,
		"crawl.delay_min(%s) 不能大于 crawl.delay_max(%s)", c.Crawl.DelayMin, c.Crawl.DelayMax)
	for _, k := range c.Crawl.Kinds {
		if _, err := models.ParseKind(k); err != nil {
			errs = append(errs, fmt.Errorf("crawl.kinds: %w", err))
		}
	}
	check(c.Session.MaxCodeAttempts >= 1, "session.max_code_attempts 必须 >= 1")
	check(c.Session.NoCodeBackoff >= 0, "session.no_code_backoff 不能为负")
	check(c.Publish.MaxConcurrent >= 1, "publish.max_concurrent 必须 >= 1")
	check(c.Publish.StepTimeout > 0, "publish.step_timeout 必须为正数")
	check(c.Publish.ConfirmRetries >= 1, "publish.confirm_retries 必须 >= 1")
	check(c.Rewrite.MaxConcurrent >= 1, "rewrite.max_concurrent 必须 >= 1")
	check(c.Rewrite.MaxTokens >= 1, "rewrite.max_tokens 必须 >= 1")
	check(c.Rewrite.Temperature >= 0 && c.Rewrite.Temperature <= 2, "rewrite.temperature 必须在 [0, 2] 之间")
	if err := models.ValidateURL(c.Rewrite.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("rewrite.base_url: %w", err))
	}
	check(c.Media.MaxConcurrent >= 1, "media.max_concurrent 必须 >= 1")
	check(c.Storage.DSN != "", "storage.dsn 不能为空")
	switch c.Storage.Driver {
	case "sqlite", "postgres", "pgx":
	default:
		errs = append(errs, fmt.Errorf("storage.driver 无效: %s (有效值: sqlite, postgres)", c.Storage.Driver))
	}
	return errors.Join(errs...)
}

// Kinds 解析后的内容类型列表
func (c *Config) Kinds() []models.Kind {
	out := make([]models.Kind, 0, len(c.Crawl.Kinds))
	for _, k := range c.Crawl.Kinds {
		kind, err := models.ParseKind(k)
		if err == nil {
			out = append(out, kind)
		}
	}
	if len(out) == 0 {
		out = append(out, models.KindArticle)
	}
	return out
}

// LogConfig 转为日志系统使用的配置
// 未配置的字段使用 utils.DefaultLogConfig
func (c *Config) LogConfig() utils.LogConfig {
	lc := utils.DefaultLogConfig()
	if c.Logging.Level != "" {
		lc.Level = c.Logging.Level
	}
	if c.Logging.LogDir != "" {
		lc.LogDir = c.Logging.LogDir
	}
	if c.Logging.Rotation.MaxSize > 0 {
		lc.MaxSize = c.Logging.Rotation.MaxSize
	}
	if c.Logging.Rotation.MaxBackups > 0 {
		lc.MaxBackups = c.Logging.Rotation.MaxBackups
	}
	if c.Logging.Rotation.MaxAge > 0 {
		lc.MaxAge = c.Logging.Rotation.MaxAge
	}
	lc.Compress = c.Logging.Rotation.Compress
	lc.NoColor = c.Logging.NoColor
	return lc
}
