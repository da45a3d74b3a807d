package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
		Mode string `yaml:"mode"`
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"` // mysql, postgres, sqlite
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		Path     string `yaml:"path"` // sqlite 数据库文件
	} `yaml:"database"`

	Redis struct {
		URL      string `yaml:"url"` // 为空时使用进程内推送
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	JWT struct {
		Secret     string `yaml:"secret"`
		ExpireTime int    `yaml:"expire_time"`
	} `yaml:"jwt"`

	Log LogConfig `yaml:"log"`

	WeChat struct {
		AppID     string `yaml:"app_id"`
		AppSecret string `yaml:"app_secret"`
		LoginURL  string `yaml:"login_url"` // jscode2session 地址，测试时可替换
	} `yaml:"wechat"`

	Ark     ArkConfig     `yaml:"ark"`
	Storage StorageConfig `yaml:"storage"`

	Binding struct {
		CodeTTL       time.Duration `yaml:"code_ttl"`       // 绑定码有效期
		SweepInterval time.Duration `yaml:"sweep_interval"` // 过期绑定码清理周期
	} `yaml:"binding"`
}

type LogConfig struct {
	Level      string `yaml:"level"`       // 日志级别: debug, info, warn, error
	Format     string `yaml:"format"`      // 日志格式: json, text
	Output     string `yaml:"output"`      // 输出方式: console, file, both
	FilePath   string `yaml:"file_path"`   // 日志文件路径
	MaxSize    int    `yaml:"max_size"`    // 单个日志文件最大大小(MB)
	MaxBackups int    `yaml:"max_backups"` // 保留的旧日志文件数量
	MaxAge     int    `yaml:"max_age"`     // 日志文件保留天数
	Compress   bool   `yaml:"compress"`    // 是否压缩旧日志文件
}

// ArkConfig 豆包（火山方舟）对话补全接口配置
type ArkConfig struct {
	APIURL              string        `yaml:"api_url"`
	APIKey              string        `yaml:"api_key"`
	ModelName           string        `yaml:"model_name"`
	MaxCompletionTokens int           `yaml:"max_completion_tokens"`
	PromptText          string        `yaml:"prompt_text"`
	ReasoningEffort     string        `yaml:"reasoning_effort"`
	Stream              bool          `yaml:"stream"`
	StreamTimeout       time.Duration `yaml:"stream_timeout"`
	Timeout             time.Duration `yaml:"timeout"`
	PartialInterval     time.Duration `yaml:"partial_interval"` // 流式答案写库的最小间隔
	InlineImage         bool          `yaml:"inline_image"`     // 以 base64 data URL 发送图片
}

type StorageConfig struct {
	Root         string        `yaml:"root"`
	PublicURL    string        `yaml:"public_url"` // 外部可访问的服务地址，用于生成临时链接
	Secret       string        `yaml:"secret"`
	UploadTTL    time.Duration `yaml:"upload_ttl"`
	DownloadTTL  time.Duration `yaml:"download_ttl"`
	MaxImageSize int64         `yaml:"max_image_size"` // 字节
}

var GlobalConfig *Config

func Load() (*Config, error) {
	if GlobalConfig != nil {
		return GlobalConfig, nil
	}

	// 获取配置文件路径
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		workDir, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("获取工作目录失败: %v", err)
		}

		configPath = filepath.Join(workDir, "config", "config.yaml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = filepath.Join(workDir, "config.yaml")
		}
	}

	configFile, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败 %s: %v", configPath, err)
	}

	config, err := Parse(configFile)
	if err != nil {
		return nil, err
	}

	fmt.Printf("加载配置文件: %s\n", configPath)

	GlobalConfig = config
	return config, nil
}

// Parse 解析 YAML 配置并填充默认值
func Parse(data []byte) (*Config, error) {
	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %v", err)
	}

	// 密钥允许通过环境变量注入
	if config.Ark.APIKey == "" {
		config.Ark.APIKey = os.Getenv("ARK_API_KEY")
	}

	setDefaults(config)
	return config, nil
}

// Defaults 返回只包含默认值的配置
func Defaults() *Config {
	config := &Config{}
	setDefaults(config)
	return config
}

func setDefaults(config *Config) {
	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}
	if config.Server.Mode == "" {
		config.Server.Mode = "debug"
	}

	if config.Database.Driver == "" {
		config.Database.Driver = "mysql"
	}
	if config.Database.Path == "" {
		config.Database.Path = "data/douBao.db"
	}

	if config.Redis.PoolSize == 0 {
		config.Redis.PoolSize = 10
	}

	if config.JWT.ExpireTime == 0 {
		config.JWT.ExpireTime = 7 * 24 * 3600
	}

	// 日志配置默认值
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
	if config.Log.Output == "" {
		config.Log.Output = "console"
	}
	if config.Log.FilePath == "" {
		config.Log.FilePath = "logs/app.log"
	}
	if config.Log.MaxSize == 0 {
		config.Log.MaxSize = 100 // 100MB
	}
	if config.Log.MaxBackups == 0 {
		config.Log.MaxBackups = 3
	}
	if config.Log.MaxAge == 0 {
		config.Log.MaxAge = 28 // 28天
	}

	if config.WeChat.LoginURL == "" {
		config.WeChat.LoginURL = "https://api.weixin.qq.com/sns/jscode2session"
	}

	// 豆包配置默认值
	if config.Ark.APIURL == "" {
		config.Ark.APIURL = "https://ark.cn-beijing.volces.com/api/v3/chat/completions"
	}
	if config.Ark.ModelName == "" {
		config.Ark.ModelName = "doubao-seed-1-6-251015"
	}
	if config.Ark.MaxCompletionTokens == 0 {
		config.Ark.MaxCompletionTokens = 65535
	}
	if config.Ark.PromptText == "" {
		config.Ark.PromptText = "请详细分析这张图片的内容。"
	}
	if config.Ark.StreamTimeout == 0 {
		config.Ark.StreamTimeout = 120 * time.Second
	}
	if config.Ark.Timeout == 0 {
		config.Ark.Timeout = 180 * time.Second
	}
	if config.Ark.PartialInterval == 0 {
		config.Ark.PartialInterval = 500 * time.Millisecond
	}

	// 存储配置默认值
	if config.Storage.Root == "" {
		config.Storage.Root = "data/blobs"
	}
	if config.Storage.PublicURL == "" {
		config.Storage.PublicURL = "http://127.0.0.1:" + config.Server.Port
	}
	if config.Storage.Secret == "" {
		config.Storage.Secret = config.JWT.Secret
	}
	if config.Storage.UploadTTL == 0 {
		config.Storage.UploadTTL = 5 * time.Minute
	}
	if config.Storage.DownloadTTL == 0 {
		config.Storage.DownloadTTL = 10 * time.Minute
	}
	if config.Storage.MaxImageSize == 0 {
		config.Storage.MaxImageSize = 10 * 1024 * 1024
	}

	if config.Binding.CodeTTL == 0 {
		config.Binding.CodeTTL = 30 * time.Minute
	}
	if config.Binding.SweepInterval == 0 {
		config.Binding.SweepInterval = time.Minute
	}
}
