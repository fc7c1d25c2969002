// Package config 读取 html2epub 的配置文件和环境变量.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"html2epub/utils"
)

const EnvPrefix = "HTML2EPUB"

type BookConfig struct {
	Creator   string `mapstructure:"creator"`
	Language  string `mapstructure:"language"`
	Publisher string `mapstructure:"publisher"`
	Rights    string `mapstructure:"rights"`
}

type FetchConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	Retries   int           `mapstructure:"retries"`
	UserAgent string        `mapstructure:"user_agent"`
	// 为空时自动识别网页编码
	Encoding string `mapstructure:"encoding"`
	// 使用无头浏览器抓取网页
	JavaScript bool `mapstructure:"javascript"`
}

type BuildConfig struct {
	ImageWorkers  int    `mapstructure:"image_workers"`
	FixZip        bool   `mapstructure:"fix_zip"`
	Transliterate bool   `mapstructure:"transliterate"`
	Templates     string `mapstructure:"templates"`
	EpubDir       string `mapstructure:"epub_dir"`
	Output        string `mapstructure:"output"`
	KeepWorkDir   bool   `mapstructure:"keep_work_dir"`
}

type Config struct {
	Book    BookConfig    `mapstructure:"book"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Build   BuildConfig   `mapstructure:"build"`
	Logging LoggingConfig `mapstructure:"logging"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("book.creator", "html2epub")
	v.SetDefault("book.language", "en")
	v.SetDefault("book.publisher", "html2epub")
	v.SetDefault("book.rights", "")

	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.retries", 3)
	v.SetDefault("fetch.user_agent", utils.DefaultUserAgent)
	v.SetDefault("fetch.encoding", "")
	v.SetDefault("fetch.javascript", false)

	v.SetDefault("build.image_workers", 4)
	v.SetDefault("build.fix_zip", false)
	v.SetDefault("build.transliterate", false)
	v.SetDefault("build.templates", "")
	v.SetDefault("build.epub_dir", "")
	v.SetDefault("build.output", ".")
	v.SetDefault("build.keep_work_dir", false)

	v.SetDefault("logging.console.level", "normal")
	v.SetDefault("logging.file.level", "none")
	v.SetDefault("logging.file.destination", "")
	v.SetDefault("logging.file.mode", "append")
}

// Load 读取配置. path 为空时依次查找 ./html2epub.yaml 和 $HOME/.config/html2epub/html2epub.yaml,
// 都不存在时使用默认值. 环境变量 HTML2EPUB_<SECTION>_<KEY> 优先于配置文件.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("html2epub")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/html2epub")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be positive, got %v", c.Fetch.Timeout)
	}
	if c.Fetch.Retries < 0 {
		return fmt.Errorf("fetch.retries must not be negative, got %d", c.Fetch.Retries)
	}
	if c.Build.ImageWorkers < 1 {
		return fmt.Errorf("build.image_workers must be at least 1, got %d", c.Build.ImageWorkers)
	}
	return c.Logging.validate()
}

// RestyOptions 返回抓取网页和图片使用的 HTTP 客户端参数
func (f *FetchConfig) RestyOptions() utils.RestyOptions {
	return utils.RestyOptions{
		Timeout:    f.Timeout,
		RetryCount: f.Retries,
		UserAgent:  f.UserAgent,
	}
}
