package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	packdlhttp "github.com/tanq16/packdl/internal/downloaders/http"
	"github.com/tanq16/packdl/internal/output"
	"github.com/tanq16/packdl/internal/utils"
	"gopkg.in/yaml.v3"
)

// Config is the merged result of defaults, config file, environment and flags.
type Config struct {
	Timeout        time.Duration
	KATimeout      time.Duration
	UserAgent      string
	ProxyURL       string
	ProxyUsername  string
	ProxyPassword  string
	Headers        map[string]string
	Token          string
	ChunkSize      int64
	ChunkThreshold int64
	Connections    int
	Workers        int
	Retries        int
	RetryBackoff   time.Duration
	BandwidthLimit int64
	NoResume       bool
	S3Profile      string
}

func Default() Config {
	dl := packdlhttp.DefaultOptions()
	return Config{
		Timeout:        3 * time.Minute,
		KATimeout:      90 * time.Second,
		Headers:        map[string]string{},
		ChunkSize:      dl.ChunkSize,
		ChunkThreshold: dl.ChunkThreshold,
		Connections:    dl.Connections,
		Retries:        dl.Retries,
		RetryBackoff:   dl.RetryBackoff,
		S3Profile:      "default",
	}
}

// yamlConfig mirrors Config with sizes and durations as strings; pointers mark
// numbers where zero is a meaningful value.
type yamlConfig struct {
	Timeout     string            `yaml:"timeout"`
	KATimeout   string            `yaml:"keep_alive_timeout"`
	UserAgent   string            `yaml:"user_agent"`
	Proxy       yamlProxy         `yaml:"proxy"`
	Headers     map[string]string `yaml:"headers"`
	Token       string            `yaml:"token"`
	ChunkSize   string            `yaml:"chunk_size"`
	Threshold   string            `yaml:"threshold"`
	Connections *int              `yaml:"connections"`
	Workers     *int              `yaml:"workers"`
	Retry       yamlRetry         `yaml:"retry"`
	Limit       string            `yaml:"limit"`
	NoResume    bool              `yaml:"no_resume"`
	S3Profile   string            `yaml:"s3_profile"`
}

type yamlProxy struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type yamlRetry struct {
	Attempts *int   `yaml:"attempts"`
	Backoff  string `yaml:"backoff"`
}

// LoadFromFile reads a YAML config file on top of Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	if err := setDuration(&cfg.Timeout, yc.Timeout, "timeout"); err != nil {
		return Config{}, err
	}
	if err := setDuration(&cfg.KATimeout, yc.KATimeout, "keep_alive_timeout"); err != nil {
		return Config{}, err
	}
	if err := setDuration(&cfg.RetryBackoff, yc.Retry.Backoff, "retry.backoff"); err != nil {
		return Config{}, err
	}
	if err := setSize(&cfg.ChunkSize, yc.ChunkSize, "chunk_size"); err != nil {
		return Config{}, err
	}
	if err := setSize(&cfg.ChunkThreshold, yc.Threshold, "threshold"); err != nil {
		return Config{}, err
	}
	if err := setSize(&cfg.BandwidthLimit, yc.Limit, "limit"); err != nil {
		return Config{}, err
	}
	if yc.UserAgent != "" {
		cfg.UserAgent = yc.UserAgent
	}
	if yc.Proxy.URL != "" {
		cfg.ProxyURL = yc.Proxy.URL
		cfg.ProxyUsername = yc.Proxy.Username
		cfg.ProxyPassword = yc.Proxy.Password
	}
	for k, v := range yc.Headers {
		cfg.Headers[k] = v
	}
	if yc.Token != "" {
		cfg.Token = yc.Token
	}
	if yc.Connections != nil {
		cfg.Connections = *yc.Connections
	}
	if yc.Workers != nil {
		cfg.Workers = *yc.Workers
	}
	if yc.Retry.Attempts != nil {
		cfg.Retries = *yc.Retry.Attempts
	}
	cfg.NoResume = yc.NoResume
	if yc.S3Profile != "" {
		cfg.S3Profile = yc.S3Profile
	}
	return cfg, nil
}

// LoadFromEnv applies PACKDL_* environment variables.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("PACKDL_HEADERS"); v != "" {
		if c.Headers == nil {
			c.Headers = map[string]string{}
		}
		for k, hv := range utils.ParseHeaderArgs(strings.Split(v, ";")) {
			c.Headers[k] = hv
		}
	}
	if v := os.Getenv("PACKDL_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("PACKDL_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv("PACKDL_PROXY"); v != "" {
		c.ProxyURL = v
	}
	if v := os.Getenv("PACKDL_S3_PROFILE"); v != "" {
		c.S3Profile = v
	}
	if err := setSize(&c.ChunkSize, os.Getenv("PACKDL_CHUNK_SIZE"), "PACKDL_CHUNK_SIZE"); err != nil {
		return err
	}
	if err := setSize(&c.ChunkThreshold, os.Getenv("PACKDL_THRESHOLD"), "PACKDL_THRESHOLD"); err != nil {
		return err
	}
	if err := setSize(&c.BandwidthLimit, os.Getenv("PACKDL_LIMIT"), "PACKDL_LIMIT"); err != nil {
		return err
	}
	for name, dst := range map[string]*int{
		"PACKDL_CONNECTIONS": &c.Connections,
		"PACKDL_WORKERS":     &c.Workers,
		"PACKDL_RETRIES":     &c.Retries,
	} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		*dst = n
	}
	if v := os.Getenv("PACKDL_NO_RESUME"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse PACKDL_NO_RESUME: %w", err)
		}
		c.NoResume = b
	}
	return nil
}

func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkThreshold < 0 {
		return fmt.Errorf("threshold must not be negative, got %d", c.ChunkThreshold)
	}
	if c.Connections < 0 || c.Workers < 0 || c.Retries < 0 {
		return fmt.Errorf("connections, workers and retries must not be negative")
	}
	if c.BandwidthLimit < 0 {
		return fmt.Errorf("limit must not be negative, got %d", c.BandwidthLimit)
	}
	return nil
}

func (c Config) HTTPClientConfig() utils.HTTPClientConfig {
	return utils.HTTPClientConfig{
		Timeout:        c.Timeout,
		KATimeout:      c.KATimeout,
		ProxyURL:       c.ProxyURL,
		ProxyUsername:  c.ProxyUsername,
		ProxyPassword:  c.ProxyPassword,
		UserAgent:      c.UserAgent,
		Headers:        c.Headers,
		BearerToken:    c.Token,
		HighThreadMode: c.Connections == 0 || c.Connections > 5,
	}
}

func (c Config) DownloaderOptions() packdlhttp.Options {
	return packdlhttp.Options{
		ChunkSize:      c.ChunkSize,
		ChunkThreshold: c.ChunkThreshold,
		Connections:    c.Connections,
		Retries:        c.Retries,
		RetryBackoff:   c.RetryBackoff,
		BandwidthLimit: c.BandwidthLimit,
	}
}

func setDuration(dst *time.Duration, v, name string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = d
	return nil
}

func setSize(dst *int64, v, name string) error {
	if v == "" {
		return nil
	}
	n, err := output.ParseBytes(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = n
	return nil
}
