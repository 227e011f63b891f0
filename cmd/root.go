package cmd

import (
	"context"
	"fmt"
	u "net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tanq16/packdl/internal/config"
	packdlhttp "github.com/tanq16/packdl/internal/downloaders/http"
	"github.com/tanq16/packdl/internal/downloaders/s3"
	"github.com/tanq16/packdl/internal/output"
	"github.com/tanq16/packdl/internal/scheduler"
	"github.com/tanq16/packdl/internal/utils"
)

var (
	configPath    string
	debug         bool
	timeout       time.Duration
	kaTimeout     time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	headers       []string
	token         string
	chunkSize     string
	threshold     string
	connections   int
	workers       int
	retries       int
	limit         string
	noResume      bool
	s3Profile     string
)

// cfg is the merged configuration, filled before any subcommand runs.
var cfg config.Config

var PackdlVersion = "dev"

var rootCmd = &cobra.Command{
	Use:           "packdl",
	Short:         "packdl is a concurrent resumable downloader",
	Version:       PackdlVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		output.InitLogger(debug)
		loaded, err := loadConfig(cmd.Flags())
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		output.PrintError(err.Error())
		os.Exit(1)
	}
}

func init() {
	d := config.Default()
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", d.Timeout, "Connection timeout (eg. 5s, 10m)")
	rootCmd.PersistentFlags().DurationVarP(&kaTimeout, "keep-alive-timeout", "k", d.KATimeout, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	rootCmd.PersistentFlags().StringVarP(&userAgent, "user-agent", "a", "", "User agent (\"randomize\" picks one per request)")
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.PersistentFlags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token sent with every request")
	rootCmd.PersistentFlags().StringVar(&chunkSize, "chunk-size", output.FormatBytes(d.ChunkSize), "Bytes per ranged request (eg. 4MiB)")
	rootCmd.PersistentFlags().StringVar(&threshold, "threshold", output.FormatBytes(d.ChunkThreshold), "Files at or below this size are streamed")
	rootCmd.PersistentFlags().IntVarP(&connections, "connections", "c", d.Connections, "Concurrent chunks per file (0 for one per chunk)")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", d.Workers, "Files downloaded in parallel (0 for all at once)")
	rootCmd.PersistentFlags().IntVarP(&retries, "retries", "r", d.Retries, "Retries per chunk or stream")
	rootCmd.PersistentFlags().StringVar(&limit, "limit", "", "Bandwidth limit per second (eg. 10MiB)")
	rootCmd.PersistentFlags().BoolVar(&noResume, "no-resume", false, "Ignore partial files and restart downloads")
	rootCmd.PersistentFlags().StringVar(&s3Profile, "s3-profile", d.S3Profile, "AWS profile for s3:// sources")

	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newProbeCmd())
	rootCmd.AddCommand(newCleanCmd())
}

// loadConfig layers defaults, config file, environment and explicitly set flags.
func loadConfig(fs *pflag.FlagSet) (config.Config, error) {
	c := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return config.Config{}, err
		}
		c = loaded
	}
	if err := c.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	if err := applyFlags(fs, &c); err != nil {
		return config.Config{}, err
	}
	return c, c.Validate()
}

func applyFlags(fs *pflag.FlagSet, c *config.Config) error {
	if fs.Changed("timeout") {
		c.Timeout = timeout
	}
	if fs.Changed("keep-alive-timeout") {
		c.KATimeout = kaTimeout
	}
	if fs.Changed("user-agent") {
		c.UserAgent = userAgent
	}
	if fs.Changed("proxy") {
		c.ProxyURL = proxyURL
		// credentials embedded in the proxy URL move to the username/password fields
		if parsed, err := u.Parse(proxyURL); err == nil && parsed.User != nil {
			c.ProxyUsername = parsed.User.Username()
			if password, set := parsed.User.Password(); set {
				c.ProxyPassword = password
			}
			parsed.User = nil
			c.ProxyURL = parsed.String()
		}
	}
	if fs.Changed("proxy-username") {
		c.ProxyUsername = proxyUsername
	}
	if fs.Changed("proxy-password") {
		c.ProxyPassword = proxyPassword
	}
	if fs.Changed("header") {
		if c.Headers == nil {
			c.Headers = map[string]string{}
		}
		for k, v := range utils.ParseHeaderArgs(headers) {
			c.Headers[k] = v
		}
	}
	if fs.Changed("token") {
		c.Token = token
	}
	for name, dst := range map[string]*int64{
		"chunk-size": &c.ChunkSize,
		"threshold":  &c.ChunkThreshold,
		"limit":      &c.BandwidthLimit,
	} {
		if !fs.Changed(name) {
			continue
		}
		v, _ := fs.GetString(name)
		n, err := output.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("--%s: %w", name, err)
		}
		*dst = n
	}
	if fs.Changed("connections") {
		c.Connections = connections
	}
	if fs.Changed("workers") {
		c.Workers = workers
	}
	if fs.Changed("retries") {
		c.Retries = retries
	}
	if fs.Changed("no-resume") {
		c.NoResume = noResume
	}
	if fs.Changed("s3-profile") {
		c.S3Profile = s3Profile
	}
	return nil
}

func newDownloader() *packdlhttp.Downloader {
	return packdlhttp.NewDownloader(utils.NewPackdlHTTPClient(cfg.HTTPClientConfig()), cfg.DownloaderOptions())
}

func newScheduler() *scheduler.Scheduler {
	return scheduler.New(newDownloader(), scheduler.Options{
		Workers:  cfg.Workers,
		NoResume: cfg.NoResume,
		Resolve:  s3.Resolver(cfg.S3Profile),
	})
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
