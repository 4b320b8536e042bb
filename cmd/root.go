package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/synget/synget/internal/config"
	synapsedl "github.com/synget/synget/internal/downloaders/synapse"
	"github.com/synget/synget/internal/output"
	"github.com/synget/synget/internal/scheduler"
	"github.com/synget/synget/internal/synapse"
	"github.com/synget/synget/internal/utils"
)

var (
	cfgFile     string
	authToken   string
	workers     int
	connections int
	partSize    string
	rateLimit   string
	timeout     time.Duration
	kaTimeout   time.Duration
	userAgent   string
	proxyURL    string
	headers     []string
	awsDirect   bool
	awsProfile  string
	awsRegion   string
	noVerify    bool
	debug       bool

	cfg config.Config
)

var SyngetVersion = "dev"

var rootCmd = &cobra.Command{
	Use:           "synget",
	Short:         "synget downloads Synapse files with many concurrent range requests",
	Version:       SyngetVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initLogging()
		var err error
		cfg, err = loadConfig()
		return err
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if ctx.Err() != nil {
			output.PrintWarning("Interrupted, unfinished downloads were removed")
		}
		output.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default ~/"+config.FileName+")")
	flags.StringVar(&authToken, "token", "", "Synapse personal access token (or SYNAPSE_AUTH_TOKEN)")
	flags.IntVarP(&workers, "workers", "w", 0, fmt.Sprintf("Number of files to download in parallel (default %d)", utils.DefaultWorkers))
	flags.IntVarP(&connections, "connections", "c", 0, fmt.Sprintf("Concurrent range requests per file (default %d)", utils.DefaultConnections))
	flags.StringVar(&partSize, "part-size", "", "Bytes per range request, e.g. 8MB")
	flags.StringVar(&rateLimit, "limit-rate", "", "Bandwidth cap per file, e.g. 20MB")
	flags.DurationVarP(&timeout, "timeout", "t", 0, fmt.Sprintf("HTTP request timeout (default %s)", utils.DefaultTimeout))
	flags.DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 0, fmt.Sprintf("Keep-alive timeout (default %s)", utils.DefaultKATimeout))
	flags.StringVarP(&userAgent, "user-agent", "a", "", "User agent")
	flags.StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL")
	flags.StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers ('Name: value'); can be repeated")
	flags.BoolVar(&awsDirect, "aws-direct", false, "Sign S3 URLs with local AWS credentials instead of Synapse")
	flags.StringVar(&awsProfile, "aws-profile", "", "AWS profile for --aws-direct")
	flags.StringVar(&awsRegion, "aws-region", "", "AWS region for --aws-direct")
	flags.BoolVar(&noVerify, "no-verify", false, "Skip the MD5 check after download")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newGetCmd(), newHandleCmd(), newBatchCmd())
}

// initLogging sends logs to a file while the live display owns the
// terminal.
func initLogging() {
	var w io.Writer = os.Stderr
	if output.IsTerminal(os.Stdout) {
		if f, err := os.OpenFile(utils.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			w = f
		}
	}
	utils.InitLogger(debug, w)
}

func loadConfig() (config.Config, error) {
	c, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	flagCfg := config.Config{
		AuthToken:   authToken,
		Workers:     workers,
		Connections: connections,
		Timeout:     timeout,
		KATimeout:   kaTimeout,
		UserAgent:   userAgent,
		ProxyURL:    proxyURL,
		AWS:         config.AWSConfig{Direct: awsDirect, Profile: awsProfile, Region: awsRegion},
	}
	if partSize != "" {
		if flagCfg.PartSize, err = utils.ParseBytes(partSize); err != nil {
			return config.Config{}, fmt.Errorf("--part-size: %w", err)
		}
	}
	if rateLimit != "" {
		if flagCfg.RateLimit, err = utils.ParseBytes(rateLimit); err != nil {
			return config.Config{}, fmt.Errorf("--limit-rate: %w", err)
		}
	}
	c = c.Merge(flagCfg)
	if err := c.Validate(); err != nil {
		return config.Config{}, err
	}
	log.Debug().Str("op", "cmd/root").Msgf("config: %d workers, %d connections, %s parts, direct s3 %t", c.Workers, c.Connections, utils.FormatBytes(uint64(c.PartSize)), c.AWS.Direct)
	return c, nil
}

// prepareJobs fills the settings every job shares. Connections per file
// shrink so that all workers together stay under utils.MaxConnections.
func prepareJobs(c config.Config, jobs []utils.SyngetJob) []utils.SyngetJob {
	perJob := c.Connections
	if c.Workers*perJob > utils.MaxConnections {
		perJob = max(utils.MaxConnections/c.Workers, 1)
	}
	httpCfg := c.HTTPClientConfig(utils.ParseHeaderArgs(headers))
	for i := range jobs {
		job := &jobs[i]
		job.JobType = "synapse"
		job.Connections = perJob
		job.PartSize = c.PartSize
		job.RateLimit = c.RateLimit
		job.Retry = c.Retry
		job.AWSProfile = c.AWS.Profile
		job.AWSRegion = c.AWS.Region
		job.HTTPClientConfig = httpCfg
		if job.OutputPath == "" && c.OutputDir != "" {
			job.OutputPath = c.OutputDir + string(os.PathSeparator)
		}
		if job.Metadata == nil {
			job.Metadata = make(map[string]any)
		}
	}
	return jobs
}

func runJobs(ctx context.Context, jobs []utils.SyngetJob) error {
	jobs = prepareJobs(cfg, jobs)
	client := synapse.NewClient(cfg.SynapseConfig(utils.ParseHeaderArgs(headers)))
	downloader := synapsedl.New(client, synapsedl.Options{
		Direct:     cfg.AWS.Direct,
		AWSExpires: cfg.AWS.Expires,
		URLBuffer:  cfg.URLBuffer,
		VerifyMD5:  !noVerify,
	})

	s := scheduler.New(output.NewManager(os.Stdout))
	s.Register("synapse", downloader)
	return s.Run(ctx, jobs, cfg.Workers)
}
