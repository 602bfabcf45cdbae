package config

import (
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/tracekit/tracekit/log"
)

const (
	HostKeyKnownHosts = "known-hosts"
	HostKeyAcceptAny  = "accept-any"
)

type Logging struct {
	Quiet    bool   `mapstructure:"quiet"`
	Verbose  string `mapstructure:"verbose"`
	ErrorLog string `mapstructure:"error-log"`
}

// Level maps the logging flags to a log level. Quiet wins over Verbose.
func (l Logging) Level() log.Level {
	if l.Quiet {
		return log.LevelError
	}
	return log.LevelFromName(l.Verbose)
}

func (l *Logging) BindFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&l.Quiet, "quiet", "q", l.Quiet, "Print errors and warnings only")
	if l.Verbose == "" {
		l.Verbose = "info"
	}
	cmd.Flags().StringVar(&l.Verbose, "verbose", l.Verbose, "Log level (error|info|trace|debug|silent)")
	cmd.Flags().StringVar(&l.ErrorLog, "error-log", l.ErrorLog, "Also append error lines with timestamps to this file")
	cmd.Flags().String(SettingsFlag, "", "Path to a settings file (yaml, json or toml)")
}

// Apply sets up the console log on console and, when ErrorLog is set, the
// error file mirror. Callers close the mirror with log.CloseErrorFile.
func (l Logging) Apply(console io.Writer) error {
	log.Init(console, l.Level())
	if err := log.InitErrorFile(l.ErrorLog); err != nil {
		return log.Errorf("failed to open error log: %w", err)
	}
	return nil
}

type AnalyzerConfig struct {
	Logging       `mapstructure:",squash"`
	Filename      string `mapstructure:"filename"`
	Conversations bool   `mapstructure:"tcp-conversations"`
	Pairs         bool   `mapstructure:"pairs-mac-ip"`
	CaptureInfo   bool   `mapstructure:"capture-info"`
}

func (c *AnalyzerConfig) BindFlags(cmd *cobra.Command) {
	c.Logging.BindFlags(cmd)
	cmd.Flags().StringVarP(&c.Filename, "filename", "f", c.Filename, "Capture file to calculate statistics on")
	cmd.Flags().BoolVarP(&c.Conversations, "tcp-conversations", "t", c.Conversations, "Show TCP conversations")
	cmd.Flags().BoolVarP(&c.Pairs, "pairs-mac-ip", "p", c.Pairs, "Show mapping of IP to MAC addresses")
	cmd.Flags().BoolVarP(&c.CaptureInfo, "capture-info", "c", c.CaptureInfo, "Show capture file properties")
}

func (c *AnalyzerConfig) Validate() error {
	if c.Filename == "" {
		return invalidf("--filename is required")
	}
	return nil
}

type CreatorConfig struct {
	Logging          `mapstructure:",squash"`
	Configuration    string        `mapstructure:"configuration"`
	OutputDirectory  string        `mapstructure:"output-directory"`
	Interface        string        `mapstructure:"interface"`
	Delay            int           `mapstructure:"delay"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"`
	CaptureDirectory string        `mapstructure:"capture-directory"`
	GracePeriod      time.Duration `mapstructure:"grace-period"`
	StopTimeout      time.Duration `mapstructure:"stop-timeout"`
	HostKeyPolicy    string        `mapstructure:"host-key-policy"`
	KnownHosts       string        `mapstructure:"known-hosts"`
	SSHTimeout       time.Duration `mapstructure:"ssh-timeout"`
}

var DefaultCreatorConfig = CreatorConfig{
	Configuration:    "/vagrant/configuration/trace-creator.yml",
	OutputDirectory:  "/vagrant/capture/",
	Interface:        "enp0s8",
	Delay:            3,
	Username:         "vagrant",
	Password:         "vagrant",
	CaptureDirectory: "/tmp/capture/",
	GracePeriod:      time.Second,
	StopTimeout:      10 * time.Second,
	HostKeyPolicy:    HostKeyKnownHosts,
	SSHTimeout:       15 * time.Second,
}

func NewCreatorConfig() CreatorConfig {
	return DefaultCreatorConfig
}

func (c *CreatorConfig) BindFlags(cmd *cobra.Command) {
	c.Logging.BindFlags(cmd)
	cmd.Flags().StringVarP(&c.Configuration, "configuration", "c", c.Configuration, "Path to the task configuration file")
	cmd.Flags().StringVarP(&c.OutputDirectory, "output-directory", "o", c.OutputDirectory, "Output directory for captured files")
	cmd.Flags().StringVarP(&c.Interface, "interface", "i", c.Interface, "Capture network interface")
	cmd.Flags().IntVarP(&c.Delay, "delay", "d", c.Delay, "Delay to stop capture after the command finished (in seconds)")
	cmd.Flags().StringVarP(&c.Username, "username", "u", c.Username, "Username for SSH connections to remote hosts")
	cmd.Flags().StringVarP(&c.Password, "password", "p", c.Password, "Password for SSH connections to remote hosts")
	cmd.Flags().StringVar(&c.CaptureDirectory, "capture-directory", c.CaptureDirectory, "Temporary directory tshark writes into")
	cmd.Flags().DurationVar(&c.GracePeriod, "grace-period", c.GracePeriod, "Maximum wait for the capture to become ready")
	cmd.Flags().DurationVar(&c.StopTimeout, "stop-timeout", c.StopTimeout, "Wait for the capture to exit before killing it")
	cmd.Flags().StringVar(&c.HostKeyPolicy, "host-key-policy", c.HostKeyPolicy, "SSH host key policy (known-hosts|accept-any)")
	cmd.Flags().StringVar(&c.KnownHosts, "known-hosts", c.KnownHosts, "known_hosts file (default ~/.ssh/known_hosts)")
	cmd.Flags().DurationVar(&c.SSHTimeout, "ssh-timeout", c.SSHTimeout, "SSH connection timeout")
}

func (c *CreatorConfig) Validate() error {
	if c.Configuration == "" {
		return invalidf("--configuration must not be empty")
	}
	if c.OutputDirectory == "" {
		return invalidf("--output-directory must not be empty")
	}
	if c.CaptureDirectory == "" {
		return invalidf("--capture-directory must not be empty")
	}
	if c.Interface == "" {
		return invalidf("--interface must not be empty")
	}
	if c.Delay < 0 {
		return invalidf("--delay must not be negative")
	}
	if c.GracePeriod < 0 || c.StopTimeout < 0 || c.SSHTimeout < 0 {
		return invalidf("durations must not be negative")
	}
	switch c.HostKeyPolicy {
	case HostKeyKnownHosts, HostKeyAcceptAny:
	default:
		return invalidf("unknown --host-key-policy %q (known-hosts|accept-any)", c.HostKeyPolicy)
	}
	return nil
}

// ValidateCredentials checks the SSH credentials. Only tasks with remote
// configuration steps need them.
func (c *CreatorConfig) ValidateCredentials() error {
	if c.Username == "" || c.Password == "" {
		return invalidf("--username and --password are required for remote configuration")
	}
	return nil
}

type NormalizerConfig struct {
	Logging       `mapstructure:",squash"`
	InputFile     string `mapstructure:"input-file"`
	OutputFile    string `mapstructure:"output-file"`
	Configuration string `mapstructure:"configuration"`
	WorkDir       string `mapstructure:"work-dir"`
}

var DefaultNormalizerConfig = NormalizerConfig{
	Configuration: "./trace-normalizer.json",
}

func NewNormalizerConfig() NormalizerConfig {
	return DefaultNormalizerConfig
}

func (c *NormalizerConfig) BindFlags(cmd *cobra.Command) {
	c.Logging.BindFlags(cmd)
	cmd.Flags().StringVarP(&c.InputFile, "input-file", "i", c.InputFile, "Capture file to normalize")
	cmd.Flags().StringVarP(&c.OutputFile, "output-file", "o", c.OutputFile, "File name for the normalized capture")
	cmd.Flags().StringVarP(&c.Configuration, "configuration", "c", c.Configuration, "JSON with timestamp shift and IP/MAC mappings")
	cmd.Flags().StringVar(&c.WorkDir, "work-dir", c.WorkDir, "Directory for intermediate files (default system temp)")
}

func (c *NormalizerConfig) Validate() error {
	if c.InputFile == "" {
		return invalidf("--input-file is required")
	}
	if c.OutputFile == "" {
		return invalidf("--output-file is required")
	}
	if c.Configuration == "" {
		return invalidf("--configuration must not be empty")
	}
	return nil
}
