package main

import (
	"flag"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v3"

	"phpScopeExporter/config"
	"phpScopeExporter/tags"
)

const envVarPrefix = "DD"

// Help strings for command line arguments
var (
	modeHelp = fmt.Sprintf("Working mode: %s uploads through a local agent, "+
		"%s uploads straight to the intake.", config.ModeAgent, config.ModeAgentless)
	siteHelp           = "Intake site used in agentless mode."
	apiKeyHelp         = "API key used in agentless mode."
	agentHostHelp      = "Hostname or IP of the local agent."
	agentPortHelp      = fmt.Sprintf("Port of the local agent. Default is %d.", config.DefaultAgentPort)
	agentURLHelp       = "Full URL of the local agent (http, https or unix). Takes precedence over host and port."
	tagsHelp           = "Tags in format key=value or key:value. Repeat the flag or separate with commas."
	uploadTimeoutHelp  = "Maximum time allowed for one upload."
	debugHelp          = "Enable debug logging."
	configFileHelp     = "Plain config file with one 'flag value' pair per line."
	profileHelp        = "Path to the pprof file to upload (gzipped or not)."
	phpspyHelp         = "Path to phpspy output to convert and upload, or - for stdin."
	rateHzHelp         = "Sampling rate in Hz phpspy ran with."
	excludeHelp        = "Regex pattern to exclude phpspy frames."
	codeProvenanceHelp = "Path to the code provenance JSON document. Leave empty to disable."
	startHelp          = "Start of the profiled period (RFC3339). Defaults to the profile's own time."
	finishHelp         = "End of the profiled period (RFC3339). Defaults to the profile's own time."
)

// cliConfig holds the flags shared by every subcommand.
type cliConfig struct {
	cfg  *config.Config
	tags multiFlag
}

func newCLIConfig() *cliConfig {
	return &cliConfig{cfg: config.NewDefault()}
}

// register adds the shared flags to fs.
func (c *cliConfig) register(fs *flag.FlagSet) {
	// Please keep the parameters ordered alphabetically in the source-code.
	fs.StringVar(&c.cfg.Agent.Host, "agent-host", "", agentHostHelp)
	fs.StringVar(&c.cfg.APIKey, "api-key", "", apiKeyHelp)
	fs.String("config", "", configFileHelp)
	fs.BoolVar(&c.cfg.Debug, "debug", false, debugHelp)
	fs.StringVar(&c.cfg.Mode, "mode", c.cfg.Mode, modeHelp)
	fs.StringVar(&c.cfg.Site, "site", c.cfg.Site, siteHelp)
	fs.Var(&c.tags, "tags", tagsHelp)
	fs.StringVar(&c.cfg.Agent.Port, "trace-agent-port", "", agentPortHelp)
	fs.StringVar(&c.cfg.Agent.URL, "trace-agent-url", "", agentURLHelp)
	fs.DurationVar(&c.cfg.UploadTimeout, "upload-timeout", c.cfg.UploadTimeout, uploadTimeoutHelp)
}

// options lets every flag also come from a DD_ prefixed environment variable
// or from the file named by -config.
func options() []ff.Option {
	return []ff.Option{
		ff.WithEnvVarPrefix(envVarPrefix),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithAllowMissingConfigFile(true),
	}
}

// applyTags moves the -tags values into cfg.Tags. Values that are not of the
// key=value or key:value form are passed on with an empty value so that the
// tag builder reports them.
func (c *cliConfig) applyTags() {
	for _, raw := range c.tags {
		pair, ok := tags.Parse(raw)
		if !ok {
			pair = tags.Pair{Name: raw}
		}
		c.cfg.Tags[pair.Name] = pair.Value
	}
}

// pairs returns cfg.Tags sorted by name.
func (c *cliConfig) pairs() []tags.Pair {
	pairs := make([]tags.Pair, 0, len(c.cfg.Tags))
	names := make([]string, 0, len(c.cfg.Tags))
	for name := range c.cfg.Tags {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		pairs = append(pairs, tags.Pair{Name: name, Value: c.cfg.Tags[name]})
	}
	return pairs
}

func (c *cliConfig) timeoutMillis() uint64 {
	if c.cfg.UploadTimeout <= 0 {
		return 0
	}
	return uint64(c.cfg.UploadTimeout / time.Millisecond)
}

// multiFlag implements flag.Value interface to support multiple flag values
// for the same flag (e.g., multiple -tags flags)
type multiFlag []string

func (f *multiFlag) String() string {
	return fmt.Sprint(*f)
}

func (f *multiFlag) Set(value string) error {
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*f = append(*f, v)
		}
	}
	return nil
}

// timeFlag is an optional RFC3339 timestamp.
type timeFlag struct {
	t time.Time
}

func (f *timeFlag) String() string {
	if f.t.IsZero() {
		return ""
	}
	return f.t.Format(time.RFC3339Nano)
}

func (f *timeFlag) Set(value string) error {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return fmt.Errorf("invalid time %q: %w", value, err)
	}
	f.t = t
	return nil
}
