// Package config reads command-line flags and environment variables into a
// validated Config.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dickeyy/pr-flow-metrics/types"
)

const (
	ProviderADO    = "ado"
	ProviderGitHub = "github"

	FormatText = "text"
	FormatJSON = "json"
)

type Config struct {
	Provider      string
	Organization  string
	Project       string
	RepoNames     []string
	RepoIDs       []string
	IncludeHidden bool
	Days          int
	AllHistory    bool
	IgnoreBots    bool
	Concurrency   int
	ThreadWorkers int
	Timeout       time.Duration
	MaxRetries    int
	Format        string
	DatabaseURL   string
	Debug         bool

	// Credentials. For Azure DevOps, PAT wins over Token when both are set.
	PAT   string
	Token string
}

// LookbackDays returns nil when all history was requested.
func (c Config) LookbackDays() *int {
	if c.AllHistory {
		return nil
	}
	days := c.Days
	return &days
}

// stringList collects a repeatable flag. Each value may hold a comma list.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

// Load parses args (without the program name) and reads credentials through
// getenv. flag.ErrHelp is returned as is when -h was given.
func Load(args []string, getenv func(string) string, output io.Writer) (Config, error) {
	var (
		cfg   Config
		names stringList
		ids   stringList
	)

	fs := flag.NewFlagSet("pr-flow-metrics", flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	fs.StringVar(&cfg.Provider, "provider", ProviderADO, "Source to read from: ado or github")
	fs.StringVar(&cfg.Organization, "org", "", "Azure DevOps organization, or GitHub owner")
	fs.StringVar(&cfg.Project, "project", "", "Azure DevOps project")
	fs.Var(&names, "repo-name", "Repository name to analyze (repeatable, comma separated). Default: all")
	fs.Var(&ids, "repo-id", "Repository id to analyze (repeatable, comma separated)")
	fs.BoolVar(&cfg.IncludeHidden, "include-hidden", false, "Include hidden (ADO) or archived (GitHub) repositories")
	fs.IntVar(&cfg.Days, "days", 30, "Number of days of pull request history to analyze")
	fs.BoolVar(&cfg.AllHistory, "all-history", false, "Analyze every pull request regardless of age")
	fs.BoolVar(&cfg.IgnoreBots, "ignore-bots", false, "Ignore bot and service accounts when finding the first response")
	fs.IntVar(&cfg.Concurrency, "concurrency", 4, "Number of repositories processed at once")
	fs.IntVar(&cfg.ThreadWorkers, "thread-workers", 8, "Number of comment thread fetches in flight per repository")
	fs.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "Timeout for each HTTP request")
	fs.IntVar(&cfg.MaxRetries, "max-retries", 5, "Total attempts for a transient API failure")
	fs.StringVar(&cfg.Format, "format", FormatText, "Report format: text or json")
	fs.StringVar(&cfg.DatabaseURL, "database-url", getenv("DATABASE_URL"), "Postgres URL to persist the run to (optional)")
	fs.BoolVar(&cfg.Debug, "debug", strings.EqualFold(getenv("LOG_LEVEL"), "debug"), "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return Config{}, err
		}
		return Config{}, &types.Error{Kind: types.KindConfiguration, Op: "parse flags", Err: err}
	}
	if fs.NArg() > 0 {
		return Config{}, types.ConfigurationError("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.Organization = strings.TrimSpace(cfg.Organization)
	cfg.Project = strings.TrimSpace(cfg.Project)
	cfg.Format = strings.ToLower(strings.TrimSpace(cfg.Format))
	cfg.RepoNames = names
	cfg.RepoIDs = ids

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	switch cfg.Provider {
	case ProviderADO:
		cfg.PAT = strings.TrimSpace(getenv("ADO_PAT"))
		cfg.Token = strings.TrimSpace(getenv("ADO_TOKEN"))
		if cfg.PAT == "" && cfg.Token == "" {
			return Config{}, types.AuthenticationError(
				"missing Azure DevOps credential: set ADO_PAT (personal access token) or ADO_TOKEN (bearer token)")
		}
	case ProviderGitHub:
		cfg.Token = strings.TrimSpace(getenv("GITHUB_TOKEN"))
		if cfg.Token == "" {
			return Config{}, types.AuthenticationError("missing GitHub credential: set GITHUB_TOKEN")
		}
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Provider {
	case ProviderADO:
		if c.Organization == "" || c.Project == "" {
			return types.ConfigurationError("-org and -project are required for the ado provider")
		}
	case ProviderGitHub:
		if c.Organization == "" {
			return types.ConfigurationError("-org is required for the github provider")
		}
	default:
		return types.ConfigurationError("unknown provider %q: expected %s or %s", c.Provider, ProviderADO, ProviderGitHub)
	}

	if !c.AllHistory && c.Days <= 0 {
		return types.ConfigurationError("invalid value for -days: expected an integer greater than 0, got %d", c.Days)
	}
	if c.Concurrency < 1 {
		return positive("concurrency", c.Concurrency)
	}
	if c.ThreadWorkers < 1 {
		return positive("thread-workers", c.ThreadWorkers)
	}
	if c.MaxRetries < 1 {
		return positive("max-retries", c.MaxRetries)
	}
	if c.Timeout <= 0 {
		return types.ConfigurationError("invalid value for -timeout: expected a positive duration, got %s", c.Timeout)
	}
	if c.Format != FormatText && c.Format != FormatJSON {
		return types.ConfigurationError("unknown format %q: expected %s or %s", c.Format, FormatText, FormatJSON)
	}
	return nil
}

func positive(name string, v int) error {
	return types.ConfigurationError("invalid value for -%s: expected an integer greater than 0, got %d", name, v)
}

// String renders the config for logs with credentials redacted.
func (c Config) String() string {
	return fmt.Sprintf("provider=%s org=%s project=%s repos=%v ids=%v days=%d all_history=%t concurrency=%d",
		c.Provider, c.Organization, c.Project, c.RepoNames, c.RepoIDs, c.Days, c.AllHistory, c.Concurrency)
}
