package commands

import (
	"context"
	"time"
	"triagem/lib/cadastre"
	"triagem/lib/configutil"
	"triagem/lib/ledger"
	"triagem/lib/notify"
	"triagem/lib/portal"
	"triagem/lib/restyutil"
	"triagem/lib/retry"
	"triagem/lib/scrapers/core"
	"triagem/lib/scrapers/maps"
	"triagem/lib/scrapers/siatu"
	"triagem/lib/scrapers/sigede"
	"triagem/lib/scrapers/sisctm"
	"triagem/lib/scrapers/urbano"
	"triagem/lib/telemetry"
	"triagem/services/triage"
)

type PortalsConfig struct {
	Siatu  siatu.Config  `json:"siatu"`
	Sigede sigede.Config `json:"sigede"`
	Sisctm sisctm.Config `json:"sisctm"`
	Urbano urbano.Config `json:"urbano"`
	Maps   maps.Config   `json:"maps"`
}

type RetryConfig struct {
	Attempts     int     `json:"attempts"`
	DelaySeconds float64 `json:"delay_seconds"`
}

func (c RetryConfig) policy() retry.Policy {
	return retry.Fixed(c.Attempts, time.Duration(c.DelaySeconds*float64(time.Second)))
}

type Config struct {
	ResultsDir  string `json:"results_dir"`
	LogFile     string `json:"log_file"`
	OpenResults *bool  `json:"open_results"`
	// DumpHttp is a directory where every portal exchange is written,
	// empty disables it.
	DumpHttp               string  `json:"dump_http"`
	RequestsPerSecond      float64 `json:"requests_per_second"`
	RequestTimeoutSeconds  int     `json:"request_timeout_seconds"`
	DownloadTimeoutSeconds int     `json:"download_timeout_seconds"`
	CloudflareBypass       bool    `json:"cloudflare_bypass"`
	PerfStatsSeconds       int     `json:"perf_stats_seconds"`
	PortalUrl              string  `json:"portal_url"`

	Portals   PortalsConfig                      `json:"portals"`
	Retry     map[cadastre.SourceName]RetryConfig `json:"retry"`
	Telemetry telemetry.Config                   `json:"telemetry"`
	Ledger    ledger.Config                      `json:"ledger"`
	Notify    notify.SmtpConfig                  `json:"notify"`
}

func DefaultConfig() Config {
	open := true
	return Config{
		ResultsDir:             "resultados",
		LogFile:                "logs.txt",
		OpenResults:            &open,
		RequestsPerSecond:      2,
		RequestTimeoutSeconds:  30,
		DownloadTimeoutSeconds: 30,
		PerfStatsSeconds:       30,
		Portals: PortalsConfig{
			Siatu:  siatu.DefaultConfig(),
			Sigede: sigede.DefaultConfig(),
			Sisctm: sisctm.DefaultConfig(),
			Urbano: urbano.DefaultConfig(),
			Maps:   maps.DefaultConfig(),
		},
		Retry: map[cadastre.SourceName]RetryConfig{
			cadastre.SOURCE_BASIC_PLAN: {Attempts: 4, DelaySeconds: 5},
		},
		Ledger: ledger.Config{File: ".triagem/historico.db"},
	}
}

// LoadConfig reads name with its local override on top of the defaults.
func LoadConfig(name string) (Config, error) {
	return configutil.ReadConfigOr(name, DefaultConfig())
}

func (c Config) ShouldOpenResults() bool {
	return c.OpenResults == nil || *c.OpenResults
}

func (c Config) retryPolicy(source cadastre.SourceName) retry.Policy {
	r, ok := c.Retry[source]
	if !ok || r.Attempts <= 0 {
		return triage.DefaultRetry(source)
	}
	return r.policy()
}

func (c Config) clientOptions() (core.ClientOptions, error) {
	opts := core.ClientOptions{
		RequestsPerSecond: c.RequestsPerSecond,
		Timeout:           time.Duration(c.RequestTimeoutSeconds) * time.Second,
		DownloadWait: retry.Within(
			time.Duration(c.DownloadTimeoutSeconds)*time.Second,
			250*time.Millisecond,
		),
		CloudflareBypass: c.CloudflareBypass,
	}
	if c.DumpHttp != "" {
		output, err := restyutil.NewFilesystemOutput(c.DumpHttp)
		if err != nil {
			return core.ClientOptions{}, err
		}
		opts.Output = output
	}
	return opts, nil
}

// Sources wires every portal driver to the source it reads.
func (c Config) Sources(opts core.ClientOptions) []triage.SourceConfig {
	return []triage.SourceConfig{
		{
			Name:  cadastre.SOURCE_BASIC_PLAN,
			Open:  portal.Extractors(siatu.Open(c.Portals.Siatu, opts)),
			Retry: c.retryPolicy(cadastre.SOURCE_BASIC_PLAN),
		},
		{
			Name:  cadastre.SOURCE_PROJECT,
			Open:  portal.Extractors(urbano.Open(c.Portals.Urbano, opts)),
			Retry: c.retryPolicy(cadastre.SOURCE_PROJECT),
		},
		{
			Name:  cadastre.SOURCE_CADASTRAL_MAPPING,
			Open:  portal.Extractors(sisctm.Open(c.Portals.Sisctm, opts)),
			Retry: c.retryPolicy(cadastre.SOURCE_CADASTRAL_MAPPING),
		},
		{
			Name:  cadastre.SOURCE_IMAGERY,
			Open:  portal.Extractors(maps.Open(c.Portals.Maps, opts)),
			Retry: c.retryPolicy(cadastre.SOURCE_IMAGERY),
		},
	}
}

func (c Config) Resolver(opts core.ClientOptions) triage.Resolver {
	return triage.Resolver{Open: portal.Listers(sigede.Open(c.Portals.Sigede, opts))}
}

// openLedger returns a nil ledger when history is disabled.
func (c Config) openLedger(ctx context.Context) (*ledger.Ledger, error) {
	if !c.Ledger.Enabled() {
		return nil, nil
	}
	l, err := ledger.Open(ctx, c.Ledger)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
