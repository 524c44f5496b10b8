// Package commands implements CLI command handlers for historian.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/historian/pkg/config"
	"github.com/Sumatoshi-tech/historian/pkg/llmprovider"
	"github.com/Sumatoshi-tech/historian/pkg/observability"
	"github.com/Sumatoshi-tech/historian/pkg/version"
)

// commonFlags holds the flags every subcommand that touches config shares.
type commonFlags struct {
	configFile string
	zipDir     string
	outputDir  string
	model      string
	debugTrace bool
	apiBaseURL string
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configFile, "config", "", "Configuration file path (default: historian.yaml in CWD or /etc/historian)")
	cmd.Flags().StringVar(&f.zipDir, "zip-dir", "", "Directory of timestamped zip snapshots (overrides config)")
	cmd.Flags().StringVar(&f.outputDir, "output-dir", "", "Output directory for reports and run state (overrides config)")
	cmd.Flags().StringVar(&f.model, "model", "", "Model engine name to use (overrides config's current_engine)")
	cmd.Flags().BoolVar(&f.debugTrace, "debug-trace", false, "Enable 100% trace sampling for debugging")
	cmd.Flags().StringVar(&f.apiBaseURL, "api-base-url", "", "Base URL of the OpenAI-compatible chat completions endpoint")
}

// loadConfig loads the config file and applies CLI overrides.
func loadConfig(f *commonFlags) (*config.Config, error) {
	cfg, err := config.LoadConfig(f.configFile)
	if err != nil {
		return nil, err
	}

	if f.zipDir != "" {
		cfg.ZipDirectory = f.zipDir
	}
	if f.outputDir != "" {
		cfg.Output.Directory = f.outputDir
	}
	if f.model != "" {
		cfg.CurrentEngine = f.model
	}

	return cfg, nil
}

// buildProvider constructs the LLM provider for a loaded config. The API key
// is read from HISTORIAN_API_KEY so it never appears on the command line or
// in a config file committed to source control.
func buildProvider(f *commonFlags) llmprovider.Provider {
	baseURL := f.apiBaseURL
	if baseURL == "" {
		baseURL = os.Getenv("HISTORIAN_API_BASE_URL")
	}

	return &llmprovider.HTTPProvider{
		BaseURL: baseURL,
		APIKey:  os.Getenv("HISTORIAN_API_KEY"),
	}
}

func initObservability(mode observability.AppMode, debugTrace bool) (observability.Providers, error) {
	cfg := observability.DefaultConfig()
	cfg.ServiceVersion = version.Version
	cfg.Mode = mode
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.OTLPHeaders = observability.ParseOTLPHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	cfg.OTLPInsecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"

	if debugTrace {
		cfg.DebugTrace = true
	}

	providers, err := observability.Init(cfg)
	if err != nil {
		return observability.Providers{}, fmt.Errorf("init observability: %w", err)
	}

	return providers, nil
}
