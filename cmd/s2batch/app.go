package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"s2batch/internal/bands"
	"s2batch/internal/catalog"
	"s2batch/internal/catalog/dhus"
	"s2batch/internal/config"
	"s2batch/internal/logging"
	"s2batch/internal/raster"
	"s2batch/internal/raster/gdalstack"
)

const version = "0.1.0"

// app holds the CLI's collaborators. Tests replace the factories.
type app struct {
	v       *viper.Viper
	cfgFile string
	verbose bool

	stdout io.Writer
	stderr io.Writer

	isTTY      func() bool
	prompt     func(label string, mask bool) (string, error)
	newCatalog func(cfg config.Config, obs *obsStack) (catalog.Catalog, error)
	newStacker func() raster.Stacker
	now        func() time.Time
}

func newApp() *app {
	return &app{
		v:          viper.New(),
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		isTTY:      isTTY,
		prompt:     promptValue,
		newCatalog: newHubCatalog,
		newStacker: func() raster.Stacker { return gdalstack.New() },
		now:        time.Now,
	}
}

// isTTY checks if the current environment has a TTY available
func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func promptValue(label string, mask bool) (string, error) {
	p := promptui.Prompt{Label: label}
	if mask {
		p.Mask = '*'
	}
	return p.Run()
}

func newHubCatalog(cfg config.Config, obs *obsStack) (catalog.Catalog, error) {
	hubCfg := dhus.DefaultConfig()
	if cfg.HubURL != "" {
		hubCfg.BaseURL = cfg.HubURL
	}
	if cfg.CallTimeout > 0 {
		hubCfg.CallTimeout = cfg.CallTimeout
	}
	hubCfg.Username = cfg.Credentials.Username
	hubCfg.Password = cfg.Credentials.Password
	client, err := dhus.New(hubCfg,
		dhus.WithLogger(logging.NewComponentLogger("dhus")),
		dhus.WithMetrics(obs.metrics),
		dhus.WithCatalogMetrics(obs.catalogMetrics),
		dhus.WithTracer(obs.tracer),
	)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "s2batch",
		Short: "Sentinel-2 Level-1C batch download and compositing",
		Long: fmt.Sprintf(`%s

Queries the Copernicus hub for Level-1C products, keeps one product per
acquisition date (and tile), downloads the archives, unpacks them and stacks
the selected bands of every granule into one composite raster.

%s
  s2batch run --output ./s2 --begin 20200401 --end NOW --cloud-max 30 --tiles "11SQS;11SPS" --bands "02;03;04;08"
  s2batch query --output ./s2 --begin 20200401 --aoi fields.geojson
  s2batch composite --output ./s2 --bands "02;03;04;08"
  s2batch pending --output ./s2`, bold("s2batch "+version), bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfigFile()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default s2batch.yaml in . or $HOME)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().StringP("output", "o", "", "output directory")

	root.AddCommand(
		a.pipelineCommand("run", "Query, download, unpack and composite", config.ModeAcquire, stepsFull),
		a.pipelineCommand("query", "Query and deduplicate, write the metadata csv", config.ModeAcquire, stepsQuery),
		a.pipelineCommand("fetch", "Query, deduplicate and download", config.ModeAcquire, stepsFetch),
		a.pipelineCommand("composite", "Unpack and composite an existing output directory", config.ModeComposite, stepsComposite),
		a.bandsCommand(),
		a.pendingCommand(),
	)
	return root
}

func (a *app) loadConfigFile() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.SetConfigName("s2batch")
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath(".")
		a.v.AddConfigPath("$HOME")
	}
	a.v.SetEnvPrefix("S2BATCH")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && a.cfgFile == "" {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// bindFlags maps dashed flag names onto the underscored config keys.
func (a *app) bindFlags(flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Name == "config" || f.Name == "verbose" {
			return
		}
		err = a.v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	return err
}

// loadInput merges flags, environment and config file into an Input.
func (a *app) loadInput(cmd *cobra.Command) (config.Input, error) {
	if err := a.bindFlags(cmd.Flags()); err != nil {
		return config.Input{}, err
	}
	var in config.Input
	if err := a.v.Unmarshal(&in); err != nil {
		return config.Input{}, fmt.Errorf("decode config: %w", err)
	}
	return in, nil
}

// resolveCredentials reads S2BATCH_USERNAME and S2BATCH_PASSWORD, then the
// config file, and finally prompts on a terminal.
func (a *app) resolveCredentials() (config.Credentials, error) {
	creds, err := config.CredentialsFromEnv()
	if err != nil {
		return creds, err
	}
	if creds.Username == "" {
		creds.Username = a.v.GetString("username")
	}
	if creds.Password == "" {
		creds.Password = a.v.GetString("password")
	}
	if creds.Complete() || !a.isTTY() {
		return creds, nil
	}
	if creds.Username == "" {
		if creds.Username, err = a.prompt("Hub username", false); err != nil {
			return creds, err
		}
	}
	if creds.Password == "" {
		if creds.Password, err = a.prompt("Hub password", true); err != nil {
			return creds, err
		}
	}
	return creds, nil
}

func (a *app) bandsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bands <selection>",
		Short: "Print the composite name fragment for a band selection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := bands.ParseSelection(args[0])
			if err != nil {
				return &ExitCodeError{Code: 2, Err: err}
			}
			ordered, err := bands.Compact(sel.Numbers())
			if err != nil {
				return err
			}
			canonical, err := bands.Canonical(sel.Numbers())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "selection  B%s\n", ordered)
			fmt.Fprintf(a.stdout, "legacy     B%s\n", canonical)
			return nil
		},
	}
}
