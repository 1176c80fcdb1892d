package cmd

import (
	"os"
	"os/user"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"mcpconnect/internal/app"
	"mcpconnect/internal/config"
	"mcpconnect/internal/formatting"
)

// envUser names the acting user when --user is not given.
const envUser = "MCPCONNECT_USER"

// commandFlags holds the persistent flags shared by every command.
type commandFlags struct {
	ConfigPath   string
	Debug        bool
	Quiet        bool
	OutputFormat string
	NoHeaders    bool
	User         string
}

func (f *commandFlags) register(cmd *cobra.Command) {
	defaultPath, _ := config.GetDefaultConfigPath()
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.ConfigPath, "config-path", defaultPath, "Configuration directory")
	pf.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	pf.BoolVarP(&f.Quiet, "quiet", "q", false, "Suppress progress indicators and logs")
	pf.StringVarP(&f.OutputFormat, "output", "o", "table", "Output format (table, json, yaml)")
	pf.BoolVar(&f.NoHeaders, "no-headers", false, "Suppress header row in table output")
	pf.StringVar(&f.User, "user", defaultUser(), "User whose servers are used (env: "+envUser+")")
}

func defaultUser() string {
	if u := os.Getenv(envUser); u != "" {
		return u
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

// openApp bootstraps the application for a one-shot command. Logs go to
// stderr only with --debug so tables stay clean.
func (f *commandFlags) openApp() (*app.Application, error) {
	cfg := app.NewConfig(f.Debug, f.Quiet || !f.Debug, f.ConfigPath)
	return app.NewApplication(cfg)
}

func (f *commandFlags) printer(cmd *cobra.Command) (*formatting.Printer, error) {
	format, err := formatting.ParseFormat(f.OutputFormat)
	if err != nil {
		return nil, err
	}
	return formatting.NewPrinter(cmd.OutOrStdout(), format, f.NoHeaders), nil
}

// withSpinner runs fn behind a progress spinner on stderr. The spinner is
// skipped for --quiet and for machine-readable output.
func withSpinner[T any](cmd *cobra.Command, f *commandFlags, message string, fn func() T) T {
	if f.Quiet || f.OutputFormat != string(formatting.FormatTable) {
		return fn()
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
	s.Suffix = " " + message
	s.Start()
	defer s.Stop()
	return fn()
}
