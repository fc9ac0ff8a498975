package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/atomikpanda/wayup/internal/ageutil"
	"github.com/atomikpanda/wayup/internal/audit"
	"github.com/atomikpanda/wayup/internal/color"
	"github.com/atomikpanda/wayup/internal/config"
	werrors "github.com/atomikpanda/wayup/internal/errors"
	"github.com/atomikpanda/wayup/internal/executor"
	"github.com/atomikpanda/wayup/internal/logging"
	"github.com/atomikpanda/wayup/internal/platform"
	"github.com/atomikpanda/wayup/internal/report"
	"github.com/atomikpanda/wayup/internal/runner"
	"github.com/atomikpanda/wayup/internal/selection"
)

// Process exit codes besides those of report.ExitCode.
const (
	exitUsage        = 2
	exitPrecondition = 3
	exitManifest     = 4
)

var (
	configFile string
	verbosity  int
	dryRun     bool
	assumeYes  bool
	jsonOut    bool

	source    string
	manifest  string
	templates string
	scripts   string
	with      []string
	without   []string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := buildRoot()
	err := root.ExecuteContext(ctx)
	if err != nil {
		var ee *exitError
		if !errors.As(err, &ee) || ee.err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", color.BoldRed("error:"), err)
		}
	}
	os.Exit(exitCode(err))
}

// exitError carries a non-zero exit code for a run that already reported
// its outcome.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return report.ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var ue *usageError
	if errors.As(err, &ue) {
		return exitUsage
	}
	if errors.Is(err, selection.ErrAborted) {
		return report.ExitInterrupted
	}
	switch werrors.GetErrorCode(err) {
	case werrors.ErrPrecondition:
		return exitPrecondition
	case werrors.ErrManifest, werrors.ErrConfig:
		return exitManifest
	case werrors.ErrInterrupted:
		return report.ExitInterrupted
	}
	return 1
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "wayup",
		Short: "Install a Wayland desktop profile from a manifest",
		Long: `wayup installs a Wayland desktop (compositor, status bar, terminal,
editor and their configuration) from a declarative manifest. Existing
configuration is moved into a timestamped backup directory before it is
replaced, and every step is skipped when it is already in place.`,
		Example: `  wayup --dry-run
  wayup --source ~/src/desktop --with gaming
  wayup plan
  wayup log --limit 20`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return &usageError{fmt.Errorf("unknown command %q for %q", args[0], cmd.CommandPath())}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(verbosity, os.Stderr)
			color.Init(os.Stdout)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return install(cmd)
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err}
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "config file (default $XDG_CONFIG_HOME/wayup/config.toml)")
	pf.CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v info, -vv debug, -vvv trace)")
	pf.StringVar(&source, "source", "", "directory holding wayup.yaml, configs/ and scripts/")
	pf.StringVar(&manifest, "manifest", "", "manifest file (default <source>/wayup.yaml)")
	pf.StringVar(&templates, "templates", "", "config template directory (default <source>/configs)")
	pf.StringVar(&scripts, "scripts", "", "helper script directory (default <source>/scripts)")
	pf.StringSliceVar(&with, "with", nil, "include optional extras")
	pf.StringSliceVar(&without, "without", nil, "exclude optional extras")
	pf.BoolVarP(&assumeYes, "yes", "y", false, "do not prompt; use saved and default extras")

	root.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "show what would be done without changing anything")
	root.Flags().BoolVar(&jsonOut, "json", false, "print the report as JSON")

	root.AddCommand(
		planCmd(),
		platformCmd(),
		logCmd(),
		encryptCmd(),
		decryptCmd(),
		configCmd(),
	)
	return root
}

// loadConfig merges the config layers with the flags set on cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	overrides := map[string]any{}
	flags := cmd.Flags()
	for flag, key := range map[string]string{
		"source":    "source",
		"manifest":  "manifest",
		"templates": "templates",
		"scripts":   "scripts",
	} {
		if flags.Changed(flag) {
			v, _ := flags.GetString(flag)
			overrides[key] = v
		}
	}
	if flags.Changed("with") {
		overrides["extras.with"] = with
	}
	if flags.Changed("without") {
		overrides["extras.without"] = without
	}
	return config.Load(config.Options{File: configFile, Overrides: overrides})
}

func newRunner(cfg *config.Config, dry bool, interactive bool) *runner.Runner {
	r := runner.New(cfg, dry)
	if interactive && !assumeYes && isatty.IsTerminal(os.Stdin.Fd()) {
		r.Prompt = selection.HuhPrompt
	}
	return r
}

// --- install -----------------------------------------------------------------

func install(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	r := newRunner(cfg, dryRun, !jsonOut)
	if jsonOut {
		r.Out = os.Stderr
	}

	prep, err := r.Prepare()
	if err != nil {
		return err
	}
	rep := r.Apply(cmd.Context(), prep)

	if jsonOut {
		err = rep.WriteJSON(os.Stdout)
	} else {
		if color.Enabled {
			rep.Markdown = report.NewGlamourRenderer().Render
		}
		err = rep.Render(os.Stdout)
	}
	if err != nil {
		return err
	}
	if code := rep.ExitCode(); code != report.ExitOK {
		return &exitError{code: code}
	}
	return nil
}

// --- plan --------------------------------------------------------------------

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the resolved plan without executing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			prep, err := newRunner(cfg, true, false).Prepare()
			if err != nil {
				return err
			}
			fmt.Printf("%s (%s), extras: %s\n", prep.Release.Name, prep.Family, listOrNone(prep.Extras))
			runner.WritePlan(os.Stdout, prep.Plan)
			return nil
		},
	}
}

func listOrNone(s []string) string {
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, ", ")
}

// --- platform ----------------------------------------------------------------

func platformCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "platform",
		Short: "Print the detected OS family and native package manager",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rel, err := platform.ReadOSRelease(cfg.OSRelease)
			if err != nil {
				return werrors.Wrap(err, werrors.ErrPrecondition, "cannot identify the operating system")
			}
			family := rel.Family()
			writePlatform(os.Stdout, rel, family)
			if family == "" {
				return werrors.Newf(werrors.ErrPrecondition, "unsupported distribution %q", rel.ID)
			}
			return nil
		},
	}
}

func writePlatform(w io.Writer, rel platform.Release, family string) {
	fmt.Fprintf(w, "release: %s\n", rel.Name)
	fmt.Fprintf(w, "id:      %s\n", rel.ID)
	if family == "" {
		fmt.Fprintf(w, "family:  %s\n", color.Red("unsupported"))
		return
	}
	fmt.Fprintf(w, "family:  %s\n", family)
	fmt.Fprintf(w, "manager: %s\n", platform.NativeManager(family))
}

// --- log ---------------------------------------------------------------------

func logCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the history of past runs",
		Example: `  wayup log
  wayup log --limit 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := audit.Path()
			entries, err := audit.Read(path, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("(no history)")
				return nil
			}
			writeLog(os.Stdout, entries)
			fmt.Printf("\nlog: %s\n", path)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries to show")
	return cmd
}

func writeLog(w io.Writer, entries []audit.Entry) {
	fmt.Fprintln(w, color.Bold(fmt.Sprintf("%-19s  %-22s  %s", "TIME", "STATUS", "ACTION")))
	fmt.Fprintln(w, color.Dim(strings.Repeat("-", 90)))
	for _, e := range entries {
		ts := e.Time.Local().Format(time.DateTime)
		status := string(e.Status)
		padded := fmt.Sprintf("%-22s", status)
		switch e.Status {
		case executor.Succeeded:
			padded = color.Green(padded)
		case executor.SucceededViaFallback:
			padded = color.Yellow(padded)
		case executor.Failed:
			padded = color.BoldRed(padded)
		case executor.Skipped:
			padded = color.Dim(padded)
		}
		line := fmt.Sprintf("%-19s  %s  %s", ts, padded, e.Action)
		if e.Error != "" {
			line += color.Dim(" (" + e.Error + ")")
		}
		fmt.Fprintln(w, line)
	}
}

// --- encrypt / decrypt -------------------------------------------------------

func encryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <file>",
		Short: "Encrypt a template file with the configured age key (writes <file>.age)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := ageKey(cmd)
			if err != nil {
				return err
			}
			src := args[0]
			dst := ageutil.EncryptedPath(src)
			fmt.Printf("encrypting %s -> %s\n", src, dst)
			return key.EncryptFile(src, dst)
		},
	}
}

func decryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt <file.age>",
		Short: "Decrypt an age-encrypted file (writes without the .age extension)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := ageKey(cmd)
			if err != nil {
				return err
			}
			src := args[0]
			dst := ageutil.PlainPath(src)
			if dst == src {
				return fmt.Errorf("%s does not end in %s", src, ageutil.Ext)
			}
			fmt.Printf("decrypting %s -> %s\n", src, dst)
			return key.DecryptFile(src, dst)
		},
	}
}

func ageKey(cmd *cobra.Command) (*ageutil.Key, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	key := cfg.AgeKey()
	if !key.Configured() {
		return nil, werrors.Newf(werrors.ErrConfig,
			"no age key configured; set age.identity or age.passphrase in %s, or set %sAGE_IDENTITY / %sAGE_PASSPHRASE",
			config.UserFile(), config.EnvPrefix, config.EnvPrefix)
	}
	return key, nil
}

// --- config ------------------------------------------------------------------

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			fmt.Print(cfg.String())
			return nil
		},
	}
}
