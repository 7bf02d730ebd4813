package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/arcvault/arcvault/internal/client"
	"github.com/arcvault/arcvault/internal/config"
	"github.com/arcvault/arcvault/internal/events"
)

var rootCmd = &cobra.Command{
	Use:   "arcvault",
	Short: "Encrypted local object store",
	Long: `Arcvault keeps files in a locally encrypted vault protected by a
master password, with optional recovery questions as a second,
independent unlock path.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initApp()
	},
}

var (
	cfgFile    string
	vaultDir   string
	jsonOutput bool
	verbose    bool

	cfg    *config.Config
	logger *events.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Config file path (default: arcvault.json in ., ~/.config/arcvault, ~/.arcvault)")
	rootCmd.PersistentFlags().StringVar(&vaultDir, "vault", "",
		"Vault directory (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
}

// Execute runs the CLI.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		if !jsonOutput {
			printError("%v", err)
		}
		return err
	}
	return nil
}

func initApp() error {
	loaded, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}
	cfg = loaded

	if vaultDir != "" {
		cfg.Vault.Dir = vaultDir
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if jsonOutput && cfg.Log.File == "" {
		// Keep stdout parseable; logs move to stderr by default anyway,
		// but drop the color codes.
		cfg.Log.Color = false
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	return nil
}

// newClient builds a locked client over the resolved config.
func newClient() (*client.Client, error) {
	return client.New(cfg, logger)
}

// openVault builds a client and unlocks it with the master password,
// taken from ARCVAULT_PASSWORD or prompted. The caller must Close it.
func openVault() (*client.Client, error) {
	c, err := newClient()
	if err != nil {
		return nil, err
	}

	if !c.Initialized() {
		_ = c.Close()
		return nil, fmt.Errorf("vault not initialized, run 'arcvault init' first")
	}

	password, err := resolvePassword("Master password: ")
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	stop := startSpinner("Unlocking vault...")
	err = c.Unlock(password)
	stop()
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// envPassword returns the scripting-mode master password, if set.
func envPassword() string {
	return os.Getenv("ARCVAULT_PASSWORD")
}

// resolvePassword takes the master password from the environment when
// set, otherwise prompts without echo.
func resolvePassword(prompt string) (string, error) {
	if pw := envPassword(); pw != "" {
		return pw, nil
	}
	return promptPassword(prompt)
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	// Read password without echo
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", err
	}
	return string(password), nil
}

// promptNewPassword asks for a password twice and rejects mismatches.
func promptNewPassword(prompt string) (string, error) {
	password, err := promptPassword(prompt)
	if err != nil {
		return "", err
	}

	confirm, err := promptPassword("Confirm: ")
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", fmt.Errorf("passwords do not match")
	}
	return password, nil
}

func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// startSpinner shows a progress spinner unless output is JSON. The
// returned func stops it.
func startSpinner(message string) func() {
	if jsonOutput {
		return func() {}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond,
		spinner.WithWriter(os.Stderr))
	s.Suffix = " " + message
	s.Start()
	return s.Stop
}

func printSuccess(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", color.GreenString("✓"), fmt.Sprintf(format, args...))
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("✗"), fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", color.YellowString("!"), fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", color.CyanString("→"), fmt.Sprintf(format, args...))
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
