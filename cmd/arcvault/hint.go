package main

import (
	"github.com/spf13/cobra"
)

var hintCmd = &cobra.Command{
	Use:   "hint",
	Short: "Show the password hint",
	Long: `Hint prints the stored password hint, if one was set. The hint is
available without authentication; it is never part of any key
derivation.`,
	Args: cobra.NoArgs,
	RunE: runHint,
}

func init() {
	rootCmd.AddCommand(hintCmd)
}

func runHint(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	hint, err := c.Creds.PasswordHint()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"hint": hint})
		return nil
	}

	if hint == "" {
		printWarning("No hint set")
		return nil
	}
	printInfo("Hint: %s", hint)
	return nil
}
