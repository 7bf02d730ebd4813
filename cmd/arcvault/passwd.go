package main

import (
	"github.com/spf13/cobra"
)

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the master password",
	Long: `Passwd rotates the password unlock path. The master key itself does
not change, so stored files and the recovery questions are unaffected.`,
	Args: cobra.NoArgs,
	RunE: runPasswd,
}

var passwdHint string

func init() {
	rootCmd.AddCommand(passwdCmd)

	passwdCmd.Flags().StringVar(&passwdHint, "hint", "",
		"New password hint (replaces the old one)")
}

func runPasswd(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	oldPassword, err := promptPassword("Current password: ")
	if err != nil {
		return err
	}
	newPassword, err := promptNewPassword("New password: ")
	if err != nil {
		return err
	}

	stop := startSpinner("Rewrapping keys...")
	err = c.Creds.ChangePassword(oldPassword, newPassword, passwdHint)
	stop()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true})
		return nil
	}
	printSuccess("Master password changed")
	return nil
}
