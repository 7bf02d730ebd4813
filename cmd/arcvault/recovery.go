package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arcvault/arcvault/internal/models"
)

var recoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Manage the recovery-question unlock path",
}

var recoverySetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Configure or replace the recovery questions",
	Long: `Setup replaces the recovery unlock path after verifying the master
password. The old questions and answers stop working immediately.
--remove deletes the recovery path entirely.`,
	Args: cobra.NoArgs,
	RunE: runRecoverySetup,
}

var recoveryUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Unlock the vault by answering the recovery questions",
	Long: `Unlock answers the stored recovery questions in order. Three failed
attempts within the lockout window block further tries until the
window passes. A successful unlock proves vault access is recoverable;
follow up with 'arcvault passwd' if the password itself is lost.`,
	Args: cobra.NoArgs,
	RunE: runRecoveryUnlock,
}

var recoveryStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recovery configuration and lockout state",
	Args:  cobra.NoArgs,
	RunE:  runRecoveryStatus,
}

var recoveryRemove bool

func init() {
	rootCmd.AddCommand(recoveryCmd)
	recoveryCmd.AddCommand(recoverySetupCmd)
	recoveryCmd.AddCommand(recoveryUnlockCmd)
	recoveryCmd.AddCommand(recoveryStatusCmd)

	recoverySetupCmd.Flags().BoolVar(&recoveryRemove, "remove", false,
		"Remove the recovery path instead of replacing it")
}

func runRecoverySetup(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	password, err := resolvePassword("Master password: ")
	if err != nil {
		return err
	}

	if recoveryRemove {
		stop := startSpinner("Removing recovery path...")
		err = c.Creds.ReconfigureRecovery(password, nil)
		stop()
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]interface{}{"success": true, "configured": false})
			return nil
		}
		printSuccess("Recovery path removed")
		return nil
	}

	questions, err := promptQuestions()
	if err != nil {
		return err
	}

	stop := startSpinner("Rewrapping keys...")
	err = c.Creds.ReconfigureRecovery(password, questions)
	stop()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":   true,
			"configured": true,
			"questions": len(questions),
		})
		return nil
	}
	printSuccess("Recovery configured with %d questions", len(questions))
	return nil
}

func runRecoveryUnlock(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	questions, err := c.Creds.Questions()
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return models.ErrRecoveryNotConfigured
	}

	answers := make([]string, len(questions))
	for i, question := range questions {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", question)
		answer, err := promptPassword("Answer: ")
		if err != nil {
			return err
		}
		answers[i] = answer
	}

	stop := startSpinner("Unlocking vault...")
	err = c.UnlockWithRecovery(answers)
	stop()
	if err != nil {
		var locked *models.LockedError
		if errors.As(err, &locked) {
			return fmt.Errorf("recovery locked out, retry in %s",
				locked.Remaining.Round(time.Second))
		}
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true})
		return nil
	}
	printSuccess("Vault unlocked with recovery answers")
	printInfo("If the password is lost, run 'arcvault passwd' now")
	return nil
}

func runRecoveryStatus(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	status, err := c.Creds.LockoutStatus()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(status)
		return nil
	}

	if !status.RecoveryConfigured {
		printWarning("Recovery not configured")
		return nil
	}
	printInfo("Recovery configured")
	if status.Locked {
		printWarning("Locked out, retry in %s", status.Remaining.Round(time.Second))
	} else if status.FailedAttempts > 0 {
		printWarning("%d recent failed attempt(s)", status.FailedAttempts)
	}
	return nil
}
