package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent security events",
	Long: `Audit lists the newest entries of the hash-chained security journal:
unlocks, failed attempts, lockouts, credential changes, and store
mutations. The journal records no secrets.`,
	Args: cobra.NoArgs,
	RunE: runAudit,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the journal's hash chain",
	Args:  cobra.NoArgs,
	RunE:  runAuditVerify,
}

var auditLimit int

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)

	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20,
		"Number of entries to show")
}

func runAudit(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	entries, err := c.Journal().Recent(auditLimit)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(entries)
		return nil
	}

	if len(entries) == 0 {
		printInfo("Journal is empty")
		return nil
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s  %s", e.Time.Format("2006-01-02 15:04:05"), e.Event)
		if e.Detail != "" {
			line += "  " + e.Detail
		}
		fmt.Println(line)
	}
	return nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	count, err := c.Journal().Verify()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"valid": true, "entries": count})
		return nil
	}
	printSuccess("Journal chain valid over %d entries", count)
	return nil
}
