package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/arcvault/arcvault/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault state",
	Long: `Status reports what can be known without the master password:
initialization, recovery configuration, lockout state, and on-disk
backup and audit counts. --unlock additionally opens the vault and
reports file and folder counts.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var statusUnlock bool

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusUnlock, "unlock", false,
		"Unlock the vault and include store statistics")
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if !c.Initialized() {
		if jsonOutput {
			printJSON(map[string]interface{}{"vault": cfg.Vault.Dir, "initialized": false})
			return nil
		}
		printInfo("Vault: %s", cfg.Vault.Dir)
		printWarning("Not initialized")
		return nil
	}

	lockout, err := c.Creds.LockoutStatus()
	if err != nil {
		return err
	}
	hint, err := c.Creds.PasswordHint()
	if err != nil {
		return err
	}

	backups := 0
	if entries, err := os.ReadDir(cfg.Vault.BackupDir()); err == nil {
		backups = len(entries)
	}
	auditEntries, _ := c.Journal().Count()

	var stats *store.Stats
	if statusUnlock {
		password, err := resolvePassword("Master password: ")
		if err != nil {
			return err
		}
		stop := startSpinner("Unlocking vault...")
		err = c.Unlock(password)
		stop()
		if err != nil {
			return err
		}

		st, err := c.Store()
		if err != nil {
			return err
		}
		s, err := st.Stats()
		if err != nil {
			return err
		}
		stats = &s
	}

	if jsonOutput {
		out := map[string]interface{}{
			"vault":               cfg.Vault.Dir,
			"initialized":         true,
			"recovery_configured": lockout.RecoveryConfigured,
			"lockout":             lockout,
			"hint_set":            hint != "",
			"backups":             backups,
			"audit_entries":       auditEntries,
		}
		if stats != nil {
			out["stats"] = stats
		}
		printJSON(out)
		return nil
	}

	printInfo("Vault: %s", cfg.Vault.Dir)
	if lockout.RecoveryConfigured {
		printInfo("Recovery: configured")
	} else {
		printWarning("Recovery: not configured")
	}
	if lockout.Locked {
		printWarning("Recovery locked out, retry in %s", lockout.Remaining.Round(time.Second))
	}
	if hint != "" {
		printInfo("Password hint set")
	}
	printInfo("Tree backups: %d", backups)
	printInfo("Audit entries: %d", auditEntries)
	if stats != nil {
		printInfo("Files: %d in %d folder(s), %s", stats.Files, stats.Folders,
			formatBytes(stats.TotalSize))
	}
	return nil
}
