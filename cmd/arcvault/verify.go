package main

import (
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check every stored file against its recorded hash",
	Long: `Verify decrypts and rehashes every file in the vault and reports all
discrepancies: missing ciphertext, unreadable blobs, and content whose
hash no longer matches what was stored. Files in locked protected
folders are checked for presence and header shape only.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	c, err := openVault()
	if err != nil {
		return err
	}
	defer c.Close()

	st, err := c.Store()
	if err != nil {
		return err
	}

	stop := startSpinner("Verifying vault integrity...")
	issues, err := st.VerifyIntegrity()
	stop()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"clean":  len(issues) == 0,
			"issues": issues,
		})
		return nil
	}

	if len(issues) == 0 {
		printSuccess("All files verified")
		return nil
	}

	for _, issue := range issues {
		printError("%s (%s): %s", issue.Name, issue.ID, issue.Reason)
	}
	printWarning("%d issue(s) found", len(issues))
	return nil
}
