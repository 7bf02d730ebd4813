package main

import (
	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm <file-id>...",
	Short: "Delete files from the vault",
	Long: `Rm removes files from the vault and shreds their ciphertext on disk.
Multiple ids delete as one transaction.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRm,
}

var rmdirCmd = &cobra.Command{
	Use:   "rmdir <folder-id>",
	Short: "Delete an empty folder",
	Args:  cobra.ExactArgs(1),
	RunE:  runRmdir,
}

func init() {
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(rmdirCmd)
}

func runRm(cmd *cobra.Command, args []string) error {
	c, err := openVault()
	if err != nil {
		return err
	}
	defer c.Close()

	st, err := c.Store()
	if err != nil {
		return err
	}

	txn := st.Begin("cli rm")
	for _, fileID := range args {
		if err := txn.DeleteFile(fileID); err != nil {
			return err
		}
	}
	if _, err := txn.Commit(); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "deleted": args})
		return nil
	}
	for _, fileID := range args {
		printSuccess("Deleted %s", fileID)
	}
	return nil
}

func runRmdir(cmd *cobra.Command, args []string) error {
	folderID := args[0]

	c, err := openVault()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.RemoveFolder(folderID); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "deleted": folderID})
		return nil
	}
	printSuccess("Deleted folder %s", folderID)
	return nil
}
