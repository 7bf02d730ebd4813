package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/arcvault/arcvault/internal/client"
)

var addCmd = &cobra.Command{
	Use:   "add <file>...",
	Short: "Encrypt files into the vault",
	Long: `Add encrypts one or more files into the vault. Multiple files go in
as a single transaction: either all of them land or none do.`,
	Example: `  arcvault add notes.txt
  arcvault add tax-2025.pdf passport.jpg --folder 4f1c...
  arcvault add secret.db --name "backup.db"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

var (
	addFolderID   string
	addName       string
	addFolderPass bool
)

func init() {
	rootCmd.AddCommand(addCmd)

	addCmd.Flags().StringVarP(&addFolderID, "folder", "f", "",
		"Destination folder id (default: root)")
	addCmd.Flags().StringVar(&addName, "name", "",
		"Stored name (single file only; default: source base name)")
	addCmd.Flags().BoolVar(&addFolderPass, "folder-password", false,
		"Prompt for the destination folder's password first")
}

func runAdd(cmd *cobra.Command, args []string) error {
	if addName != "" && len(args) > 1 {
		return fmt.Errorf("--name needs exactly one file")
	}

	c, err := openVault()
	if err != nil {
		return err
	}
	defer c.Close()

	if addFolderPass {
		if err := unlockFolderPrompt(c, addFolderID); err != nil {
			return err
		}
	}

	st, err := c.Store()
	if err != nil {
		return err
	}

	txn := st.Begin("cli add")
	for _, src := range args {
		abs, err := filepath.Abs(src)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", src, err)
		}
		if err := txn.AddFile(abs, addName, addFolderID); err != nil {
			return err
		}
	}

	stop := startSpinner(fmt.Sprintf("Encrypting %d file(s)...", len(args)))
	ids, err := txn.Commit()
	stop()
	if err != nil {
		return err
	}

	if jsonOutput {
		results := make([]map[string]string, len(ids))
		for i, id := range ids {
			results[i] = map[string]string{"source": args[i], "file_id": id}
		}
		printJSON(map[string]interface{}{"success": true, "added": results})
		return nil
	}

	for i, id := range ids {
		printSuccess("Added %s (%s)", args[i], id)
	}
	return nil
}

// unlockFolderPrompt asks for a folder password and unlocks it for the
// rest of this invocation.
func unlockFolderPrompt(c *client.Client, folderID string) error {
	if folderID == "" {
		return fmt.Errorf("--folder-password needs --folder")
	}

	password, err := promptPassword("Folder password: ")
	if err != nil {
		return err
	}
	return c.UnlockFolder(folderID, password)
}
