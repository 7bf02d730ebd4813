package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract <file-id>",
	Short: "Decrypt a file out of the vault",
	Long: `Extract decrypts a stored file into the output directory under its
stored name. The plaintext is rehashed on the way out; a hash mismatch
aborts the extraction instead of handing back damaged data.`,
	Example: `  arcvault extract 4f1c... --out ./restored
  arcvault extract 4f1c... --out . --folder-password`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

var (
	extractOut        string
	extractFolderPass bool
)

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringVarP(&extractOut, "out", "o", ".",
		"Output directory")
	extractCmd.Flags().BoolVar(&extractFolderPass, "folder-password", false,
		"Prompt for the owning folder's password first")
}

func runExtract(cmd *cobra.Command, args []string) error {
	fileID := args[0]

	c, err := openVault()
	if err != nil {
		return err
	}
	defer c.Close()

	st, err := c.Store()
	if err != nil {
		return err
	}

	file, err := st.FileInfo(fileID)
	if err != nil {
		return err
	}

	if extractFolderPass {
		if err := unlockFolderPrompt(c, file.FolderID); err != nil {
			return err
		}
	}

	outDir, err := filepath.Abs(extractOut)
	if err != nil {
		return fmt.Errorf("resolve output directory: %w", err)
	}
	if err := os.MkdirAll(outDir, 0700); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	destPath := filepath.Join(outDir, file.Name)

	stop := startSpinner(fmt.Sprintf("Decrypting %s...", file.Name))
	err = st.ExtractFile(fileID, destPath)
	stop()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"file_id": fileID,
			"path":    destPath,
			"size":    file.Size,
		})
		return nil
	}

	printSuccess("Extracted %s (%s)", destPath, formatBytes(file.Size))
	return nil
}
