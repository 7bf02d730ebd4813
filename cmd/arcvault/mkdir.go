package main

import (
	"github.com/spf13/cobra"
)

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <name>",
	Short: "Create a folder",
	Example: `  arcvault mkdir taxes
  arcvault mkdir 2025 --folder 4f1c...`,
	Args: cobra.ExactArgs(1),
	RunE: runMkdir,
}

var mkdirParent string

func init() {
	rootCmd.AddCommand(mkdirCmd)

	mkdirCmd.Flags().StringVarP(&mkdirParent, "folder", "f", "",
		"Parent folder id (default: root)")
}

func runMkdir(cmd *cobra.Command, args []string) error {
	name := args[0]

	c, err := openVault()
	if err != nil {
		return err
	}
	defer c.Close()

	st, err := c.Store()
	if err != nil {
		return err
	}

	folderID, err := st.CreateFolder(name, mkdirParent)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "folder_id": folderID, "name": name})
		return nil
	}
	printSuccess("Created folder %s (%s)", name, folderID)
	return nil
}
