package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls [folder-id]",
	Short: "List a folder's contents",
	Long:  `Ls lists the immediate children of a folder, the root by default.`,
	Example: `  arcvault ls
  arcvault ls 4f1c...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLs,
}

func init() {
	rootCmd.AddCommand(lsCmd)
}

func runLs(cmd *cobra.Command, args []string) error {
	var folderID string
	if len(args) == 1 {
		folderID = args[0]
	}

	c, err := openVault()
	if err != nil {
		return err
	}
	defer c.Close()

	st, err := c.Store()
	if err != nil {
		return err
	}

	folders, files, err := st.Contents(folderID)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"folders": folders,
			"files":   files,
		})
		return nil
	}

	if len(folders) == 0 && len(files) == 0 {
		printInfo("Empty folder")
		return nil
	}

	for _, f := range folders {
		name := color.BlueString("%s/", f.Name)
		if f.Protected {
			name += color.YellowString(" [protected]")
		}
		fmt.Printf("%s  %s  %d item(s)\n", f.ID, name, len(f.ChildIDs))
	}
	for _, f := range files {
		fmt.Printf("%s  %s  %s  %s\n", f.ID, f.Name, formatBytes(f.Size), f.Kind)
	}
	return nil
}
