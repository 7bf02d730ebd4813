package main

import (
	"time"

	"github.com/spf13/cobra"
)

var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Manage per-folder password protection",
	Long: `Protected folders carry their own password: file keys inside them are
wrapped under a folder key instead of the master key, so even an
unlocked vault cannot read them until the folder password is given.
Folder unlocks last for one invocation; commands that touch a
protected folder take --folder-password to unlock it inline.`,
}

var folderProtectCmd = &cobra.Command{
	Use:   "protect <folder-id>",
	Short: "Put a password gate on a folder",
	Args:  cobra.ExactArgs(1),
	RunE:  runFolderProtect,
}

var folderPasswdCmd = &cobra.Command{
	Use:   "passwd <folder-id>",
	Short: "Change a protected folder's password",
	Long: `Passwd rewraps the folder key under a new password. Files inside stay
readable; only the gate changes.`,
	Args: cobra.ExactArgs(1),
	RunE: runFolderPasswd,
}

var folderUnlockCmd = &cobra.Command{
	Use:   "unlock <folder-id>",
	Short: "Check a protected folder's password",
	Long: `Unlock verifies the folder password against the stored gate. Failed
attempts count toward the folder's lockout. Unlocks do not persist
across invocations; use --folder-password on add/extract to work
inside the folder.`,
	Args: cobra.ExactArgs(1),
	RunE: runFolderUnlock,
}

var folderStatusCmd = &cobra.Command{
	Use:   "status <folder-id>",
	Short: "Show a folder's protection and lockout state",
	Args:  cobra.ExactArgs(1),
	RunE:  runFolderStatus,
}

func init() {
	rootCmd.AddCommand(folderCmd)
	folderCmd.AddCommand(folderProtectCmd)
	folderCmd.AddCommand(folderPasswdCmd)
	folderCmd.AddCommand(folderUnlockCmd)
	folderCmd.AddCommand(folderStatusCmd)
}

func runFolderProtect(cmd *cobra.Command, args []string) error {
	folderID := args[0]

	c, err := openVault()
	if err != nil {
		return err
	}
	defer c.Close()

	password, err := promptNewPassword("Folder password: ")
	if err != nil {
		return err
	}

	stop := startSpinner("Protecting folder...")
	err = c.ProtectFolder(folderID, password)
	stop()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "folder_id": folderID})
		return nil
	}
	printSuccess("Folder %s protected", folderID)
	return nil
}

func runFolderPasswd(cmd *cobra.Command, args []string) error {
	folderID := args[0]

	c, err := openVault()
	if err != nil {
		return err
	}
	defer c.Close()

	oldPassword, err := promptPassword("Current folder password: ")
	if err != nil {
		return err
	}
	newPassword, err := promptNewPassword("New folder password: ")
	if err != nil {
		return err
	}

	stop := startSpinner("Rewrapping folder key...")
	err = c.ChangeFolderPassword(folderID, oldPassword, newPassword)
	stop()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "folder_id": folderID})
		return nil
	}
	printSuccess("Folder password changed")
	return nil
}

func runFolderUnlock(cmd *cobra.Command, args []string) error {
	folderID := args[0]

	c, err := openVault()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := unlockFolderPrompt(c, folderID); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "folder_id": folderID})
		return nil
	}
	printSuccess("Folder password verified")
	return nil
}

func runFolderStatus(cmd *cobra.Command, args []string) error {
	folderID := args[0]

	c, err := openVault()
	if err != nil {
		return err
	}
	defer c.Close()

	st, err := c.Store()
	if err != nil {
		return err
	}

	folder, err := st.FolderInfo(folderID)
	if err != nil {
		return err
	}
	status := c.Folders.LockoutStatus(folderID)

	if jsonOutput {
		printJSON(map[string]interface{}{
			"folder_id": folderID,
			"name":      folder.Name,
			"protected": folder.Protected,
			"lockout":   status,
		})
		return nil
	}

	if !folder.Protected {
		printInfo("Folder %s is not protected", folder.Name)
		return nil
	}
	printInfo("Folder %s is protected", folder.Name)
	if status.Locked {
		printWarning("Locked out, retry in %s", status.Remaining.Round(time.Second))
	} else if status.FailedAttempts > 0 {
		printWarning("%d recent failed attempt(s)", status.FailedAttempts)
	}
	return nil
}
