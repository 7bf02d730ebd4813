package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arcvault/arcvault/internal/services/creds"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new vault",
	Long: `Init creates the vault directory, generates the master key, and
protects it with your password. Optionally configure recovery
questions as an independent way back in if the password is lost.`,
	Example: `  arcvault init
  arcvault init --hint "the usual one" --recovery`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var (
	initHint     string
	initRecovery bool
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&initHint, "hint", "",
		"Optional password hint, shown on request without authentication")
	initCmd.Flags().BoolVar(&initRecovery, "recovery", false,
		"Configure recovery questions interactively")
}

func runInit(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if c.Initialized() {
		return fmt.Errorf("vault already initialized at %s", cfg.Vault.Dir)
	}

	password, err := resolveNewPassword("Master password: ")
	if err != nil {
		return err
	}

	var questions []creds.QuestionAnswer
	if initRecovery {
		questions, err = promptQuestions()
		if err != nil {
			return err
		}
	}

	stop := startSpinner("Creating vault...")
	err = c.Initialize(password, initHint, questions)
	stop()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":  true,
			"vault":    cfg.Vault.Dir,
			"recovery": len(questions) > 0,
		})
		return nil
	}

	printSuccess("Vault created at %s", cfg.Vault.Dir)
	if len(questions) > 0 {
		printInfo("Recovery configured with %d questions", len(questions))
	} else {
		printWarning("No recovery questions set; a lost password cannot be recovered")
	}
	return nil
}

// resolveNewPassword reads a new password from the environment or a
// double prompt.
func resolveNewPassword(prompt string) (string, error) {
	if pw := envPassword(); pw != "" {
		return pw, nil
	}
	return promptNewPassword(prompt)
}

// promptQuestions collects question/answer pairs until an empty
// question line.
func promptQuestions() ([]creds.QuestionAnswer, error) {
	printInfo("Enter recovery questions; finish with an empty question.")

	var questions []creds.QuestionAnswer
	for {
		question, err := promptLine(fmt.Sprintf("Question %d: ", len(questions)+1))
		if err != nil {
			return nil, err
		}
		if question == "" {
			break
		}

		answer, err := promptPassword("Answer: ")
		if err != nil {
			return nil, err
		}
		questions = append(questions, creds.QuestionAnswer{Question: question, Answer: answer})
	}

	if len(questions) == 0 {
		return nil, fmt.Errorf("no recovery questions entered")
	}
	return questions, nil
}
