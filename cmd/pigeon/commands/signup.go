package commands

import (
	"github.com/spf13/cobra"
)

func signupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signup [username]",
		Short: "Create an account and start a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword("choose a password")
			if err != nil {
				return err
			}
			if err := appCtx.Facade.SignUp(args[0], pw); err != nil {
				return err
			}
			return runShell(appCtx.Facade)
		},
	}
}
