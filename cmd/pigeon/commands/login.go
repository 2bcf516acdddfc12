package commands

import (
	"github.com/spf13/cobra"
)

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [username]",
		Short: "Log in and start a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword("password")
			if err != nil {
				return err
			}
			if err := appCtx.Facade.Login(args[0], pw); err != nil {
				return err
			}
			return runShell(appCtx.Facade)
		},
	}
}
