package commands

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"pigeon/internal/app"
)

var (
	serverURL    string
	listenAddr   string
	advertiseURL string
	password     string

	appCtx *app.App
)

func Execute() error {
	root := &cobra.Command{
		Use:   "pigeon",
		Short: "End-to-end encrypted chat client",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelWarn,
			}))
			appCtx = app.New(app.Config{
				ServerURL:    serverURL,
				ListenAddr:   listenAddr,
				AdvertiseURL: advertiseURL,
			}, printMessage, printStatus, log)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&serverURL, "server", app.DefaultServerURL, "central service base URL")
	root.PersistentFlags().StringVar(&listenAddr, "listen", app.DefaultListenAddr, "local address for inbound chat tunnels")
	root.PersistentFlags().StringVar(&advertiseURL, "advertise", "", "base URL peers reach the tunnels at (default derived from --listen)")
	root.PersistentFlags().StringVarP(&password, "password", "p", "", "account password (prompted when omitted)")

	root.AddCommand(signupCmd(), loginCmd())
	return root.Execute()
}

func readPassword(label string) (string, error) {
	if password != "" {
		return password, nil
	}
	fmt.Print(label + ": ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
