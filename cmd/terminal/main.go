/*
Package main is the entry point of the roleOOC terminal client.

It connects to the chat server's websocket endpoint, reads commands from standard input
and prints chat traffic as it arrives. Passwords are read without echo when standard
input is a terminal.
*/
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stanislavb/roleOOC/internal/app/terminal"
	"github.com/stanislavb/roleOOC/internal/pkg/logx"
)

var (
	version = "dev"

	serverURL string
	deviceID  string
)

var rootCmd = &cobra.Command{
	Use:          "roleooc",
	Short:        "Terminal client for the roleOOC chat server",
	Version:      version,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.Flags().StringVarP(&serverURL, "url", "u", "ws://localhost:8080/ws", "websocket endpoint of the chat server")
	rootCmd.Flags().StringVarP(&deviceID, "device", "d", "", "device id of this terminal (random when empty)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logx.InitTerminalLogger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := terminal.NewApp(serverURL, deviceID, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if err := app.Connect(ctx); err != nil {
		return err
	}
	defer app.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s as device %s. Type help for a list of commands.\n", serverURL, app.DeviceID())

	stdin := bufio.NewReader(os.Stdin)
	return app.Run(ctx, stdin, secretReader(stdin))
}

// secretReader reads a line without echo, falling back to plain input when standard
// input is not a terminal.
func secretReader(fallback *bufio.Reader) terminal.SecretReader {
	fd := int(os.Stdin.Fd())
	return func() (string, error) {
		if term.IsTerminal(fd) {
			b, err := term.ReadPassword(fd)
			if err == nil {
				return string(b), nil
			}
		}
		line, err := fallback.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
}
