package app

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stacklok/oic-target/internal/config"
)

func newKeyringCmd() *cobra.Command {
	keyringCmd := &cobra.Command{
		Use:   "keyring",
		Short: "Manage OAuth2 client secrets in the OS keyring",
		Long: `Store or remove the OAuth2 client secret of a client id in the OS keyring.
A configuration without oauth_client_secret falls back to the stored secret.`,
	}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Store the client secret, read from the terminal or stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			clientID, _ := cmd.Flags().GetString("client-id")

			secret, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := config.StoreSecret(clientID, secret); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Stored secret for %s\n", clientID)
			return err
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the client secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			clientID, _ := cmd.Flags().GetString("client-id")

			if err := config.DeleteSecret(clientID); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret for %s\n", clientID)
			return err
		},
	}

	for _, c := range []*cobra.Command{setCmd, deleteCmd} {
		c.Flags().String("client-id", "", "OAuth2 client id (required)")
		_ = c.MarkFlagRequired("client-id")
		keyringCmd.AddCommand(c)
	}
	return keyringCmd
}

// readSecret prompts without echo on a terminal, otherwise reads one line
func readSecret(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprint(prompt, "Client secret: ")
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	secret := strings.TrimSpace(line)
	if secret == "" {
		return "", fmt.Errorf("no secret provided")
	}
	return secret, nil
}
