package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/alanyoungcy/riskgate/internal/crypto"
	"github.com/spf13/cobra"
)

const passwordEnv = "RISKGATE_OKX_SECRET_PASSWORD"

func newEncryptSecretCmd() *cobra.Command {
	var (
		out      string
		password string
	)
	cmd := &cobra.Command{
		Use:   "encrypt-secret",
		Short: "Encrypt an API secret read from stdin into a file",
		Long: `encrypt-secret reads the exchange API secret from the first line of stdin
and writes it encrypted with the given password. Point okx.encrypted_secret_path
at the output and supply the password via okx.secret_password or
` + passwordEnv + `.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv(passwordEnv)
			}
			if password == "" {
				return errors.New("password required: pass --password or set " + passwordEnv)
			}

			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read secret: %w", err)
			}
			secret := strings.TrimSpace(line)
			if secret == "" {
				return errors.New("secret must not be empty")
			}

			data, err := crypto.EncryptSecret(secret, password)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "encrypted secret written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (required)")
	cmd.Flags().StringVar(&password, "password", "", "encryption password (default: $"+passwordEnv+")")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
