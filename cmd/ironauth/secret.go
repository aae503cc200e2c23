package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"
)

const minSecretBytes = 32

func secretCmd() *cobra.Command {
	var size int

	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Generate a random secret",
		Long:  `Generate a random secret suitable for IRON_AUTH_IRON_PASSWORD and the other secrets.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := generateSecret(size)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		},
	}

	cmd.Flags().IntVarP(&size, "bytes", "b", minSecretBytes, "Number of random bytes")

	return cmd
}

func generateSecret(size int) (string, error) {
	if size < minSecretBytes {
		return "", fmt.Errorf("secret must use at least %d bytes", minSecretBytes)
	}
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
