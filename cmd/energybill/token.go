package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bher20/energybill/internal/auth"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "hash <name> <role>",
		Short: "Read a secret from stdin and print an ENERGYBILL_API_TOKENS entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && secret == "" {
				return errors.New("no secret on stdin")
			}
			hash, err := auth.HashSecret(strings.TrimRight(secret, "\r\n"))
			if err != nil {
				return err
			}
			entry := fmt.Sprintf("%s:%s:%s", args[0], args[1], hash)
			if _, err := auth.ParseToken(entry); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), entry)
			return nil
		},
	})
	return cmd
}
