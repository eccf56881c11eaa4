package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirinyoku/pelada/internal/auth"
	"github.com/kirinyoku/pelada/internal/config"
	"github.com/kirinyoku/pelada/internal/domain"
)

func newTokenCmd() *cobra.Command {
	var (
		memberID int64
		role     string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			if memberID <= 0 {
				return errors.New("--member is required")
			}
			if role != domain.RoleMember && role != domain.RoleAdmin {
				return fmt.Errorf("unknown --role %q", role)
			}

			cfg, err := config.New()
			if err != nil {
				return err
			}

			tok, err := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).GenerateToken(memberID, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().Int64Var(&memberID, "member", 0, "member id")
	cmd.Flags().StringVar(&role, "role", domain.RoleMember, "member or admin")
	return cmd
}
