package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"daycal/internal/identity"
)

// NewTokenCommand creates the token command. It mints development tokens
// with the configured secret; production deployments issue tokens elsewhere.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var id identity.Identity
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token --sub <owner-id>",
		Short: "Mint a bearer token for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if id.OwnerID == "" {
				return errors.New("--sub is required")
			}
			cfg := rootOpts.Config
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}

			v, err := identity.NewVerifier([]byte(cfg.Auth.Secret), cfg.Auth.Issuer)
			if err != nil {
				return err
			}
			tok, err := v.Issue(id, ttl)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return json.NewEncoder(out).Encode(map[string]any{
					"token":      tok,
					"owner_id":   id.OwnerID,
					"expires_in": ttl.String(),
				})
			}
			_, err = fmt.Fprintln(out, tok)
			return err
		},
	}

	cmd.Flags().StringVar(&id.OwnerID, "sub", "", "owner id (token subject)")
	cmd.Flags().StringVar(&id.DisplayName, "name", "", "display name carried by the token")
	cmd.Flags().StringVar(&id.AvatarRef, "avatar", "", "avatar reference carried by the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from config)")
	return cmd
}
