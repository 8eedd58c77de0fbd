package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	jwttoken "consent-manager/internal/jwt_token"
)

// tokenCmd mints a caller bearer token for local testing against the API.
func tokenCmd() *cobra.Command {
	var (
		kind string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <caller-id>",
		Short: "Mint a caller bearer token signed with JWT_SIGNING_KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			k := jwttoken.CallerKind(kind)
			switch k {
			case jwttoken.CallerPatient, jwttoken.CallerHIU, jwttoken.CallerHIP:
			default:
				return fmt.Errorf("unknown caller kind %q", kind)
			}
			token, err := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer).
				GenerateAccessToken(args[0], k, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(jwttoken.CallerPatient), "caller kind: patient, hiu or hip")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
