package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/auth"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin bearer token signed with JWT_SECRET",
	Long: `Issue an admin JWT for the admin endpoints. The token is signed locally
with the JWT_SECRET of the current environment.

Example:
  export DOCQA_TOKEN=$(docqa token --subject ops@example.com --expiry 1h)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		subject, _ := cmd.Flags().GetString("subject")
		expiry, _ := cmd.Flags().GetDuration("expiry")
		if expiry <= 0 {
			expiry = cfg.JWTExpiry
		}

		jwtCfg := auth.DefaultJWTConfig(cfg.JWTSecret)
		jwtCfg.Expiry = cfg.JWTExpiry
		signed, err := auth.NewJWTManager(jwtCfg).GenerateTokenWithExpiry(subject, auth.RoleAdmin, expiry)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), signed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("subject", "operator", "token subject")
	tokenCmd.Flags().Duration("expiry", 0, "token lifetime (default JWT_EXPIRY)")
}
