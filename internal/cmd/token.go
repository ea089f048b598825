package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fluxorio/callcenter/internal/settings"
	"github.com/fluxorio/callcenter/pkg/web/middleware/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue a bearer token for /update",
	Long: `Issue an HS256 bearer token for /update, signed with auth.jwt_secret
(or CALLCENTER_AUTH_JWT_SECRET).`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	tokenCmd.Flags().String("jwt-secret", "", "signing secret (overrides settings)")
}

func runToken(cmd *cobra.Command, args []string) error {
	if err := viper.BindPFlag("auth.jwt_secret", cmd.Flags().Lookup("jwt-secret")); err != nil {
		return err
	}
	s, err := settings.Load()
	if err != nil {
		return err
	}
	if s.Auth.JWTSecret == "" {
		return errors.New("no signing secret: set auth.jwt_secret or --jwt-secret")
	}
	ttl, _ := cmd.Flags().GetDuration("ttl")

	token, err := auth.NewJWTTokenGenerator([]byte(s.Auth.JWTSecret), s.Auth.Issuer).Generate(args[0], ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
