package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sapliy/loyalty-platform/pkg/apikey"
)

var keygenSecret string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an admin API key and its storable hash",
	Long: `Generates a new admin API key. The raw key is printed once and never
stored; configure the service with the hash (ADMIN_API_KEY_HASH).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := keygenSecret
		if secret == "" {
			secret = viper.GetString("api_key_secret")
		}
		if secret == "" {
			return fmt.Errorf("an HMAC secret is required (--secret or api_key_secret in config)")
		}

		key, hash, err := apikey.GenerateKey(apikey.AdminPrefix, secret)
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		fmt.Printf("api key:  %s\n", key)
		fmt.Printf("key hash: %s\n", hash)
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenSecret, "secret", "", "HMAC secret shared with the service")
	rootCmd.AddCommand(keygenCmd)
}
