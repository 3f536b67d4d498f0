package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	triggerTenant   string
	triggerType     string
	triggerMaxSends int
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Trigger a nudge batch run for one tenant and type",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, _ := json.Marshal(map[string]any{
			"tenant_id":  triggerTenant,
			"nudge_type": triggerType,
			"max_sends":  triggerMaxSends,
		})

		url := viper.GetString("api_url") + "/admin/nudges/run"
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if key := viper.GetString("api_key"); key != "" {
			req.Header.Set("X-API-Key", key)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		out, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, out)
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	triggerCmd.Flags().StringVar(&triggerTenant, "tenant", "", "tenant id (required)")
	triggerCmd.Flags().StringVar(&triggerType, "type", "", "nudge type (required)")
	triggerCmd.Flags().IntVar(&triggerMaxSends, "max-sends", 100, "per-run send cap")
	triggerCmd.MarkFlagRequired("tenant")
	triggerCmd.MarkFlagRequired("type")
	rootCmd.AddCommand(triggerCmd)
}
