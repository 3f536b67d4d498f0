package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	metricsTenant string
	metricsType   string
	metricsDays   int
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show nudge effectiveness metrics for a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint := fmt.Sprintf("%s/admin/nudges/metrics/%s", viper.GetString("api_url"), url.PathEscape(metricsTenant))
		query := url.Values{}
		if metricsType != "" {
			query.Set("type", metricsType)
		}
		query.Set("days", fmt.Sprintf("%d", metricsDays))

		req, err := http.NewRequest(http.MethodGet, endpoint+"?"+query.Encode(), nil)
		if err != nil {
			return err
		}
		if key := viper.GetString("api_key"); key != "" {
			req.Header.Set("X-API-Key", key)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		var m map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d: %v", resp.StatusCode, m)
		}

		pretty, _ := json.MarshalIndent(m, "", "  ")
		fmt.Println(string(pretty))
		return nil
	},
}

func init() {
	metricsCmd.Flags().StringVar(&metricsTenant, "tenant", "", "tenant id (required)")
	metricsCmd.Flags().StringVar(&metricsType, "type", "", "restrict to one nudge type")
	metricsCmd.Flags().IntVar(&metricsDays, "days", 30, "trailing window in days")
	metricsCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(metricsCmd)
}
