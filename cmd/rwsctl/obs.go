package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/spf13/cobra"
)

var obsCmd = &cobra.Command{
	Use:   "obs",
	Short: "Observability commands (query a Prometheus-compatible server)",
}

var metricsURL string

type queryResponse struct {
	Status string `json:"status"`
	Data   struct {
		Result []struct {
			Metric map[string]string `json:"metric"`
			Value  []interface{}     `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

var obsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show daemon summary metrics",
	Run: func(cmd *cobra.Command, args []string) {
		printQueries(map[string]string{
			"Reconcile Success Rate": `sum(rate(rws_reconcile_pass_total{status="succeeded"}[5m])) / sum(rate(rws_reconcile_pass_total[5m])) * 100`,
			"Workspaces":             `rws_workspaces_registered`,
			"HTTP Request Rate":      `sum(rate(rws_http_requests_total[5m]))`,
			"Active Requests":        `rws_active_requests`,
		})
	},
}

var obsLatencyCmd = &cobra.Command{
	Use:   "latency",
	Short: "Show latency metrics",
	Run: func(cmd *cobra.Command, args []string) {
		printQueries(map[string]string{
			"HTTP P95":       `histogram_quantile(0.95, sum(rate(rws_http_request_duration_seconds_bucket[5m])) by (le))`,
			"Reconcile P95":  `histogram_quantile(0.95, sum(rate(rws_reconcile_duration_seconds_bucket[5m])) by (le))`,
			"Compose Up P95": `histogram_quantile(0.95, sum(rate(rws_compose_up_duration_seconds_bucket[5m])) by (le))`,
		})
	},
}

var obsQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show reconcile queue metrics",
	Run: func(cmd *cobra.Command, args []string) {
		printQueries(map[string]string{
			"Queue Depth":          `rws_reconcile_queue_depth`,
			"Coalesced Rate":       `rate(rws_reconcile_coalesced_total[5m])`,
			"Compose Failure Rate": `sum(rate(rws_compose_fail_total[5m]))`,
			"Port Retry Rate":      `rate(rws_port_alloc_retry_total[5m])`,
		})
	},
}

var obsGitCmd = &cobra.Command{
	Use:   "git",
	Short: "Show git hosting service metrics",
	Run: func(cmd *cobra.Command, args []string) {
		printQueries(map[string]string{
			"Request Rate": `sum(rate(rws_git_service_requests_total[5m]))`,
			"Error Rate":   `sum(rate(rws_git_service_requests_total{status="error"}[5m]))`,
			"Request P95":  `histogram_quantile(0.95, sum(rate(rws_git_service_request_duration_seconds_bucket[5m])) by (le))`,
		})
	},
}

func printQueries(queries map[string]string) {
	names := make([]string, 0, len(queries))
	for name := range queries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s: %s\n", name, query(metricsURL, queries[name]))
	}
}

func query(baseURL, q string) string {
	resp, err := http.Get(baseURL + "/api/v1/query?query=" + url.QueryEscape(q))
	if err != nil {
		return "error: " + err.Error()
	}
	defer resp.Body.Close()

	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return "parse error"
	}

	if len(qr.Data.Result) == 0 {
		return "no data"
	}

	result := qr.Data.Result[0]
	if len(result.Value) >= 2 {
		return fmt.Sprintf("%v", result.Value[1])
	}
	return "no value"
}

func init() {
	obsCmd.PersistentFlags().StringVar(&metricsURL, "metrics-url", "http://localhost:8428", "Prometheus-compatible query API URL")
	obsCmd.AddCommand(obsSummaryCmd, obsLatencyCmd, obsQueueCmd, obsGitCmd)
	rootCmd.AddCommand(obsCmd)
}
