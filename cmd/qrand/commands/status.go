package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/consciouslab/qrand/pkg/qrng"
)

var (
	statusPort int
	statusJSON bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the current status of a running qrand server.

This command calls the health and status endpoints and displays cache
fill level, prefetch state, and the configured quantum API endpoint.

Examples:
  # Check status (uses default port)
  qrand status

  # Check status with custom API port
  qrand status --port 9080

  # Output as JSON
  qrand status --json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusPort, "port", 8080, "API server port")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
}

// serverStatus is what the status command prints.
type serverStatus struct {
	Running bool         `json:"running"`
	Message string       `json:"message"`
	Cache   *qrng.Status `json:"cache,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 2 * time.Second}

	status := serverStatus{
		Running: false,
		Message: "Server is not running",
	}

	healthURL := fmt.Sprintf("http://localhost:%d/health", statusPort)
	resp, err := client.Get(healthURL)
	if err == nil {
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			status.Running = true
			status.Message = "Server is running"
		} else {
			status.Running = true
			status.Message = fmt.Sprintf("Server responded with HTTP %d", resp.StatusCode)
		}
	}

	if status.Running {
		statusURL := fmt.Sprintf("http://localhost:%d/status", statusPort)
		resp, err := client.Get(statusURL)
		if err == nil {
			var cacheStatus qrng.Status
			if err := json.NewDecoder(resp.Body).Decode(&cacheStatus); err == nil {
				status.Cache = &cacheStatus
			}
			_ = resp.Body.Close()
		}
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	printStatusTable(status)
	return nil
}

func printStatusTable(status serverStatus) {
	fmt.Println()
	fmt.Println("qrand Server Status")
	fmt.Println("===================")
	fmt.Println()

	if status.Running {
		fmt.Printf("  Status:       \033[32m● Running\033[0m\n")
	} else {
		fmt.Printf("  Status:       \033[31m○ Stopped\033[0m\n")
	}

	if status.Cache != nil {
		fmt.Printf("  Cache:        %d/%d bits remaining\n", status.Cache.RemainingBits, status.Cache.CacheSize)
		fmt.Printf("  Standby:      %d bits\n", status.Cache.StandbyBits)
		fmt.Printf("  Prefetching:  %t\n", status.Cache.Prefetching)
		fmt.Printf("  API:          %s\n", status.Cache.APIURL)
		if !status.Cache.LastFetchTime.IsZero() {
			fmt.Printf("  Last fetch:   %s\n", status.Cache.LastFetchTime.Format(time.RFC3339))
		}
	}

	fmt.Println()
	fmt.Printf("  %s\n", status.Message)
	fmt.Println()
}
