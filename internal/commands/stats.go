package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"donorchat/internal/config"
	"donorchat/internal/models"
)

// PrintStats asks the running server's admin API for its fan-out state.
func PrintStats(cfg *config.Config, out io.Writer) error {
	url := fmt.Sprintf("http://%s/admin/stats", cfg.AdminAddr)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.SetBasicAuth(cfg.AdminUser, cfg.AdminPassword)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to get stats (Status: %d): %s", resp.StatusCode, string(body))
	}

	var stats models.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Fprintf(out, "Online users:  %d\n", stats.OnlineUsers)
	fmt.Fprintf(out, "Connections:   %d\n", stats.Connections)
	fmt.Fprintf(out, "Active rooms:  %d\n", stats.Rooms)
	fmt.Fprintf(out, "Typing sets:   %d\n", stats.TypingSets)
	return nil
}
