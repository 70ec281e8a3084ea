package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/telewake/relay-service/config"
	"github.com/telewake/relay-service/internal/domain/model"
	"github.com/urfave/cli/v2"
)

const sparklineWindow = 120

// topCmd renders a live terminal dashboard over the stats endpoint.
func topCmd() *cli.Command {
	return &cli.Command{
		Name:  "top",
		Usage: "Live terminal dashboard of relay counters",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "Relay base URL to attach to",
			},
			&cli.IntFlag{
				Name:  "refresh",
				Value: 2,
				Usage: "Refresh interval in seconds",
			},
		},
		Action: func(c *cli.Context) error {
			baseURL := c.String("url")
			if baseURL == "" {
				cfg, err := config.LoadConfig("")
				if err != nil {
					return err
				}
				baseURL = cfg.BaseURL()
			}
			return runDashboard(baseURL, time.Duration(c.Int("refresh"))*time.Second)
		},
	}
}

func runDashboard(baseURL string, refresh time.Duration) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("initialize terminal ui: %w", err)
	}
	defer ui.Close()

	header := widgets.NewParagraph()
	header.Title = config.ServiceTitle
	header.Text = "connecting..."

	counters := widgets.NewList()
	counters.Title = "Counters"

	spark := widgets.NewSparkline()
	spark.Data = []float64{0}
	queues := widgets.NewSparklineGroup(spark)
	queues.Title = "Queued envelopes"

	grid := ui.NewGrid()
	w, h := ui.TerminalDimensions()
	grid.SetRect(0, 0, w, h)
	grid.Set(
		ui.NewRow(0.25, header),
		ui.NewRow(0.45, counters),
		ui.NewRow(0.30, queues),
	)

	client := &http.Client{Timeout: 5 * time.Second}
	history := make([]float64, 0, sparklineWindow)

	redraw := func() {
		stats, err := fetchStats(client, baseURL)
		if err != nil {
			header.Text = fmt.Sprintf("%s  [unreachable: %v](fg:red)", baseURL, err)
			ui.Render(grid)
			return
		}

		header.Text = fmt.Sprintf("%s  status=%s  server_time=%s  q to quit",
			baseURL, stats.Status, stats.ServerTime)
		counters.Rows = []string{
			fmt.Sprintf("online devices     %d", stats.OnlineDevices),
			fmt.Sprintf("total devices      %d", stats.TotalDevices),
			fmt.Sprintf("total users        %d", stats.TotalUsers),
			fmt.Sprintf("queued to device   %d", stats.QueuesToDevice),
			fmt.Sprintf("queued to client   %d", stats.QueuesToClient),
			fmt.Sprintf("live websockets    %d", stats.WebsocketConnections),
		}

		history = append(history, float64(stats.TotalQueues))
		if len(history) > sparklineWindow {
			history = history[len(history)-sparklineWindow:]
		}
		spark.Data = history

		ui.Render(grid)
	}

	redraw()

	events := ui.PollEvents()
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	for {
		select {
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				ui.Render(grid)
			}
		case <-ticker.C:
			redraw()
		}
	}
}

func fetchStats(client *http.Client, baseURL string) (model.Stats, error) {
	resp, err := client.Get(baseURL + "/api/stats")
	if err != nil {
		return model.Stats{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Stats{}, fmt.Errorf("stats endpoint returned %s", resp.Status)
	}

	var stats model.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return model.Stats{}, fmt.Errorf("decode stats: %w", err)
	}
	return stats, nil
}
