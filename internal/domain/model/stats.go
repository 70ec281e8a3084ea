package model

// Stats is the operational snapshot served by the stats endpoint and
// rendered by the terminal dashboard.
type Stats struct {
	OnlineDevices        int64  `json:"online_devices"`
	TotalDevices         int64  `json:"total_devices"`
	TotalUsers           int64  `json:"total_users"`
	QueuesToDevice       int64  `json:"queues_to_device"`
	QueuesToClient       int64  `json:"queues_to_client"`
	TotalQueues          int64  `json:"total_queues"`
	WebsocketConnections int    `json:"websocket_connections"`
	ServerTime           string `json:"server_time"`
	Status               string `json:"status"`
}

// Health is the unauthenticated liveness report.
type Health struct {
	Status     string `json:"status"`
	Service    string `json:"service"`
	Timestamp  string `json:"timestamp"`
	Websockets int    `json:"websockets"`
	BaseURL    string `json:"base_url"`
}
