package health

// health check response with per-dependency status
type Response struct {
	Status   string            `json:"status"`
	Service  string            `json:"service"`
	Sessions int               `json:"sessions"`
	Checks   map[string]string `json:"checks,omitempty"`
}
