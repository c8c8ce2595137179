package api

// SearchResult is one match returned by the search endpoint. Score is the raw
// L2 distance from the query embedding: lower means more similar.
type SearchResult struct {
	ImageID  int64   `json:"image_id"`
	URL      string  `json:"url"`
	Score    float64 `json:"score"`
	Filename string  `json:"filename"`
}

// SearchResponse is the body of POST /search/.
type SearchResponse struct {
	QueryImage string         `json:"query_image,omitempty"`
	Results    []SearchResult `json:"results"`
}

// UploadedImage describes one stored file in an upload response.
type UploadedImage struct {
	ImageID  int64  `json:"image_id"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// UploadResponse is the body of POST /upload/. The orchestrator only consumes
// success vs failure; the body is decoded for the CLI's verbose output.
type UploadResponse struct {
	Message  string          `json:"message"`
	Uploaded []UploadedImage `json:"uploaded"`
}

// UploadHistoryEntry is one row of GET /upload/history.
type UploadHistoryEntry struct {
	ID       int64  `json:"id"`
	Time     string `json:"time"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
}

// SearchHistoryMatch is a stored match inside a search history entry.
type SearchHistoryMatch struct {
	Filename string  `json:"filename"`
	Score    float64 `json:"score"`
}

// SearchHistoryEntry is one row of GET /search/history.
type SearchHistoryEntry struct {
	ID                 int64                `json:"id"`
	CreatedAt          string               `json:"created_at"`
	QueryImageFilename string               `json:"query_image_filename"`
	Results            []SearchHistoryMatch `json:"results"`
}

// Activity is one recent_activity row of the dashboard.
type Activity struct {
	ID      int64  `json:"id"`
	Action  string `json:"action"`
	Details string `json:"details"`
	Time    string `json:"time"`
	Type    string `json:"type"`
}

// DashboardStats is the body of GET /dashboard/stats.
type DashboardStats struct {
	TotalImages    int        `json:"total_images"`
	TotalSearches  int        `json:"total_searches"`
	SystemStatus   string     `json:"system_status"`
	RecentActivity []Activity `json:"recent_activity"`
}

// Health is the body of GET /health.
type Health struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

// OK reports whether the backend and both of its dependencies are up.
func (h Health) OK() bool {
	return h.Status == "running" && h.Database == "OK" && h.Redis == "OK"
}
