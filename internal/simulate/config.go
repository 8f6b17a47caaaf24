package simulate

import (
	"time"

	"github.com/okian/chorus/internal/domain/model"
)

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL     string        // Base URL of the node
	Users       int           // Number of simulated readers
	Actions     int           // Maximum progress actions per reader
	Workers     int           // Number of concurrent submitters
	Timeout     time.Duration // HTTP request timeout
	Settle      time.Duration // How long to wait for the node to catch up
	Poll        time.Duration // Interval between verification attempts
	CatalogPath string        // Badge catalog the node runs with; empty for the built-in one
	Seed        uint64        // Random seed; zero picks one
	OutputFile  string        // Where to save the generated scripts; empty to skip
	Verbose     bool          // Log every mismatch
}

// Script is the ordered list of progress updates sent for one reader.
type Script struct {
	UserID  string                 `json:"userId"`
	Updates []model.ProgressUpdate `json:"updates"`
	// Expected holds the badge ids the node should award, in award order.
	Expected []string `json:"expected"`
}

// Stats holds run statistics.
type Stats struct {
	Users            int
	ActionsSubmitted int
	ActionsAccepted  int
	ActionsLocalOnly int
	ActionsFailed    int
	BadgesExpected   int
	BadgesVerified   int
	UsersMismatched  int
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}

type eventRequest struct {
	Name    string               `json:"name"`
	Payload model.ProgressUpdate `json:"payload"`
}

type ackResponse struct {
	Status string `json:"status"`
}

type badgeView struct {
	ID string `json:"id"`
}

type notificationView struct {
	Type      string `json:"type"`
	ActionRef string `json:"actionRef"`
}

type notificationsResponse struct {
	Notifications []notificationView `json:"notifications"`
	Unread        int                `json:"unread"`
}
