package types

import "time"

// FileRecord represents one catalogued image frame
type FileRecord struct {
	ID     int64  `json:"id"`
	Prefix string `json:"prefix"`
	Band   string `json:"band"`
}

// OverlapRecord represents a pairwise overlap between two catalogued frames
type OverlapRecord struct {
	OverlapID   int64    `json:"overlap_id"`
	File1ID     int64    `json:"file1_id"`
	File2ID     int64    `json:"file2_id"`
	Background1 *float64 `json:"background1,omitempty"`
	Background2 *float64 `json:"background2,omitempty"`
}

// ColumnInfo describes a table column as reported by the database
type ColumnInfo struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	NotNull      bool    `json:"not_null"`
	DefaultValue *string `json:"default_value,omitempty"`
	PrimaryKey   int     `json:"primary_key"` // 1-based position in the primary key, 0 if not part of it
}

// IngestReport summarises a catalog ingest run
type IngestReport struct {
	Lines    int           `json:"lines"`
	Matched  int           `json:"matched"`
	Inserted int           `json:"inserted"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// HistogramBin is one bin of a value histogram
type HistogramBin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// Histogram is a binned count of integer values
type Histogram struct {
	Threshold int64          `json:"threshold"`
	Total     int            `json:"total"`
	Kept      int            `json:"kept"`
	Bins      []HistogramBin `json:"bins"`
}

// TableSummary represents a table and its row count
type TableSummary struct {
	Name string `json:"name"`
	Rows int64  `json:"rows"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	Database  string    `json:"database"`
}
