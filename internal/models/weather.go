package models

import (
	"encoding/json"
	"time"
)

// Reading is one weather API record. Raw holds the upstream body unchanged; the remaining
// fields are extracted for logging, backup and metrics.
type Reading struct {
	Location    string          `json:"location"`
	Description string          `json:"description"`
	Temperature float64         `json:"temperature"`
	FeelsLike   float64         `json:"feelsLike"`
	TempMin     float64         `json:"tempMin"`
	TempMax     float64         `json:"tempMax"`
	Humidity    int             `json:"humidity"`
	Pressure    int             `json:"pressure"`
	WindSpeed   float64         `json:"windSpeed"`
	Cloudiness  int             `json:"cloudiness"`
	Visibility  *int            `json:"visibility,omitempty"` // meters; absent in some responses
	ObservedAt  time.Time       `json:"observedAt"`
	FetchedAt   time.Time       `json:"fetchedAt"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// VisibilityKm returns visibility in kilometers and whether the API reported it.
func (r Reading) VisibilityKm() (float64, bool) {
	if r.Visibility == nil {
		return 0, false
	}
	return float64(*r.Visibility) / 1000, true
}

// Message is the broker payload. WeatherData carries the upstream record unchanged.
type Message struct {
	Timestamp          string          `json:"timestamp"`
	WeatherCheckTimeMs int64           `json:"weather_check_time_ms"`
	City               string          `json:"city"`
	Country            string          `json:"country"`
	WeatherData        json.RawMessage `json:"weather_data"`
	Source             string          `json:"source"`
	APIResponseTime    string          `json:"api_response_time"`
}

// BackupEntry is one line of the local backup log.
type BackupEntry struct {
	CheckNumber int     `json:"check_number"`
	Timestamp   string  `json:"timestamp"`
	TimestampMs int64   `json:"timestamp_ms"`
	Temperature float64 `json:"temperature"`
	FeelsLike   float64 `json:"feels_like"`
	Humidity    int     `json:"humidity"`
	Pressure    int     `json:"pressure"`
	Description string  `json:"description"`
	WindSpeed   float64 `json:"wind_speed"`
	Cloudiness  int     `json:"cloudiness"`
	APICallTime string  `json:"api_call_time"`
}

const (
	isoMillis    = "2006-01-02T15:04:05.000"
	backupLayout = "2006-01-02 15:04:05.000"
)

// NewMessage builds the broker payload for a reading checked at now.
func NewMessage(r Reading, city, country, source string, now time.Time) Message {
	raw := r.Raw
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	return Message{
		Timestamp:          now.Format(isoMillis),
		WeatherCheckTimeMs: now.UnixMilli(),
		City:               city,
		Country:            country,
		WeatherData:        raw,
		Source:             source,
		APIResponseTime:    r.FetchedAt.Format(isoMillis),
	}
}

// NewBackupEntry builds the backup log line for check number n at now.
func NewBackupEntry(r Reading, n int, now time.Time) BackupEntry {
	return BackupEntry{
		CheckNumber: n,
		Timestamp:   now.Format(backupLayout),
		TimestampMs: now.UnixMilli(),
		Temperature: r.Temperature,
		FeelsLike:   r.FeelsLike,
		Humidity:    r.Humidity,
		Pressure:    r.Pressure,
		Description: r.Description,
		WindSpeed:   r.WindSpeed,
		Cloudiness:  r.Cloudiness,
		APICallTime: now.Format(isoMillis),
	}
}
