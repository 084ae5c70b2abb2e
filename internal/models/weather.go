package models

import "time"

// WeatherReport is a normalized current-conditions reading.
type WeatherReport struct {
	Location    string    `json:"location"`
	Temperature int       `json:"temperature"`
	FeelsLike   int       `json:"feels_like"`
	Humidity    int       `json:"humidity"`
	WindSpeed   float64   `json:"wind_speed"`
	Condition   string    `json:"condition"`
	Icon        string    `json:"icon"`
	Sunrise     string    `json:"sunrise"`
	Sunset      string    `json:"sunset"`
	FetchedAt   time.Time `json:"fetched_at"`
}
