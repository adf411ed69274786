package model

// Coordinates of a geocoded place.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// AirQuality mirrors the hourly air-quality series plus a per-metric summary.
type AirQuality struct {
	Hourly      map[string][]float64 `json:"hourly"`
	Time        []string             `json:"time"`
	HourlyUnits map[string]string    `json:"hourly_units"`
	Summary     map[string]Stat      `json:"summary"`
}

// Stat summarizes one series.
type Stat struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// WeatherReport is the weather tool payload.
type WeatherReport struct {
	Location    string      `json:"location"`
	Country     string      `json:"country,omitempty"`
	Region      string      `json:"region,omitempty"`
	Coordinates Coordinates `json:"coordinates"`
	DateRange   DateRange   `json:"date_range"`
	// Temperature is the mean of daily max/min in °C.
	Temperature float64 `json:"temperature"`
	TempMin     float64 `json:"temperature_min"`
	TempMax     float64 `json:"temperature_max"`
	Conditions  string  `json:"conditions"`
	// Humidity is the mean relative humidity in %.
	Humidity float64 `json:"humidity"`
	// WindSpeed is the maximum daily wind speed in km/h.
	WindSpeed  float64     `json:"wind_speed"`
	AirQuality *AirQuality `json:"air_quality,omitempty"`
}

// MedicalFinding is one passage returned by the research search.
type MedicalFinding struct {
	Condition string         `json:"condition"`
	Score     float64        `json:"score"`
	Text      string         `json:"text"`
	Source    string         `json:"source"`
	Page      int            `json:"page"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
