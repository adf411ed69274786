package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vayu-advisor/server/internal/agent/model"
	logx "github.com/vayu-advisor/server/pkg/logger"
)

// WeatherProvider fetches a forecast report for a place and date range.
type WeatherProvider interface {
	GetWeather(ctx context.Context, location, start, end string) (*model.WeatherReport, error)
}

// WeatherErrorKind classifies weather failures.
type WeatherErrorKind string

const (
	WeatherForecastRange    WeatherErrorKind = "forecast_range"
	WeatherLocationNotFound WeatherErrorKind = "location_not_found"
	WeatherInvalidDates     WeatherErrorKind = "invalid_dates"
	WeatherUpstream         WeatherErrorKind = "upstream"
)

// WeatherError is the typed error raised at the weather boundary.
type WeatherError struct {
	Kind    WeatherErrorKind
	Message string
	Err     error
}

func (e *WeatherError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("weather %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("weather %s: %s", e.Kind, e.Message)
}

func (e *WeatherError) Unwrap() error { return e.Err }

// IsWeatherKind reports whether err is a WeatherError of the given kind.
func IsWeatherKind(err error, kind WeatherErrorKind) bool {
	var we *WeatherError
	return errors.As(err, &we) && we.Kind == kind
}

// OpenMeteoConfig points the client at the Open-Meteo APIs.
type OpenMeteoConfig struct {
	GeocodingURL  string
	ForecastURL   string
	AirQualityURL string
	ForecastDays  int
	Timeout       time.Duration
}

// OpenMeteo implements WeatherProvider over the public Open-Meteo APIs.
type OpenMeteo struct {
	cfg        OpenMeteoConfig
	httpClient *http.Client
	// Now is the clock for the forecast horizon.
	Now func() time.Time
}

var airQualityMetrics = []string{"european_aqi", "pm2_5", "pm10", "ozone", "nitrogen_dioxide", "sulphur_dioxide"}

func NewOpenMeteo(cfg model.WeatherConfig, httpClient *http.Client) *OpenMeteo {
	if cfg.ForecastDays <= 0 {
		cfg.ForecastDays = 16
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &OpenMeteo{
		cfg: OpenMeteoConfig{
			GeocodingURL:  cfg.GeocodingURL,
			ForecastURL:   cfg.ForecastURL,
			AirQualityURL: cfg.AirQualityURL,
			ForecastDays:  cfg.ForecastDays,
			Timeout:       cfg.Timeout,
		},
		httpClient: httpClient,
		Now:        time.Now,
	}
}

// GetWeather geocodes location, checks the forecast horizon and assembles
// the daily forecast with an air-quality summary. Air quality is optional:
// its failure is logged and the report is returned without it.
func (o *OpenMeteo) GetWeather(ctx context.Context, location, start, end string) (*model.WeatherReport, error) {
	startDate, okStart := model.ParseISODate(start)
	endDate, okEnd := model.ParseISODate(end)
	if !okStart || !okEnd || endDate.Before(startDate) {
		return nil, &WeatherError{Kind: WeatherInvalidDates, Message: fmt.Sprintf("invalid date range %q to %q", start, end)}
	}
	if err := o.checkHorizon(startDate, endDate); err != nil {
		return nil, err
	}

	place, err := o.geocode(ctx, location)
	if err != nil {
		return nil, err
	}

	report, err := o.forecast(ctx, place, start, end)
	if err != nil {
		return nil, err
	}
	report.Location = place.Name
	report.Country = place.Country
	report.Region = place.Admin1
	report.DateRange = model.DateRange{Start: model.StringPtr(start), End: model.StringPtr(end)}

	aq, err := o.airQuality(ctx, place, start, end)
	if err != nil {
		logx.Warn().Err(err).Str("tool", model.ToolWeather).Str("location", place.Name).Msg("air quality unavailable")
	} else {
		report.AirQuality = aq
	}
	return report, nil
}

func (o *OpenMeteo) checkHorizon(start, end time.Time) error {
	now := o.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	limit := today.AddDate(0, 0, o.cfg.ForecastDays)
	if start.Before(today) {
		return &WeatherError{Kind: WeatherForecastRange, Message: "start date is in the past"}
	}
	if end.After(limit) {
		return &WeatherError{Kind: WeatherForecastRange, Message: fmt.Sprintf("end date is beyond forecast range of %d days", o.cfg.ForecastDays)}
	}
	return nil
}

type geoPlace struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Country   string  `json:"country"`
	Admin1    string  `json:"admin1"`
}

func (o *OpenMeteo) geocode(ctx context.Context, location string) (*geoPlace, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, &WeatherError{Kind: WeatherLocationNotFound, Message: "empty location"}
	}
	q := url.Values{}
	q.Set("name", location)
	q.Set("count", "1")
	q.Set("language", "en")
	q.Set("format", "json")

	var body struct {
		Results []geoPlace `json:"results"`
	}
	if err := o.getJSON(ctx, o.cfg.GeocodingURL, q, &body); err != nil {
		return nil, &WeatherError{Kind: WeatherUpstream, Message: "failed to fetch city coordinates", Err: err}
	}
	if len(body.Results) == 0 {
		return nil, &WeatherError{Kind: WeatherLocationNotFound, Message: fmt.Sprintf("city %q not found", location)}
	}
	return &body.Results[0], nil
}

func (o *OpenMeteo) forecast(ctx context.Context, place *geoPlace, start, end string) (*model.WeatherReport, error) {
	q := coordsQuery(place, start, end)
	q.Set("daily", "temperature_2m_max,temperature_2m_min,weather_code,wind_speed_10m_max,relative_humidity_2m_mean")

	var body struct {
		Daily struct {
			Time        []string   `json:"time"`
			TempMax     []*float64 `json:"temperature_2m_max"`
			TempMin     []*float64 `json:"temperature_2m_min"`
			WeatherCode []*int     `json:"weather_code"`
			WindMax     []*float64 `json:"wind_speed_10m_max"`
			Humidity    []*float64 `json:"relative_humidity_2m_mean"`
		} `json:"daily"`
	}
	if err := o.getJSON(ctx, o.cfg.ForecastURL, q, &body); err != nil {
		return nil, &WeatherError{Kind: WeatherUpstream, Message: "failed to fetch forecast", Err: err}
	}

	d := body.Daily
	maxStat, okMax := summarize(d.TempMax)
	minStat, okMin := summarize(d.TempMin)
	if !okMax || !okMin {
		return nil, &WeatherError{Kind: WeatherUpstream, Message: "forecast returned no temperatures"}
	}
	humidity, _ := summarize(d.Humidity)
	wind, _ := summarize(d.WindMax)

	return &model.WeatherReport{
		Coordinates: model.Coordinates{Latitude: place.Latitude, Longitude: place.Longitude},
		Temperature: round1((maxStat.Mean + minStat.Mean) / 2),
		TempMin:     minStat.Min,
		TempMax:     maxStat.Max,
		Conditions:  describeCodes(d.WeatherCode),
		Humidity:    round1(humidity.Mean),
		WindSpeed:   wind.Max,
	}, nil
}

func (o *OpenMeteo) airQuality(ctx context.Context, place *geoPlace, start, end string) (*model.AirQuality, error) {
	q := coordsQuery(place, start, end)
	q.Set("hourly", strings.Join(airQualityMetrics, ","))

	var body struct {
		Hourly      map[string]json.RawMessage `json:"hourly"`
		HourlyUnits map[string]string          `json:"hourly_units"`
	}
	if err := o.getJSON(ctx, o.cfg.AirQualityURL, q, &body); err != nil {
		return nil, fmt.Errorf("failed to fetch air quality data: %w", err)
	}

	aq := &model.AirQuality{
		Hourly:      map[string][]float64{},
		HourlyUnits: body.HourlyUnits,
		Summary:     map[string]model.Stat{},
	}
	if raw, ok := body.Hourly["time"]; ok {
		_ = json.Unmarshal(raw, &aq.Time)
	}
	for _, metric := range airQualityMetrics {
		raw, ok := body.Hourly[metric]
		if !ok {
			continue
		}
		var series []*float64
		if err := json.Unmarshal(raw, &series); err != nil {
			return nil, fmt.Errorf("decode %s: %w", metric, err)
		}
		values := make([]float64, 0, len(series))
		for _, v := range series {
			if v != nil {
				values = append(values, *v)
			}
		}
		aq.Hourly[metric] = values
		if s, ok := summarize(series); ok {
			aq.Summary[metric] = s
		}
	}
	return aq, nil
}

func (o *OpenMeteo) getJSON(ctx context.Context, base string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func coordsQuery(place *geoPlace, start, end string) url.Values {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(place.Latitude, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(place.Longitude, 'f', 4, 64))
	q.Set("start_date", start)
	q.Set("end_date", end)
	q.Set("timezone", "auto")
	return q
}

func summarize(series []*float64) (model.Stat, bool) {
	var (
		s     = model.Stat{Min: math.Inf(1), Max: math.Inf(-1)}
		sum   float64
		count int
	)
	for _, v := range series {
		if v == nil {
			continue
		}
		s.Min = math.Min(s.Min, *v)
		s.Max = math.Max(s.Max, *v)
		sum += *v
		count++
	}
	if count == 0 {
		return model.Stat{}, false
	}
	s.Mean = round1(sum / float64(count))
	return s, true
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// WMO weather interpretation codes, grouped.
func describeCode(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 3:
		return "partly cloudy"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 57:
		return "drizzle"
	case code >= 61 && code <= 67:
		return "rain"
	case code >= 71 && code <= 77:
		return "snow"
	case code >= 80 && code <= 82:
		return "rain showers"
	case code == 85 || code == 86:
		return "snow showers"
	case code >= 95:
		return "thunderstorm"
	}
	return "unknown"
}

// describeCodes lists distinct conditions in order of first appearance.
func describeCodes(codes []*int) string {
	seen := map[string]bool{}
	var out []string
	for _, c := range codes {
		if c == nil {
			continue
		}
		d := describeCode(*c)
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return "unknown"
	}
	return strings.Join(out, ", ")
}
