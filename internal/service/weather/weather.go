// Package weather fetches current conditions from OpenWeatherMap and turns
// them into a short, wine-minded summary.
package weather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/tidwall/gjson"

	"vinochat/internal/cache"
	"vinochat/internal/config"
	"vinochat/internal/logger"
	"vinochat/internal/models"
)

var (
	ErrNotConfigured    = errors.New("weather service is not configured: missing OPENWEATHER_API_KEY")
	ErrLocationNotFound = errors.New("location not found")
)

const maxBodyBytes = 1 << 20

type Service struct {
	apiKey  string
	baseURL string
	units   string
	ttl     time.Duration
	client  *http.Client
	cache   cache.Cache
	now     func() time.Time
}

// New builds the service from config. c may be nil to disable caching.
func New(cfg *config.Config, c cache.Cache) *Service {
	ttl := time.Duration(cfg.Weather.CacheMinutes) * time.Minute
	units := strings.ToLower(cfg.Weather.Units)
	if units == "" {
		units = "imperial"
	}
	return &Service{
		apiKey:  cfg.Secrets.OpenWeatherKey,
		baseURL: cfg.Weather.BaseURL,
		units:   units,
		ttl:     ttl,
		client:  &http.Client{Timeout: 10 * time.Second},
		cache:   c,
		now:     time.Now,
	}
}

// Configured reports whether an API key is present.
func (s *Service) Configured() bool {
	return s.apiKey != ""
}

// Report returns current conditions for location ("City,State,Country").
func (s *Service) Report(ctx context.Context, location string) (*models.WeatherReport, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("location must not be empty")
	}

	key := "weather:" + s.units + ":" + strings.ToLower(location)
	if s.cache != nil && s.ttl > 0 {
		var cached models.WeatherReport
		err := s.cache.GetJSON(ctx, key, &cached)
		if err == nil {
			logger.Debug("weather", "cache hit", logger.Fields{"location": location})
			return &cached, nil
		}
		if !cache.IsMiss(err) {
			logger.Warn("weather", "cache read failed", logger.Fields{"error": err.Error()})
		}
	}

	report, err := s.fetch(ctx, location)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && s.ttl > 0 {
		if err := s.cache.SetJSON(ctx, key, report, s.ttl); err != nil {
			logger.Warn("weather", "cache write failed", logger.Fields{"error": err.Error()})
		}
	}
	return report, nil
}

func (s *Service) fetch(ctx context.Context, location string) (*models.WeatherReport, error) {
	params := url.Values{}
	params.Set("q", location)
	params.Set("appid", s.apiKey)
	params.Set("units", s.units)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build weather request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch weather data: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read weather response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrLocationNotFound, location)
	case resp.StatusCode != http.StatusOK:
		msg := gjson.GetBytes(body, "message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("weather api status %d: %s", resp.StatusCode, msg)
	}
	return s.parse(body)
}

func (s *Service) parse(body []byte) (*models.WeatherReport, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("failed to parse weather data: invalid json")
	}
	data := gjson.ParseBytes(body)
	for _, path := range []string{"main.temp", "main.humidity", "weather.0.description"} {
		if !data.Get(path).Exists() {
			return nil, fmt.Errorf("failed to parse weather data: missing %s", path)
		}
	}

	name := data.Get("name").String()
	if name == "" {
		name = "Unknown"
	}
	zone := time.FixedZone("", int(data.Get("timezone").Int()))
	clock := func(path string) string {
		ts := data.Get(path).Int()
		if ts == 0 {
			return ""
		}
		return time.Unix(ts, 0).In(zone).Format("15:04")
	}

	return &models.WeatherReport{
		Location:    fmt.Sprintf("%s, %s", name, data.Get("sys.country").String()),
		Temperature: int(math.Round(data.Get("main.temp").Float())),
		FeelsLike:   int(math.Round(data.Get("main.feels_like").Float())),
		Humidity:    int(data.Get("main.humidity").Int()),
		WindSpeed:   math.Round(data.Get("wind.speed").Float()*10) / 10,
		Condition:   capitalize(data.Get("weather.0.description").String()),
		Icon:        data.Get("weather.0.icon").String(),
		Sunrise:     clock("sys.sunrise"),
		Sunset:      clock("sys.sunset"),
		FetchedAt:   s.now().UTC(),
	}, nil
}

// Summary fetches the report and renders it as prose with a wine suggestion.
func (s *Service) Summary(ctx context.Context, location string) (string, *models.WeatherReport, error) {
	report, err := s.Report(ctx, location)
	if err != nil {
		return "", nil, err
	}
	return Summarize(report, s.units), report, nil
}

// Summarize renders a report in the given unit system.
func Summarize(r *models.WeatherReport, units string) string {
	tempUnit, speedUnit := "°F", "mph"
	fahrenheit := r.Temperature
	if units == "metric" {
		tempUnit, speedUnit = "°C", "m/s"
		fahrenheit = int(math.Round(float64(r.Temperature)*9/5 + 32))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Current weather in %s: %s with a temperature of %d%s (feels like %d%s). ",
		r.Location, r.Condition, r.Temperature, tempUnit, r.FeelsLike, tempUnit)
	fmt.Fprintf(&b, "Humidity is at %d%% and wind speed is %.1f %s.", r.Humidity, r.WindSpeed, speedUnit)
	if r.Sunrise != "" && r.Sunset != "" {
		fmt.Fprintf(&b, " Sunrise was at %s and sunset will be at %s.", r.Sunrise, r.Sunset)
	}
	b.WriteString(" ")
	b.WriteString(WineAdvice(fahrenheit))
	return b.String()
}

// WineAdvice suggests a style for a temperature in Fahrenheit.
func WineAdvice(fahrenheit int) string {
	switch {
	case fahrenheit > 80:
		return "It's quite warm - a chilled white or rosé wine would be refreshing!"
	case fahrenheit < 50:
		return "It's a bit chilly - perfect for a bold red wine to warm you up!"
	default:
		return "The weather is pleasant - a nice medium-bodied wine would be perfect!"
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
