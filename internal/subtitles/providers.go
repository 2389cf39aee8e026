package subtitles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrNotFound reports that a provider has no subtitle for the episode.
var ErrNotFound = errors.New("subtitle not found")

// Provider fetches one episode's subtitle text from a remote source.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, show string, season, episode int) (string, error)
}

// OpenSubtitles is a client for the OpenSubtitles REST API.
type OpenSubtitles struct {
	apiKey     string
	userAgent  string
	baseURL    string
	limiter    *rate.Limiter
	httpClient *http.Client
}

const openSubtitlesBaseURL = "https://api.opensubtitles.com/api/v1"

// NewOpenSubtitles creates a client limited to requestsPerMinute.
func NewOpenSubtitles(apiKey, userAgent string, requestsPerMinute int) *OpenSubtitles {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 20
	}
	return &OpenSubtitles{
		apiKey:     apiKey,
		userAgent:  userAgent,
		baseURL:    openSubtitlesBaseURL,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SetBaseURL overrides the API endpoint, for tests.
func (o *OpenSubtitles) SetBaseURL(base string) {
	o.baseURL = strings.TrimRight(base, "/")
}

func (o *OpenSubtitles) Name() string { return "opensubtitles" }

type openSubsSearchResponse struct {
	Data []struct {
		Attributes struct {
			Files []struct {
				FileID int64 `json:"file_id"`
			} `json:"files"`
		} `json:"attributes"`
	} `json:"data"`
}

type openSubsDownloadResponse struct {
	Link string `json:"link"`
}

// Fetch searches for an episode subtitle and downloads the first match.
func (o *OpenSubtitles) Fetch(ctx context.Context, show string, season, episode int) (string, error) {
	if o.apiKey == "" {
		return "", errors.New("opensubtitles api key not configured")
	}
	params := url.Values{}
	params.Set("query", show)
	params.Set("season_number", strconv.Itoa(season))
	params.Set("episode_number", strconv.Itoa(episode))
	params.Set("languages", "en")

	var search openSubsSearchResponse
	if err := o.doJSON(ctx, http.MethodGet, "/subtitles?"+params.Encode(), nil, &search); err != nil {
		return "", err
	}
	if len(search.Data) == 0 || len(search.Data[0].Attributes.Files) == 0 {
		return "", ErrNotFound
	}

	body := fmt.Sprintf(`{"file_id":%d}`, search.Data[0].Attributes.Files[0].FileID)
	var download openSubsDownloadResponse
	if err := o.doJSON(ctx, http.MethodPost, "/download", strings.NewReader(body), &download); err != nil {
		return "", err
	}
	if download.Link == "" {
		return "", ErrNotFound
	}
	return o.fetchBody(ctx, download.Link)
}

func (o *OpenSubtitles) doJSON(ctx context.Context, method, path string, body io.Reader, out any) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Api-Key", o.apiKey)
	req.Header.Set("User-Agent", o.userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("opensubtitles request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("opensubtitles returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode opensubtitles response: %w", err)
	}
	return nil
}

func (o *OpenSubtitles) fetchBody(ctx context.Context, link string) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("User-Agent", o.userAgent)
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download subtitle: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("subtitle download returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read subtitle body: %w", err)
	}
	return string(data), nil
}

// Addic7ed is a secondary provider, tried after OpenSubtitles.
type Addic7ed struct {
	apiKey     string
	baseURL    string
	limiter    *rate.Limiter
	httpClient *http.Client
}

const addic7edBaseURL = "https://api.addic7ed.dev/v1"

// NewAddic7ed creates a client limited to requestsPerMinute.
func NewAddic7ed(apiKey string, requestsPerMinute int) *Addic7ed {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 20
	}
	return &Addic7ed{
		apiKey:     apiKey,
		baseURL:    addic7edBaseURL,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SetBaseURL overrides the API endpoint, for tests.
func (a *Addic7ed) SetBaseURL(base string) {
	a.baseURL = strings.TrimRight(base, "/")
}

func (a *Addic7ed) Name() string { return "addic7ed" }

// Fetch downloads the episode subtitle as plain SRT text.
func (a *Addic7ed) Fetch(ctx context.Context, show string, season, episode int) (string, error) {
	if a.apiKey == "" {
		return "", errors.New("addic7ed api key not configured")
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/subtitles/%s/%d/%d?language=en", a.baseURL, url.PathEscape(show), season, episode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("addic7ed request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("addic7ed returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read subtitle body: %w", err)
	}
	return string(data), nil
}
