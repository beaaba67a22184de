package datasource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/rally-coach/internal/models"
)

const webSourceName = "web"

// WebSource reads the roster and match history from a JSON stats API.
// Responses are cached on disk and served from the cache on later calls.
type WebSource struct {
	httpClient *RateLimitedHTTPClient
	baseURL    string
	apiKey     string
	cacheDir   string
	logger     *logrus.Entry
}

// NewWebSource creates a new stats API client
func NewWebSource(httpClient *RateLimitedHTTPClient, baseURL, apiKey, cacheDir string, logger *logrus.Logger) *WebSource {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WebSource{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		cacheDir:   cacheDir,
		logger:     logger.WithField("component", "web_source"),
	}
}

// Name returns the data source name
func (w *WebSource) Name() string {
	return webSourceName
}

// Players fetches the roster
func (w *WebSource) Players(ctx context.Context) ([]models.Player, error) {
	var players []models.Player
	if err := w.fetchJSON(ctx, w.baseURL+"/players", &players); err != nil {
		return nil, err
	}
	return players, nil
}

// Matches fetches match rows. Filtering is applied locally as well so the
// contract holds even against a server that ignores the query parameters.
func (w *WebSource) Matches(ctx context.Context, filter MatchFilter) ([]models.MatchRow, error) {
	q := url.Values{}
	if filter.PlayerID != "" {
		q.Set("player_id", filter.PlayerID)
	}
	if !filter.AsOf.IsZero() {
		q.Set("as_of", filter.AsOf.Format("2006-01-02"))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}

	endpoint := w.baseURL + "/matches"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var rows []models.MatchRow
	if err := w.fetchJSON(ctx, endpoint, &rows); err != nil {
		return nil, err
	}
	return applyFilter(rows, filter), nil
}

// Close releases idle connections
func (w *WebSource) Close() error {
	return w.httpClient.Close()
}

func (w *WebSource) fetchJSON(ctx context.Context, endpoint string, out interface{}) error {
	cachePath := w.cachePath(endpoint)
	if cachePath != "" {
		if data, err := os.ReadFile(cachePath); err == nil {
			if err := json.Unmarshal(data, out); err == nil {
				w.logger.WithField("url", endpoint).Debug("Served from disk cache")
				return nil
			}
			w.logger.WithField("cache_file", cachePath).Warn("Ignoring corrupt cache entry")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return NewDataSourceError(webSourceName, ErrCodeNetworkError, "failed to create request", err)
	}
	if w.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", w.apiKey))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.httpClient.Do(ctx, req)
	if err != nil {
		return NewDataSourceError(webSourceName, ErrCodeNetworkError, "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewDataSourceError(webSourceName, ErrCodeAuthenticationFailed, "invalid API key", ErrAuthenticationFailed)
	case resp.StatusCode == http.StatusNotFound:
		return NewDataSourceError(webSourceName, ErrCodeNotFound, endpoint, ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewDataSourceError(webSourceName, ErrCodeRateLimitExceeded, "rate limit exceeded", ErrRateLimitExceeded)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return NewDataSourceError(webSourceName, ErrCodeServerError,
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body)), ErrServerError)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewDataSourceError(webSourceName, ErrCodeNetworkError, "failed to read response", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return NewDataSourceError(webSourceName, ErrCodeInvalidData, "failed to parse response", err)
	}

	if cachePath != "" {
		if err := writeCacheFile(cachePath, data); err != nil {
			w.logger.WithError(err).Warn("Failed to write disk cache")
		}
	}
	return nil
}

func (w *WebSource) cachePath(endpoint string) string {
	if w.cacheDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(endpoint))
	return filepath.Join(w.cacheDir, hex.EncodeToString(sum[:8])+".json")
}

func writeCacheFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
