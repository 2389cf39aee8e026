package subtitles

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"engram/internal/textutil"
)

// Cache is the on-disk subtitle store. Files live at
// <root>/data/<sanitized_show>/<Show> - SxxEyy.srt; the episode code is
// recovered from the filename on listing.
type Cache struct {
	root string
}

// NewCache creates a cache rooted at dir.
func NewCache(dir string) *Cache {
	return &Cache{root: dir}
}

// ShowDir returns the directory holding a show's cached subtitles.
func (c *Cache) ShowDir(show string) string {
	return filepath.Join(c.root, "data", textutil.SanitizeToken(show))
}

// EpisodePath returns the cache location for one episode's subtitle.
func (c *Cache) EpisodePath(show, code string) string {
	name := fmt.Sprintf("%s - %s.srt", textutil.SanitizeName(show), code)
	return filepath.Join(c.ShowDir(show), name)
}

// List returns the cached subtitles for a show and season, keyed by episode
// code. Files without a parseable code are ignored.
func (c *Cache) List(show string, season int) (map[string]string, error) {
	entries, err := os.ReadDir(c.ShowDir(show))
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list subtitle cache: %w", err)
	}
	found := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".srt") {
			continue
		}
		code := ParseEpisodeCode(entry.Name())
		if code == "" {
			continue
		}
		if codeSeason, _, ok := SplitEpisodeCode(code); !ok || codeSeason != season {
			continue
		}
		found[code] = filepath.Join(c.ShowDir(show), entry.Name())
	}
	return found, nil
}

// Save writes a subtitle into the cache, creating directories as needed.
func (c *Cache) Save(show, code, content string) (string, error) {
	path := c.EpisodePath(show, code)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write subtitle: %w", err)
	}
	return path, nil
}
