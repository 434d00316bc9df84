package feed

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// SeedLoader reads feed seeds from *.yml and *.yaml files in a directory.
type SeedLoader struct {
	feedsDir string
	cache    map[string]*Seed
	mu       sync.RWMutex
}

func NewSeedLoader(feedsDir string) *SeedLoader {
	return &SeedLoader{
		feedsDir: feedsDir,
		cache:    make(map[string]*Seed),
	}
}

func (l *SeedLoader) Run() error {
	if _, err := os.Stat(l.feedsDir); os.IsNotExist(err) {
		return nil
	}

	var files []string
	for _, pattern := range []string{"*.yml", "*.yaml"} {
		matches, err := filepath.Glob(filepath.Join(l.feedsDir, pattern))
		if err != nil {
			return fmt.Errorf("failed to find seed files: %w", err)
		}
		files = append(files, matches...)
	}

	for _, file := range files {
		seed, err := l.LoadSeed(file)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Feed seed loaded", "feed", seed.Name, "url", seed.URL, "paused", seed.Paused)
	}

	return nil
}

func (l *SeedLoader) LoadSeed(file string) (*Seed, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Base(file)
	seed.Name = strings.TrimSuffix(base, filepath.Ext(base))

	if seed.RefreshInterval == 0 {
		seed.RefreshInterval = 60
	}

	if err := validateSeed(&seed); err != nil {
		return nil, fmt.Errorf("invalid seed %s: %w", file, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache[seed.Name] = &seed

	return &seed, nil
}

// Seeds returns loaded seeds ordered by name.
func (l *SeedLoader) Seeds() []*Seed {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seeds := make([]*Seed, 0, len(l.cache))
	for _, seed := range l.cache {
		seeds = append(seeds, seed)
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].Name < seeds[j].Name })

	return seeds
}

func (l *SeedLoader) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.cache)
}

func validateSeed(seed *Seed) error {
	if seed.URL == "" {
		return fmt.Errorf("feed URL is required")
	}

	if _, err := ValidateURL(seed.URL); err != nil {
		return err
	}

	if seed.RefreshInterval < 0 {
		return fmt.Errorf("refresh interval must be non-negative")
	}

	if seed.Type != "" {
		if _, ok := ParseType(seed.Type); !ok {
			return fmt.Errorf("unknown feed type: %s", seed.Type)
		}
	}

	return nil
}
