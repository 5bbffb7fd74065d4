package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/terra-clan/commitment-engine/internal/models"
)

// ErrImageNotFound is returned for an unknown image id
var ErrImageNotFound = errors.New("image not found")

// Catalog is read-only lookup of region sets by image id
type Catalog interface {
	RegionsOf(imageID string) (*models.Image, error)
}

// Loader manages loading and caching of image region catalogs
type Loader struct {
	mu     sync.RWMutex
	images map[string]*models.Image
}

// NewLoader creates a new catalog loader
func NewLoader() *Loader {
	return &Loader{
		images: make(map[string]*models.Image),
	}
}

// LoadFromDir loads every YAML image file from a directory and its direct subdirectories.
// Files that fail to parse are logged and skipped.
func (l *Loader) LoadFromDir(dir string) error {
	slog.Info("loading image catalog from directory", "dir", dir)

	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("failed to stat catalog dir: %w", err)
	}

	patterns := []string{"*.yaml", "*.yml"}
	var files []string

	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		files = append(files, matches...)

		subMatches, err := filepath.Glob(filepath.Join(dir, "*", pattern))
		if err != nil {
			continue
		}
		files = append(files, subMatches...)
	}

	loaded := 0
	for _, file := range files {
		if err := l.LoadFromFile(file); err != nil {
			slog.Warn("failed to load image", "file", file, "error", err)
			continue
		}
		loaded++
	}

	slog.Info("image catalog loaded", "count", loaded, "total_files", len(files))
	return nil
}

// LoadFromFile loads a single image from a YAML file
func (l *Loader) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var f imageFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Fall back to the file name when the id is omitted
	id := strings.TrimSpace(f.ID)
	if id == "" {
		base := filepath.Base(path)
		id = strings.TrimSuffix(base, filepath.Ext(base))
	}

	img, err := models.NewImage(id, f.Name, f.URL, f.Regions)
	if err != nil {
		return err
	}

	l.Add(img)

	slog.Info("image loaded", "id", img.ID, "regions", img.TotalRegions())
	return nil
}

// Add programmatically adds an image
func (l *Loader) Add(img *models.Image) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.images[img.ID] = img
}

// Get retrieves an image by id, nil if unknown
func (l *Loader) Get(id string) *models.Image {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.images[id]
}

// RegionsOf implements Catalog
func (l *Loader) RegionsOf(imageID string) (*models.Image, error) {
	img := l.Get(imageID)
	if img == nil {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, imageID)
	}
	return img, nil
}

// List returns all loaded images ordered by id
func (l *Loader) List() []*models.Image {
	l.mu.RLock()
	result := make([]*models.Image, 0, len(l.images))
	for _, img := range l.images {
		result = append(result, img)
	}
	l.mu.RUnlock()

	models.SortImages(result)
	return result
}

// imageFile represents the YAML structure of an image file
type imageFile struct {
	ID      string          `yaml:"id"`
	Name    string          `yaml:"name"`
	URL     string          `yaml:"url"`
	Regions []models.Region `yaml:"regions"`
}
