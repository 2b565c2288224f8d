package toml

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sync"

	"github.com/bnema/hiddenprofile/internal/domain"
	"github.com/bnema/hiddenprofile/internal/ports"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const catalogPathKey = "catalog.path"

//go:embed defaults/catalog.toml
var defaultCatalog []byte

// CatalogSource loads the candidate catalog from catalog.path, or the
// built-in catalog when no path is configured.
type CatalogSource struct {
	path string
	mu   *sync.RWMutex
}

var _ ports.CatalogSource = (*CatalogSource)(nil)

func NewCatalogSource(cfg *viper.Viper) (*CatalogSource, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	path := cfg.GetString(catalogPathKey)
	if path == "" {
		return &CatalogSource{}, nil
	}

	path, err := normalizePath(path)
	if err != nil {
		return nil, err
	}

	return &CatalogSource{path: path, mu: lockForPath(path)}, nil
}

func (s *CatalogSource) Path() string {
	return s.path
}

func (s *CatalogSource) Load(ctx context.Context) (domain.Catalog, error) {
	if err := ctx.Err(); err != nil {
		return domain.Catalog{}, err
	}

	data := defaultCatalog
	if s.path != "" {
		s.mu.RLock()
		content, err := os.ReadFile(s.path)
		s.mu.RUnlock()
		if err != nil {
			return domain.Catalog{}, fmt.Errorf("read catalog file: %w", err)
		}
		data = content
	}

	return DecodeCatalog(data)
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() domain.Catalog {
	catalog, err := DecodeCatalog(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}

	return catalog
}

func DecodeCatalog(data []byte) (domain.Catalog, error) {
	var file catalogFileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return domain.Catalog{}, fmt.Errorf("decode catalog file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return domain.Catalog{}, err
	}
	file.applyDefaults()

	catalog := file.toDomain()
	if err := catalog.Validate(); err != nil {
		return domain.Catalog{}, fmt.Errorf("validate catalog: %w", err)
	}

	return catalog, nil
}
