package achievement

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

//go:embed default.yaml
var defaultCatalog []byte

// BadgeDefinition is one catalog entry.
type BadgeDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Rarity      string   `json:"rarity"`
	Icon        string   `json:"icon"`
	Criteria    Criteria `json:"-"`
}

type rawBadge struct {
	ID          string         `koanf:"id"`
	Name        string         `koanf:"name"`
	Description string         `koanf:"description"`
	Rarity      string         `koanf:"rarity"`
	Icon        string         `koanf:"icon"`
	Criteria    map[string]any `koanf:"criteria"`
}

// Catalog is the ordered, immutable list of badges.
type Catalog struct {
	badges []BadgeDefinition
	byID   map[string]int
}

// bytesProvider feeds raw bytes to koanf.
type bytesProvider []byte

func (b bytesProvider) ReadBytes() ([]byte, error) { return b, nil }

func (b bytesProvider) Read() (map[string]any, error) {
	return nil, errors.New("bytes provider does not support Read")
}

// LoadCatalog reads the catalog at path, or the built-in catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return ParseCatalog(defaultCatalog)
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrInvalidCatalog, path, err)
	}
	return fromKoanf(k)
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("achievement: built-in catalog is invalid: %v", err))
	}
	return c
}

// ParseCatalog parses a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	k := koanf.New(".")
	if err := k.Load(bytesProvider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: parse: %w", ErrInvalidCatalog, err)
	}
	return fromKoanf(k)
}

func fromKoanf(k *koanf.Koanf) (*Catalog, error) {
	var raws []rawBadge
	if err := k.UnmarshalWithConf("badges", &raws, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: decode badges: %w", ErrInvalidCatalog, err)
	}

	c := &Catalog{
		badges: make([]BadgeDefinition, 0, len(raws)),
		byID:   make(map[string]int, len(raws)),
	}
	for i, r := range raws {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: badge #%d has no id", ErrInvalidCatalog, i)
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateBadge, r.ID)
		}
		crit, err := parseCriteria(r.Criteria)
		if err != nil {
			return nil, fmt.Errorf("badge %q: %w", r.ID, err)
		}
		c.byID[r.ID] = len(c.badges)
		c.badges = append(c.badges, BadgeDefinition{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			Rarity:      r.Rarity,
			Icon:        r.Icon,
			Criteria:    crit,
		})
	}
	return c, nil
}

// NewCatalog builds a catalog from definitions, rejecting duplicate ids.
func NewCatalog(defs ...BadgeDefinition) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]int, len(defs))}
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("%w: badge without id", ErrInvalidCatalog)
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateBadge, d.ID)
		}
		if d.Criteria == nil {
			d.Criteria = Unknown{}
		}
		c.byID[d.ID] = len(c.badges)
		c.badges = append(c.badges, d)
	}
	return c, nil
}

// All returns the badges in catalog order.
func (c *Catalog) All() []BadgeDefinition {
	return append([]BadgeDefinition(nil), c.badges...)
}

// Get returns the badge with id.
func (c *Catalog) Get(id string) (BadgeDefinition, bool) {
	i, ok := c.byID[id]
	if !ok {
		return BadgeDefinition{}, false
	}
	return c.badges[i], true
}

// Len returns the number of badges.
func (c *Catalog) Len() int {
	return len(c.badges)
}
