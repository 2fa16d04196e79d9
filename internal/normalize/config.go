package normalize

import (
	"fmt"
	"strings"
)

// Lake is one entry of the lake vocabulary.
type Lake struct {
	Name    string   `yaml:"name" json:"name"`
	Aliases []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
}

// Config holds configuration for the normalizer
type Config struct {
	// Lakes is the fixed vocabulary lake names are mapped onto.
	// Text that maps to none of them is kept as "other:<text>".
	Lakes []Lake `yaml:"lakes"`

	// LakeThreshold is the minimum string ratio (0.0-1.0) for a fuzzy lake match
	// Default: 0.85
	LakeThreshold float64 `yaml:"lake_threshold"`
}

// DefaultLakes is the Muskoka lake vocabulary.
func DefaultLakes() []Lake {
	return []Lake{
		{Name: "Lake Muskoka", Aliases: []string{"Muskoka Lake", "Muskoka"}},
		{Name: "Lake Joseph", Aliases: []string{"Joseph", "Lake Joe"}},
		{Name: "Lake Rosseau", Aliases: []string{"Rosseau"}},
		{Name: "Lake of Bays", Aliases: []string{"Lake of the Bays"}},
		{Name: "Skeleton Lake", Aliases: []string{"Skeleton"}},
		{Name: "Peninsula Lake", Aliases: []string{"Pen Lake"}},
		{Name: "Fairy Lake"},
		{Name: "Mary Lake"},
		{Name: "Lake Vernon", Aliases: []string{"Vernon"}},
		{Name: "Kahshe Lake", Aliases: []string{"Kahshe"}},
		{Name: "Three Mile Lake"},
		{Name: "Go Home Lake"},
	}
}

// DefaultConfig returns the default normalizer configuration
func DefaultConfig() Config {
	return Config{
		Lakes:         DefaultLakes(),
		LakeThreshold: 0.85,
	}
}

// Validate checks the configuration, including the lake vocabulary.
// Empty names and names or aliases claimed by two lakes are errors.
func (c Config) Validate() error {
	if c.LakeThreshold <= 0.0 || c.LakeThreshold > 1.0 {
		return fmt.Errorf("lake_threshold must be in (0.0, 1.0] (got %.2f)", c.LakeThreshold)
	}
	if len(c.Lakes) == 0 {
		return fmt.Errorf("lake vocabulary is empty")
	}

	seen := make(map[string]string)
	claim := func(owner, term string) error {
		key := cleanText(term)
		if key == "" {
			return fmt.Errorf("lake %q has an empty name or alias", owner)
		}
		if prev, ok := seen[key]; ok && prev != owner {
			return fmt.Errorf("lake vocabulary term %q is claimed by both %q and %q", term, prev, owner)
		}
		seen[key] = owner
		return nil
	}

	for i, lake := range c.Lakes {
		if strings.TrimSpace(lake.Name) == "" {
			return fmt.Errorf("lake vocabulary entry %d has no name", i)
		}
		if err := claim(lake.Name, lake.Name); err != nil {
			return err
		}
		for _, alias := range lake.Aliases {
			if err := claim(lake.Name, alias); err != nil {
				return err
			}
		}
	}
	return nil
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf("Config{Lakes: %d, LakeThreshold: %.2f}", len(c.Lakes), c.LakeThreshold)
}
