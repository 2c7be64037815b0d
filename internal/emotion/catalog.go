package emotion

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Presets returns the built-in emotion profiles in display order.
func Presets() []Profile {
	return []Profile{
		Default(),
		{
			ID: "happy", Label: "Happy", Description: "Bright, quick and animated",
			TempoMultiplier: 1.15, PitchShift: 3, GestureIntensity: 1.2,
			MouthIntensity: 1.15, BrowLift: 0.6, AccentColor: "#f5b942",
		},
		{
			ID: "sad", Label: "Sad", Description: "Slow and low with heavy brows",
			TempoMultiplier: 0.78, PitchShift: -4, GestureIntensity: 0.5,
			MouthIntensity: 0.7, BrowLift: -0.45, AccentColor: "#5b7db1",
		},
		{
			ID: "angry", Label: "Angry", Description: "Clipped, forceful, brows pulled down",
			TempoMultiplier: 1.25, PitchShift: -1.5, GestureIntensity: 1.35,
			MouthIntensity: 1.3, BrowLift: -0.6, AccentColor: "#d9483b",
		},
		{
			ID: "surprised", Label: "Surprised", Description: "High pitch and raised brows",
			TempoMultiplier: 1.1, PitchShift: 5, GestureIntensity: 1.1,
			MouthIntensity: 1.4, BrowLift: 1.2, AccentColor: "#b86bd6",
		},
		{
			ID: "calm", Label: "Calm", Description: "Measured pace with gentle motion",
			TempoMultiplier: 0.9, PitchShift: -1, GestureIntensity: 0.6,
			MouthIntensity: 0.85, BrowLift: 0.1, AccentColor: "#4fb39c",
		},
		{
			ID: "excited", Label: "Excited", Description: "Fast, high and expansive",
			TempoMultiplier: 1.45, PitchShift: 6, GestureIntensity: 1.4,
			MouthIntensity: 1.25, BrowLift: 0.9, AccentColor: "#ff7a45",
		},
	}
}

// ErrUnknownEmotion is returned by Lookup for IDs not in the catalog.
var ErrUnknownEmotion = errors.New("unknown emotion")

// Catalog is an ordered, ID-indexed set of profiles.
type Catalog struct {
	profiles []Profile
	byID     map[string]Profile
}

type presetFile struct {
	Emotions []Profile `yaml:"emotions"`
}

// NewCatalog builds a catalog from profiles. IDs must be unique and non-empty.
func NewCatalog(profiles []Profile) (*Catalog, error) {
	c := &Catalog{
		profiles: make([]Profile, 0, len(profiles)),
		byID:     make(map[string]Profile, len(profiles)),
	}
	for _, p := range profiles {
		if err := c.add(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// DefaultCatalog returns the catalog of built-in presets.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(Presets())
	if err != nil {
		panic("emotion: invalid built-in presets: " + err.Error())
	}
	return c
}

// LoadCatalog reads a YAML preset file and merges it over the built-ins.
// Entries whose ID matches a built-in replace it; new IDs are appended.
// An empty path returns the built-ins.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("emotion: open preset file %q: %w", path, err)
	}
	defer f.Close()

	c, err := LoadCatalogFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("emotion: parse preset file %q: %w", path, err)
	}
	return c, nil
}

// LoadCatalogFromReader parses preset YAML from r and merges it over the
// built-ins. The caller is responsible for closing r.
func LoadCatalogFromReader(r io.Reader) (*Catalog, error) {
	var pf presetFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode presets: %w", err)
	}

	seen := make(map[string]bool, len(pf.Emotions))
	for _, p := range pf.Emotions {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, errors.New("preset file contains empty id")
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate emotion id %q", id)
		}
		seen[id] = true
	}

	merged := Presets()
	for _, p := range pf.Emotions {
		p.ID = strings.TrimSpace(p.ID)
		if p.Label == "" {
			p.Label = p.ID
		}
		replaced := false
		for i := range merged {
			if merged[i].ID == p.ID {
				merged[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, p)
		}
	}
	return NewCatalog(merged)
}

func (c *Catalog) add(p Profile) error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("emotion profile has empty id")
	}
	if _, exists := c.byID[p.ID]; exists {
		return fmt.Errorf("duplicate emotion id %q", p.ID)
	}
	c.profiles = append(c.profiles, p)
	c.byID[p.ID] = p
	return nil
}

// List returns a copy of all profiles in order.
func (c *Catalog) List() []Profile {
	return append([]Profile(nil), c.profiles...)
}

// Lookup returns the profile with the given ID. An empty ID resolves to the
// first profile in the catalog.
func (c *Catalog) Lookup(id string) (Profile, error) {
	id = strings.TrimSpace(id)
	if id == "" && len(c.profiles) > 0 {
		return c.profiles[0], nil
	}
	p, ok := c.byID[id]
	if !ok {
		return Profile{}, fmt.Errorf("%w %q", ErrUnknownEmotion, id)
	}
	return p, nil
}
