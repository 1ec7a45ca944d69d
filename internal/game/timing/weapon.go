package timing

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// WeaponClass is the coarse category used when a weapon kind has no entry of
// its own.
type WeaponClass string

const (
	ClassDagger    WeaponClass = "dagger"
	ClassSword     WeaponClass = "sword"
	ClassTwoHanded WeaponClass = "twohanded"
	ClassBow       WeaponClass = "bow"
	ClassCrossbow  WeaponClass = "crossbow"
)

// WeaponEntry is the immutable-after-load timing definition for one weapon
// kind. Speed is the classic inverted scale: higher means slower.
type WeaponEntry struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Class       WeaponClass `yaml:"class"`
	Speed       int         `yaml:"speed"`
	BaseDelayMs int         `yaml:"base_delay_ms"`
	HitOffsetMs int         `yaml:"hit_offset_ms"`
	AnimationMs int         `yaml:"animation_ms"`
}

// classDefaults are the built-in fallback entries, one per WeaponClass.
// Loaded tables may override them by registering an entry whose ID matches
// the class name.
var classDefaults = map[WeaponClass]*WeaponEntry{
	ClassDagger:    {ID: "dagger", Name: "Dagger", Class: ClassDagger, Speed: 34, BaseDelayMs: 1700, HitOffsetMs: 300, AnimationMs: 600},
	ClassSword:     {ID: "sword", Name: "Sword", Class: ClassSword, Speed: 46, BaseDelayMs: 2300, HitOffsetMs: 350, AnimationMs: 700},
	ClassTwoHanded: {ID: "twohanded", Name: "Two-Handed", Class: ClassTwoHanded, Speed: 60, BaseDelayMs: 3000, HitOffsetMs: 450, AnimationMs: 900},
	ClassBow:       {ID: "bow", Name: "Bow", Class: ClassBow, Speed: 54, BaseDelayMs: 2700, HitOffsetMs: 500, AnimationMs: 800},
	ClassCrossbow:  {ID: "crossbow", Name: "Crossbow", Class: ClassCrossbow, Speed: 64, BaseDelayMs: 3200, HitOffsetMs: 500, AnimationMs: 800},
}

// globalDefault is used when neither the weapon ID nor its class is known.
var globalDefault = &WeaponEntry{
	ID: "unarmed", Name: "Unarmed", Class: ClassSword, Speed: 40, BaseDelayMs: 2000, HitOffsetMs: 300, AnimationMs: 600,
}

// WeaponTable holds all loaded WeaponEntry definitions keyed by ID.
// Lookup never fails: unknown IDs fall back to the class default, unknown
// classes to the single global default.
type WeaponTable struct {
	entries map[string]*WeaponEntry
}

// NewWeaponTable creates an empty WeaponTable.
func NewWeaponTable() *WeaponTable {
	return &WeaponTable{entries: make(map[string]*WeaponEntry)}
}

// Register adds e to the table, overwriting any existing entry with the same ID.
//
// Precondition: e must not be nil and e.ID must not be empty.
func (t *WeaponTable) Register(e *WeaponEntry) {
	t.entries[e.ID] = e
}

// Len returns the number of explicitly registered entries.
func (t *WeaponTable) Len() int { return len(t.entries) }

// Lookup resolves the timing entry for weaponID, falling back to the class
// default when the ID is unconfigured and to the global default when the
// class is unknown.
//
// Postcondition: Returns a non-nil WeaponEntry; never an error.
func (t *WeaponTable) Lookup(weaponID string, class WeaponClass) *WeaponEntry {
	if e, ok := t.entries[weaponID]; ok {
		return e
	}
	if d, ok := classDefaults[class]; ok {
		return d
	}
	return globalDefault
}

// ClassDefault returns the built-in entry for class, or the global default
// for an unknown class.
func ClassDefault(class WeaponClass) *WeaponEntry {
	if d, ok := classDefaults[class]; ok {
		return d
	}
	return globalDefault
}

// GlobalDefault returns the table-independent fallback entry.
func GlobalDefault() *WeaponEntry { return globalDefault }

// validate checks a loaded entry for obviously broken values.
func (e *WeaponEntry) validate() error {
	var errs []string
	if e.ID == "" {
		errs = append(errs, "id must not be empty")
	}
	if e.Speed <= 0 {
		errs = append(errs, fmt.Sprintf("speed must be > 0, got %d", e.Speed))
	}
	if e.HitOffsetMs < 0 {
		errs = append(errs, fmt.Sprintf("hit_offset_ms must be >= 0, got %d", e.HitOffsetMs))
	}
	if e.AnimationMs < 0 {
		errs = append(errs, fmt.Sprintf("animation_ms must be >= 0, got %d", e.AnimationMs))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// LoadWeaponDirectory reads every *.yaml file in dir, parses each document as
// a WeaponEntry, and returns a populated WeaponTable. Files may contain
// multiple YAML documents.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns a non-nil WeaponTable, or an error if any file fails
// to parse or validate.
func LoadWeaponDirectory(dir string) (*WeaponTable, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading weapon dir %q: %w", dir, err)
	}
	table := NewWeaponTable()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		for {
			var def WeaponEntry
			if err := dec.Decode(&def); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return nil, fmt.Errorf("parsing %q: %w", path, err)
			}
			if def.ID == "" && def.Name == "" {
				continue // empty document
			}
			if err := def.validate(); err != nil {
				return nil, fmt.Errorf("weapon %q in %q: %w", def.ID, path, err)
			}
			table.Register(&def)
		}
	}
	return table, nil
}
