package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// Catalog lists the questions of a speaking test grouped by part.
type Catalog struct {
	Name     string   `yaml:"name"`
	Parts    []Part   `yaml:"parts"`
	Cleaning Cleaning `yaml:"cleaning,omitempty"`
}

// Cleaning extends the transcript cleaner's built-in pattern set.
type Cleaning struct {
	TrailingPhrases []string `yaml:"trailing_phrases,omitempty"`
	Boilerplate     []string `yaml:"boilerplate,omitempty"`
}

// Part is one section of the test.
type Part struct {
	Number    int        `yaml:"part"`
	Title     string     `yaml:"title"`
	Questions []Question `yaml:"questions"`
}

// Question is a single prompt the candidate answers.
type Question struct {
	Key    string `yaml:"key"`
	Number int    `yaml:"number"`
	Text   string `yaml:"text"`
}

// Default returns the built-in three-part catalogue.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalogue is invalid: %v", err))
	}
	return c
}

// QuestionCount returns the number of questions across all parts.
func (c *Catalog) QuestionCount() int {
	n := 0
	for _, part := range c.Parts {
		n += len(part.Questions)
	}
	return n
}

// Load reads a catalogue from a YAML file. An empty path returns Default().
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates catalogue YAML.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalogue: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate ensures parts are numbered and question keys are unique and parseable.
func (c *Catalog) Validate() error {
	if len(c.Parts) == 0 {
		return fmt.Errorf("catalogue: at least one part is required")
	}
	seen := make(map[string]struct{})
	for _, part := range c.Parts {
		if part.Number <= 0 {
			return fmt.Errorf("catalogue: part number must be positive")
		}
		for _, q := range part.Questions {
			key := NormalizeKey(q.Key)
			if key == "" {
				return fmt.Errorf("catalogue: part %d has a question without a key", part.Number)
			}
			if _, dup := seen[key]; dup {
				return fmt.Errorf("catalogue: duplicate question key %q", q.Key)
			}
			seen[key] = struct{}{}
			id, err := ParseKey(key)
			if err != nil {
				return fmt.Errorf("catalogue: %w", err)
			}
			if id.Part != part.Number {
				return fmt.Errorf("catalogue: key %q is listed under part %d", q.Key, part.Number)
			}
		}
	}
	return nil
}

// Lookup returns the question for a segment key.
func (c *Catalog) Lookup(key string) (Question, int, bool) {
	key = NormalizeKey(key)
	for _, part := range c.Parts {
		for _, q := range part.Questions {
			if NormalizeKey(q.Key) == key {
				return q, part.Number, true
			}
		}
	}
	return Question{}, 0, false
}

// position returns the catalogue order index of key, or -1.
func (c *Catalog) position(key string) int {
	key = NormalizeKey(key)
	idx := 0
	for _, part := range c.Parts {
		for _, q := range part.Questions {
			if NormalizeKey(q.Key) == key {
				return idx
			}
			idx++
		}
	}
	return -1
}
