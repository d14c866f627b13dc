// Package catalog holds the broadcastable quotes, grouped by category.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

//go:embed quotes.yaml
var defaultQuotes []byte

var ErrUnknownCategory = errors.New("unknown category")

type Quote struct {
	Text   string `yaml:"text"`
	Author string `yaml:"author"`
}

type Category struct {
	Key     string  `yaml:"key"`
	Command string  `yaml:"command"`
	Help    string  `yaml:"help"`
	Title   string  `yaml:"title"`
	Emoji   string  `yaml:"emoji"`
	Quotes  []Quote `yaml:"quotes"`
}

// Item is one selected quote together with its category key.
type Item struct {
	Text     string
	Author   string
	Category string
}

type document struct {
	Categories []Category `yaml:"categories"`
}

// Catalog is immutable after construction and safe for concurrent use.
type Catalog struct {
	cats  []Category
	byKey map[string]*Category
	byCmd map[string]*Category
	all   []Item

	intn func(n int) int
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultQuotes)
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(b)
}

func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		cats:  doc.Categories,
		byKey: map[string]*Category{},
		byCmd: map[string]*Category{},
		intn:  rand.IntN,
	}
	for i := range c.cats {
		cat := &c.cats[i]
		cat.Key = strings.TrimSpace(cat.Key)
		if cat.Key == "" {
			return nil, fmt.Errorf("category #%d: key required", i)
		}
		if len(cat.Quotes) == 0 {
			return nil, fmt.Errorf("category %q: no quotes", cat.Key)
		}
		if _, dup := c.byKey[cat.Key]; dup {
			return nil, fmt.Errorf("category %q: duplicate key", cat.Key)
		}
		c.byKey[cat.Key] = cat
		if cmd := strings.ToLower(strings.TrimSpace(cat.Command)); cmd != "" {
			c.byCmd[cmd] = cat
		}
		for _, q := range cat.Quotes {
			c.all = append(c.all, Item{Text: q.Text, Author: q.Author, Category: cat.Key})
		}
	}
	if len(c.all) == 0 {
		return nil, errors.New("catalog is empty")
	}
	return c, nil
}

func (c *Catalog) Categories() []Category { return c.cats }

// Len returns the number of quotes across all categories.
func (c *Catalog) Len() int { return len(c.all) }

// PickRandom selects uniformly across every quote of every category.
func (c *Catalog) PickRandom() Item {
	return c.all[c.intn(len(c.all))]
}

// PickFrom selects uniformly within one category.
func (c *Catalog) PickFrom(key string) (Item, error) {
	cat, ok := c.byKey[key]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrUnknownCategory, key)
	}
	q := cat.Quotes[c.intn(len(cat.Quotes))]
	return Item{Text: q.Text, Author: q.Author, Category: cat.Key}, nil
}

// ByCommand resolves a chat command (without slash) to its category.
func (c *Catalog) ByCommand(cmd string) (Category, bool) {
	cat, ok := c.byCmd[strings.ToLower(strings.TrimSpace(cmd))]
	if !ok {
		return Category{}, false
	}
	return *cat, true
}

// Format renders an item as Telegram Markdown.
func (c *Catalog) Format(it Item) string {
	emoji, title := "✨", it.Category
	if cat, ok := c.byKey[it.Category]; ok {
		if cat.Emoji != "" {
			emoji = cat.Emoji
		}
		if cat.Title != "" {
			title = cat.Title
		}
	}
	return fmt.Sprintf("%s *%s*\n— _%s_\n\n📚 %s", emoji, it.Text, it.Author, title)
}
