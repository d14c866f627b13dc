package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	assert.Len(t, c.Categories(), 4)
	assert.Equal(t, 8, c.Len())

	for _, cmd := range []string{"пословица", "китайская", "великие", "мотивация"} {
		_, ok := c.ByCommand(cmd)
		assert.True(t, ok, "command %q", cmd)
	}
	_, ok := c.ByCommand("юмор")
	assert.False(t, ok)
}

func TestPickRandomCoversAllCategories(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	seen := map[string]bool{}
	i := 0
	c.intn = func(n int) int {
		v := i % n
		i++
		return v
	}
	for range c.Len() {
		seen[c.PickRandom().Category] = true
	}
	assert.Len(t, seen, 4)
}

func TestPickFrom(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	it, err := c.PickFrom("мотивация")
	require.NoError(t, err)
	assert.Equal(t, "Томас Эдисон", it.Author)

	_, err = c.PickFrom("nope")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestFormat(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	got := c.Format(Item{Text: "Познай самого себя.", Author: "Сократ", Category: "цитаты_великих"})
	assert.Equal(t, "📜 *Познай самого себя.*\n— _Сократ_\n\n📚 Цитата великих", got)

	got = c.Format(Item{Text: "x", Author: "y", Category: "other"})
	assert.Equal(t, "✨ *x*\n— _y_\n\n📚 other", got)
}

func TestParseRejectsBrokenDocuments(t *testing.T) {
	tests := map[string]string{
		"empty":     "categories: []",
		"no key":    "categories:\n  - quotes:\n      - text: a\n        author: b\n",
		"no quotes": "categories:\n  - key: a\n",
		"duplicate": "categories:\n  - key: a\n    quotes: [{text: t, author: x}]\n  - key: a\n    quotes: [{text: t, author: x}]\n",
		"not yaml":  "categories: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}
