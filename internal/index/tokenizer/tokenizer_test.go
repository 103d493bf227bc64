package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tokens := Tokenize("Whose woods these are, I think I know.")
	terms := make([]string, 0, len(tokens))
	for i, tok := range tokens {
		assert.Equal(t, i, tok.Position)
		terms = append(terms, tok.Term)
	}
	assert.Equal(t, []string{"whose", "woods", "these", "are", "i", "think", "i", "know"}, terms)
}

func TestTokenizeEmpty(t *testing.T) {
	assert.Empty(t, Tokenize(""))
	assert.Empty(t, Tokenize(" ,;--  "))
}

func TestTermsDistinct(t *testing.T) {
	assert.Equal(t, []string{"hope", "is", "the", "thing"}, Terms("Hope is the thing; HOPE is"))
}

func TestTermsUnicode(t *testing.T) {
	assert.Equal(t, []string{"café", "über", "42"}, Terms("Café—über 42!"))
}

func TestTags(t *testing.T) {
	assert.Equal(t, []string{"love", "mythology & folklore"}, Tags(" Love,Mythology & Folklore, ,love"))
	assert.Empty(t, Tags(""))
	assert.Equal(t, "renaissance", NormalizeTag("  Renaissance "))
}

var sampleTexts = map[string]string{
	"short": "Hope is the thing with feathers",
	"medium": `When I see birches bend to left and right
Across the lines of straighter darker trees,
I like to think some boy's been swinging them.
But swinging doesn't bend them down to stay
As ice-storms do.`,
	"long": strings.Repeat(`Season of mists and mellow fruitfulness,
Close bosom-friend of the maturing sun;
Conspiring with him how to load and bless
With fruit the vines that round the thatch-eves run; `, 40),
}

func BenchmarkTerms(b *testing.B) {
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for b.Loop() {
				_ = Terms(text)
			}
		})
	}
}

func BenchmarkTermsParallel(b *testing.B) {
	text := sampleTexts["medium"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = Terms(text)
		}
	})
}

func BenchmarkTags(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		_ = Tags("Mythology & Folklore, Love ,Nature,, Religion")
	}
}
