package portal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/models"
)

func testLogger() arbor.ILogger {
	return arbor.NewLogger()
}

func descriptorJSON(refs ...string) string {
	docs := make([]models.DocumentDescriptor, 0, len(refs))
	for i, ref := range refs {
		docs = append(docs, models.DocumentDescriptor{
			Reference: ref,
			CacheType: "AWGLNB",
			SizeBytes: 1000 + i,
			SourceID:  fmt.Sprintf("pbi-%d", i),
			Title:     fmt.Sprintf("Article %d", i),
			Product:   "AWGLNB",
		})
	}
	data, _ := json.Marshal(docs)
	return string(data)
}

func TestManifestDecoder_ValidPayload(t *testing.T) {
	decoder := NewManifestDecoder("news/", testLogger())

	array := descriptorJSON("news/a", "news/b", "news/c")
	payload := "documents=" + url.QueryEscape(array) + "&p=AWGLNB"

	docs, err := decoder.Decode(payload)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "news/a", docs[0].Reference)
	assert.Equal(t, "news/c", docs[2].Reference)
	assert.Equal(t, 1000, docs[0].SizeBytes)
}

func TestManifestDecoder_AmpersandInsideContent(t *testing.T) {
	decoder := NewManifestDecoder("news/", testLogger())

	docs := []models.DocumentDescriptor{
		{Reference: "news/a", Title: "Profits & Losses", CacheType: "AWGLNB"},
		{Reference: "news/b", Title: "M&A roundup", CacheType: "AWGLNB"},
	}
	data, _ := json.Marshal(docs)
	payload := "documents=" + url.QueryEscape(string(data)) + "&p=AWGLNB&extra=1"

	decoded, err := decoder.Decode(payload)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, "Profits & Losses", decoded[0].Title)
	assert.Equal(t, "M&A roundup", decoded[1].Title)
}

func TestManifestDecoder_NoMarkerBareArray(t *testing.T) {
	decoder := NewManifestDecoder("news/", testLogger())

	docs, err := decoder.Decode(descriptorJSON("news/x"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "news/x", docs[0].Reference)
}

func TestManifestDecoder_TruncatedBetweenTokens(t *testing.T) {
	decoder := NewManifestDecoder("news/", testLogger())

	// Truncated right after a complete string value: both closers are
	// missing and must be appended as "}" then "]".
	payload := `documents=[{"docref":"news/a","cache_type":"AWGLNB"},{"docref":"news/b"`

	docs, err := decoder.Decode(payload)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "news/a", docs[0].Reference)
	assert.Equal(t, "news/b", docs[1].Reference)
}

func TestManifestDecoder_TruncatedMidKeyNarrows(t *testing.T) {
	decoder := NewManifestDecoder("news/", testLogger())

	// Truncated in the middle of a key: bracket closing cannot make this
	// parse, so the decoder must fall back to the last complete object.
	payload := `documents=[{"docref":"news/a","cache_type":"AWGLNB"},{"docref":"news/b","cach`

	docs, err := decoder.Decode(payload)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "news/a", docs[0].Reference)
}

func TestManifestDecoder_TruncationYieldsStrictPrefix(t *testing.T) {
	decoder := NewManifestDecoder("news/", testLogger())

	full := descriptorJSON("news/a", "news/b", "news/c", "news/d")
	complete, err := decoder.Decode("documents=" + full)
	require.NoError(t, err)
	require.Len(t, complete, 4)

	// Cut the raw array at every possible byte. Every successful decode
	// must be a prefix of the full decode; anything else is corruption.
	for cut := 1; cut < len(full); cut++ {
		docs, err := decoder.Decode("documents=" + full[:cut])
		if err != nil {
			assert.ErrorIs(t, err, ErrMalformedManifest, "cut at %d", cut)
			continue
		}
		require.LessOrEqual(t, len(docs), len(complete), "cut at %d", cut)
		for i := range docs {
			if docs[i].Reference != "" {
				assert.Equal(t, complete[i].Reference, docs[i].Reference, "cut at %d, index %d", cut, i)
			}
		}
	}
}

func TestManifestDecoder_TruncatedMidNumberDropsElement(t *testing.T) {
	decoder := NewManifestDecoder("news/", testLogger())

	// Cut inside the size value of the second object. Closing brackets
	// here would parse but with a corrupted size, so the decoder must
	// drop the partial element instead.
	payload := `documents=[{"docref":"news/a","size":1000},{"docref":"news/b","size":20`

	docs, err := decoder.Decode(payload)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "news/a", docs[0].Reference)
	assert.Equal(t, 1000, docs[0].SizeBytes)
}

func TestManifestDecoder_GarbageFails(t *testing.T) {
	decoder := NewManifestDecoder("news/", testLogger())

	for _, payload := range []string{
		"",
		"p=AWGLNB&action=download",
		"documents=not-an-array",
	} {
		_, err := decoder.Decode(payload)
		assert.True(t, errors.Is(err, ErrMalformedManifest), "payload %q", payload)
	}
}

func TestManifestDecoder_NamespaceFilter(t *testing.T) {
	decoder := NewManifestDecoder("news/", testLogger())

	payload := `documents=[{"docref":"news/a"},{"docref":"image/b"},{"docref":"news/c"}]`

	docs, err := decoder.Decode(payload)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "news/a", docs[0].Reference)
	assert.Equal(t, "news/c", docs[1].Reference)
}

func TestManifestDecoder_DoubleEncodedPayload(t *testing.T) {
	decoder := NewManifestDecoder("news/", testLogger())

	array := descriptorJSON("news/a", "news/b")
	once := url.QueryEscape(array)
	twice := url.QueryEscape(once)

	docs, err := decoder.Decode("documents=" + twice)
	require.NoError(t, err)
	require.Len(t, docs, 2)
}

func TestPercentDecode_FormEncoding(t *testing.T) {
	// The first pass is a form decode: '+' is a space, %2B a literal plus.
	decoded := percentDecode(`[{"title":"A+B%2BC"}]`)
	assert.Equal(t, `[{"title":"A B+C"}]`, decoded)
}

func TestManifestDecoder_SpacesAndLiteralPlusInTitles(t *testing.T) {
	decoder := NewManifestDecoder("news/", testLogger())

	docs := []models.DocumentDescriptor{
		{Reference: "news/a", Title: "Profits & Losses", CacheType: "AWGLNB"},
		{Reference: "news/b", Title: "C++ at 40", CacheType: "AWGLNB"},
	}
	data, _ := json.Marshal(docs)
	payload := "documents=" + url.QueryEscape(string(data)) + "&p=AWGLNB"

	decoded, err := decoder.Decode(payload)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, "Profits & Losses", decoded[0].Title)
	assert.Equal(t, "C++ at 40", decoded[1].Title)
}
