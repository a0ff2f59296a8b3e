package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterNamespace(t *testing.T) {
	docs := []DocumentDescriptor{
		{Reference: "news/doc-1"},
		{Reference: "image/doc-2"},
		{Reference: "news/doc-3"},
		{Reference: "doc-4"},
	}

	kept, dropped := FilterNamespace(docs, "news/")
	assert.Len(t, kept, 2)
	assert.Equal(t, 2, dropped)
	assert.Equal(t, "news/doc-1", kept[0].Reference)
	assert.Equal(t, "news/doc-3", kept[1].Reference)
}

func TestFilterNamespace_EmptyPrefixKeepsAll(t *testing.T) {
	docs := []DocumentDescriptor{{Reference: "a"}, {Reference: "b"}}
	kept, dropped := FilterNamespace(docs, "")
	assert.Len(t, kept, 2)
	assert.Zero(t, dropped)
}

func TestParsedDocument_Complete(t *testing.T) {
	doc := ParsedDocument{Title: "Headline", BodyText: "Ten characters here."}
	assert.True(t, doc.Complete(10))
	assert.False(t, doc.Complete(100))

	doc = ParsedDocument{Title: "   ", BodyText: "Plenty of body text to satisfy any threshold."}
	assert.False(t, doc.Complete(10))

	doc = ParsedDocument{Title: "Headline", BodyText: "   \n  "}
	assert.False(t, doc.Complete(1))
}

func TestParsedDocument_CountWords(t *testing.T) {
	doc := ParsedDocument{BodyText: "one  two\nthree\tfour"}
	doc.CountWords()
	assert.Equal(t, 4, doc.WordCount)

	doc.BodyText = ""
	doc.CountWords()
	assert.Zero(t, doc.WordCount)
}

func TestScanError_String(t *testing.T) {
	paged := ScanError{Stage: "capture", Page: 2, Message: "no manifest"}
	assert.Equal(t, "capture page 2: no manifest", paged.String())

	refd := ScanError{Stage: "fallback", Ref: "news/doc-7", Message: "nav failed"}
	assert.Equal(t, "fallback news/doc-7: nav failed", refd.String())

	bare := ScanError{Stage: "clear", Message: "timeout"}
	assert.Equal(t, "clear: timeout", bare.String())
}
