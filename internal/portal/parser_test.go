package portal

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEndpoints(t *testing.T) Endpoints {
	t.Helper()
	endpoints, err := DeriveEndpoints("https://portal.example.com/apps/news/results?p=AWGLNB")
	require.NoError(t, err)
	return endpoints
}

func documentSegment(title, date, source, author, body string) string {
	return fmt.Sprintf(`
		<h1 class="document-view__title">%s</h1>
		<span class="display-date">%s</span>
		<span class="source">%s</span>
		<span class="author">Author: %s</span>
		<div class="document-view__body">%s</div>
	</div>`, title, date, source, author, body)
}

func TestResponseParser_ThreeContainersYieldThreeDocuments(t *testing.T) {
	parser := NewResponseParser(testEndpoints(t), "AWGLNB", testLogger())

	html := `<html><body><div id="preamble">ignored</div>` +
		`<div class="multidocs_item ">` + documentSegment("First Article", "15 March 2024", "The Daily", "A. Writer", "Body one.") +
		`<div class="multidocs_item ">` + documentSegment("Second Article", "16 March 2024", "The Daily", "B. Writer", "Body two.") +
		`<div class="multidocs_item ">` + documentSegment("Third Article", "17 March 2024", "The Daily", "C. Writer", "Body three.") +
		`</body></html>`

	docs, err := parser.Parse(html)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "First Article", docs[0].Title)
	assert.Equal(t, "Second Article", docs[1].Title)
	assert.Equal(t, "Third Article", docs[2].Title)
	assert.Equal(t, "A. Writer", docs[0].Author)
	assert.Equal(t, "The Daily", docs[0].Source)
	assert.Equal(t, 2024, docs[0].PublishedAt.Year())
}

func TestResponseParser_NoMarkerFallsBackToWholeResponse(t *testing.T) {
	parser := NewResponseParser(testEndpoints(t), "AWGLNB", testLogger())

	html := `<html><body>` + documentSegment("Lone Article", "1 May 2023", "Wire", "Nobody", "Only one here.") + `</body></html>`

	docs, err := parser.Parse(html)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Lone Article", docs[0].Title)
}

func TestResponseParser_LooseContainerClassMatches(t *testing.T) {
	parser := NewResponseParser(testEndpoints(t), "AWGLNB", testLogger())

	// Same class without the trailing-space quirk.
	html := `<div class="block multidocs_item" data-x="1">` + documentSegment("One", "2 June 2022", "Src", "X", "b1") +
		`<div class="block multidocs_item" data-x="2">` + documentSegment("Two", "3 June 2022", "Src", "Y", "b2")

	docs, err := parser.Parse(html)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "One", docs[0].Title)
	assert.Equal(t, "Two", docs[1].Title)
}

func TestResponseParser_LineBreaksBecomeNewlines(t *testing.T) {
	parser := NewResponseParser(testEndpoints(t), "AWGLNB", testLogger())

	html := documentSegment("Break Test", "", "", "", "line one<br/>line two<br>line three")

	docs, err := parser.Parse(html)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].BodyText, "line one\nline two\nline three")
	assert.Equal(t, 6, docs[0].WordCount)
}

func TestResponseParser_TitleFallsBackToAnyHeading(t *testing.T) {
	parser := NewResponseParser(testEndpoints(t), "AWGLNB", testLogger())

	html := `<h2>Fallback Heading</h2><div class="document-view__body">text body</div>`

	docs, err := parser.Parse(html)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Fallback Heading", docs[0].Title)
}

func TestResponseParser_SegmentWithoutTitleDiscarded(t *testing.T) {
	parser := NewResponseParser(testEndpoints(t), "AWGLNB", testLogger())

	html := `<div class="multidocs_item ">` + documentSegment("Real Article", "", "", "", "content") +
		`<div class="multidocs_item "><div class="document-view__body">headless fragment</div></div>`

	docs, err := parser.Parse(html)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Real Article", docs[0].Title)
}

func TestResponseParser_DocumentReferenceFromOpenURL(t *testing.T) {
	parser := NewResponseParser(testEndpoints(t), "AWGLNB", testLogger())

	html := `<div class="multidocs_item ">
		<h1 class="document-view__title">Linked Article</h1>
		<a href="https://portal.example.com/openurl?rft_dat=document_id:news%2Fabc123">cite</a>
		<div class="document-view__body">body</div>
	</div>`

	docs, err := parser.Parse(html)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "news/abc123", docs[0].DescriptorRef)
	assert.Contains(t, docs[0].SourceURL, "document-view")
	assert.Contains(t, docs[0].SourceURL, "doc=news%2Fabc123")
}

func TestResponseParser_EmptyResponse(t *testing.T) {
	parser := NewResponseParser(testEndpoints(t), "AWGLNB", testLogger())

	_, err := parser.Parse("   ")
	assert.Error(t, err)
}

func TestResponseParser_ParseDocumentView(t *testing.T) {
	parser := NewResponseParser(testEndpoints(t), "AWGLNB", testLogger())

	html := `<html><body>` + documentSegment("Standalone View", "9 Jan 2021", "Gazette", "Z. Author", "standalone body text") + `</body></html>`

	doc, err := parser.ParseDocumentView(html, "news/standalone1")
	require.NoError(t, err)
	assert.Equal(t, "Standalone View", doc.Title)
	assert.Equal(t, "news/standalone1", doc.DescriptorRef)
	assert.Contains(t, doc.SourceURL, "doc=news%2Fstandalone1")
}

func TestSplitDocuments_NeverEmpty(t *testing.T) {
	for _, html := range []string{"plain text", "<p>no containers</p>", strings.Repeat("x", 10)} {
		segments := splitDocuments(html)
		assert.NotEmpty(t, segments)
	}
}
