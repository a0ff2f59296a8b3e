package portal

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Endpoints are the portal API URLs a scan talks to, all derived from the
// search URL's origin.
type Endpoints struct {
	Base         string // scheme://host
	RegisterURL  string // register the current selection
	FetchURL     string // fetch the consolidated rendering
	RemoveURL    string // clear the server-side selection
	DocumentView string // per-document view, for fallback fetches
}

// DeriveEndpoints computes the API endpoints from a search URL.
func DeriveEndpoints(searchURL string) (Endpoints, error) {
	parsed, err := url.Parse(searchURL)
	if err != nil {
		return Endpoints{}, fmt.Errorf("invalid search URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return Endpoints{}, fmt.Errorf("search URL %q has no origin", searchURL)
	}

	return EndpointsFromBase(parsed.Scheme + "://" + parsed.Host), nil
}

// EndpointsFromBase computes the API endpoints from an explicit origin,
// for deployments where the API lives behind a different proxy host than
// the search pages.
func EndpointsFromBase(base string) Endpoints {
	base = strings.TrimSuffix(base, "/")
	return Endpoints{
		Base:         base,
		RegisterURL:  base + "/apps/news/nb-cache-doc/js/set",
		FetchURL:     base + "/apps/news/nb-multidocs/get",
		RemoveURL:    base + "/apps/news/nb-cache-doc/js/remove",
		DocumentView: base + "/apps/news/document-view",
	}
}

// DocumentURL builds the direct view URL for one document reference.
func (e Endpoints) DocumentURL(pParam, reference string) string {
	return fmt.Sprintf("%s?p=%s&doc=%s", e.DocumentView, url.QueryEscape(pParam), url.QueryEscape(reference))
}

// ExtractPParam reads the product parameter from a search URL, falling
// back to the portal default when absent.
func ExtractPParam(searchURL string) string {
	parsed, err := url.Parse(searchURL)
	if err != nil {
		return "AWGLNB"
	}
	if p := parsed.Query().Get("p"); p != "" {
		return p
	}
	return "AWGLNB"
}

// ExtractKeyword reads the search term from a search URL's query.
func ExtractKeyword(searchURL string) string {
	parsed, err := url.Parse(searchURL)
	if err != nil {
		return ""
	}
	return parsed.Query().Get("val-base-0")
}

// BuildSearchURL composes a results URL for a keyword search against the
// given portal origin. Year bounds are optional; zero means unbounded.
func BuildSearchURL(base, keyword, source string, firstPageSize, yearFrom, yearTo int) string {
	t := "favorite:AFRWAFRN!" + source
	if yearFrom > 0 && yearTo > 0 {
		t = fmt.Sprintf("%s/year:%d!%d", t, yearFrom, yearTo)
	} else if yearFrom > 0 {
		t = fmt.Sprintf("%s/year:%d", t, yearFrom)
	} else if yearTo > 0 {
		t = fmt.Sprintf("%s/year:%d", t, yearTo)
	}

	query := fmt.Sprintf(
		"p=AWGLNB&hide_duplicates=2&fld-base-0=alltext&sort=YMD_date:D&maxresults=%d&val-base-0=%s&t=%s",
		firstPageSize, url.QueryEscape(keyword), url.QueryEscape(t),
	)
	return strings.TrimSuffix(base, "/") + "/apps/news/results?" + query
}

// BuildPageURL computes the URL for one results page. The first page uses
// the search URL unchanged apart from its larger result count; later pages
// carry a fixed offset, the smaller page size, a zero-based page index and
// duplicate hiding disabled so counts line up with the portal's pager.
func BuildPageURL(searchURL string, page, firstPageSize, pageSize, offset int) (string, error) {
	parsed, err := url.Parse(searchURL)
	if err != nil {
		return "", fmt.Errorf("invalid search URL: %w", err)
	}

	query := parsed.Query()
	if page <= 1 {
		query.Set("maxresults", strconv.Itoa(firstPageSize))
		query.Del("offset")
		query.Del("page")
	} else {
		query.Set("offset", strconv.Itoa(offset))
		query.Set("maxresults", strconv.Itoa(pageSize))
		query.Set("page", strconv.Itoa(page-1))
		query.Set("hide_duplicates", "0")
	}
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}

// TotalPages derives the page count from a result total, honoring the cap
// on documents per scan.
func TotalPages(totalResults, firstPageSize, pageSize, maxDocuments int) int {
	if totalResults <= 0 {
		return 1
	}
	if maxDocuments > 0 && totalResults > maxDocuments {
		totalResults = maxDocuments
	}
	if totalResults <= firstPageSize {
		return 1
	}
	remaining := totalResults - firstPageSize
	pages := 1 + (remaining+pageSize-1)/pageSize
	return pages
}
