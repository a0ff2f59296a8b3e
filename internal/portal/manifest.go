package portal

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/models"
)

// manifestMarker introduces the serialized descriptor array inside the
// captured request body.
const manifestMarker = "documents="

// maxDecodeIterations bounds the percent-decode loop. Payloads are
// sometimes double-encoded by the portal front end, never more than that
// in practice.
const maxDecodeIterations = 3

// ManifestDecoder turns captured request bodies into descriptor lists,
// repairing truncated payloads where possible.
type ManifestDecoder struct {
	namespacePrefix string
	logger          arbor.ILogger
}

// NewManifestDecoder creates a decoder that keeps only descriptors in the
// given namespace.
func NewManifestDecoder(namespacePrefix string, logger arbor.ILogger) *ManifestDecoder {
	return &ManifestDecoder{
		namespacePrefix: namespacePrefix,
		logger:          logger,
	}
}

// Decode extracts, repairs and parses the descriptor array from a raw
// captured payload. Descriptors outside the namespace are dropped. The
// result is always a prefix of the complete elements of the original
// array; when not even a prefix can be recovered, ErrMalformedManifest
// is returned.
func (d *ManifestDecoder) Decode(raw string) ([]models.DocumentDescriptor, error) {
	decoded := percentDecode(raw)

	arrayText, ok := extractArray(decoded)
	if !ok {
		return nil, fmt.Errorf("%w: no descriptor array in payload", ErrMalformedManifest)
	}

	docs, err := parseDescriptors(arrayText)
	if err != nil {
		d.logger.Debug().Err(err).Int("bytes", len(arrayText)).Msg("Descriptor array needs repair")
		docs, err = d.repairAndParse(arrayText)
		if err != nil {
			return nil, err
		}
	}

	kept, dropped := models.FilterNamespace(docs, d.namespacePrefix)
	if dropped > 0 {
		d.logger.Debug().Int("dropped", dropped).Str("prefix", d.namespacePrefix).Msg("Filtered descriptors outside namespace")
	}
	return kept, nil
}

// percentDecode unescapes the payload repeatedly until it stops changing.
// The captured body is form-encoded, so the first pass is a query
// unescape where '+' means space and a literal plus arrives as %2B.
// Inner double-encoded passes use PathUnescape instead: after the first
// pass any remaining '+' is a literal plus and must stay one.
func percentDecode(raw string) string {
	current := raw
	for i := 0; i < maxDecodeIterations; i++ {
		var next string
		var err error
		if i == 0 {
			next, err = url.QueryUnescape(current)
		} else {
			next, err = url.PathUnescape(current)
		}
		if err != nil || next == current {
			break
		}
		current = next
	}
	return current
}

// extractArray locates the serialized descriptor array in the decoded
// payload. Splitting on '&' is not safe here: decoded array contents may
// themselves contain '&'. Instead the array is walked from its opening
// bracket to its balanced top-level close; trailing sibling parameters
// after that close are ignored. A payload truncated before the close is
// returned as-is for repair.
func extractArray(decoded string) (string, bool) {
	body := decoded
	if idx := strings.Index(decoded, manifestMarker); idx >= 0 {
		body = decoded[idx+len(manifestMarker):]
	}

	start := strings.Index(body, "[")
	if start < 0 {
		return "", false
	}
	body = body[start:]

	end, balanced := scanArray(body)
	if balanced {
		return body[:end+1], true
	}
	return body, true
}

// scanArray walks a serialized array tracking string state and bracket
// nesting. It returns the index of the balancing top-level ']' when the
// array is complete.
func scanArray(s string) (end int, balanced bool) {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return len(s) - 1, false
}

// repairAndParse attempts to recover a parseable prefix from a truncated
// array. First the open brackets are closed in reverse order of opening,
// which succeeds when truncation fell between complete tokens. Failing
// that, the array is narrowed to its last fully-closed element.
func (d *ManifestDecoder) repairAndParse(arrayText string) ([]models.DocumentDescriptor, error) {
	if repaired, ok := closeOpenBrackets(arrayText); ok {
		if docs, err := parseDescriptors(repaired); err == nil {
			d.logger.Info().Int("descriptors", len(docs)).Msg("Repaired truncated manifest by closing brackets")
			return docs, nil
		}
	}

	narrowed, ok := narrowToLastElement(arrayText)
	if !ok {
		return nil, fmt.Errorf("%w: no complete element to recover", ErrMalformedManifest)
	}
	docs, err := parseDescriptors(narrowed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}
	d.logger.Info().Int("descriptors", len(docs)).Msg("Recovered manifest prefix up to last complete element")
	return docs, nil
}

// closeOpenBrackets appends the closers for any unbalanced brackets, in
// reverse order of opening so the result stays structurally valid. It
// refuses to repair a payload truncated mid-string.
func closeOpenBrackets(s string) (string, bool) {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			stack = append(stack, ']')
		case '{':
			stack = append(stack, '}')
		case ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", false
			}
			stack = stack[:len(stack)-1]
		}
	}

	if inString {
		return "", false
	}
	if len(stack) == 0 {
		return s, true
	}
	// A payload ending mid-number or mid-token cannot be closed without
	// altering the value it was cut inside; leave that to the narrowing
	// pass, which drops the partial element instead.
	trimmed := strings.TrimRight(s, " \t\r\n")
	if len(trimmed) > 0 {
		switch trimmed[len(trimmed)-1] {
		case '"', '}', ']':
		default:
			return "", false
		}
	}

	var sb strings.Builder
	sb.WriteString(s)
	for i := len(stack) - 1; i >= 0; i-- {
		sb.WriteByte(stack[i])
	}
	return sb.String(), true
}

// narrowToLastElement cuts a truncated array back to its last complete
// top-level object and closes the array.
func narrowToLastElement(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	lastComplete := -1

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']':
			depth--
		case '}':
			depth--
			if depth == 1 {
				lastComplete = i
			}
		}
	}

	if lastComplete < 0 {
		return "", false
	}
	return s[:lastComplete+1] + "]", true
}

func parseDescriptors(arrayText string) ([]models.DocumentDescriptor, error) {
	var docs []models.DocumentDescriptor
	if err := json.Unmarshal([]byte(arrayText), &docs); err != nil {
		return nil, err
	}
	return docs, nil
}
