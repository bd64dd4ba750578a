package extract

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/titanous/json5"

	"github.com/hyperjump/atsume/internal/models"
)

// Bounds on prompt length accepted by the raw-text scan of an HTML page.
const (
	minScannedPrompt = 30
	maxScannedPrompt = 4000
)

var globalAssign = regexp.MustCompile(`window\.[A-Za-z_$][\w$]*\s*=\s*`)

// EmbeddedJSON returns every machine-readable blob found in an HTML document:
// the __NEXT_DATA__ script, application/json scripts, and object literals assigned
// to window globals in inline scripts. Blobs that fail to parse are skipped.
func EmbeddedJSON(html []byte) []interface{} {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil
	}
	var blobs []interface{}
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		id, _ := s.Attr("id")
		typ, _ := s.Attr("type")
		typ = strings.ToLower(strings.TrimSpace(typ))
		if id == "__NEXT_DATA__" || typ == "application/json" || typ == "application/ld+json" {
			if v, err := DecodeJSON([]byte(text)); err == nil {
				blobs = append(blobs, v)
			}
			return
		}
		if typ != "" && typ != "text/javascript" && typ != "module" {
			return
		}
		for _, loc := range globalAssign.FindAllStringIndex(text, -1) {
			literal := balancedObject(text[loc[1]:])
			if literal == "" {
				continue
			}
			var v interface{}
			if err := json5.Unmarshal([]byte(literal), &v); err == nil {
				blobs = append(blobs, v)
			}
		}
	})
	return blobs
}

// balancedObject returns the object or array literal at the start of s, tracking
// string quoting so braces inside strings are ignored. It returns "" if s does not
// start with a complete literal.
func balancedObject(s string) string {
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return ""
	}
	depth := 0
	var quote byte
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

// HTMLItems returns the raw items found in an HTML page: the item sequences of its
// embedded JSON blobs, or, when no blob carries prompts, the prompt strings found by
// scanning the raw markup for quoted prompt fields.
func (e *Extractor) HTMLItems(html []byte) []interface{} {
	var items []interface{}
	for _, blob := range EmbeddedJSON(html) {
		items = append(items, e.Items(blob)...)
	}
	if len(items) > 0 {
		return items
	}
	for _, text := range e.scanHTML(html) {
		items = append(items, text)
	}
	return items
}

// ExtractHTML extracts records from an HTML page; see HTMLItems.
func (e *Extractor) ExtractHTML(html []byte) []*models.Record {
	return dedupe(e.ExtractItems(e.HTMLItems(html)))
}

func (e *Extractor) promptPattern() *regexp.Regexp {
	e.patternOnce.Do(func() {
		keys := make([]string, len(e.keys.PromptKeys))
		for i, k := range e.keys.PromptKeys {
			keys[i] = regexp.QuoteMeta(k)
		}
		if len(keys) == 0 {
			return
		}
		e.pattern = regexp.MustCompile(`"(?:` + strings.Join(keys, "|") + `)"\s*:\s*"((?:[^"\\]|\\.)+)"`)
	})
	return e.pattern
}

// scanHTML is the last resort for pages whose state is not parseable as a whole:
// it pulls every "promptKey": "text" value of plausible length out of the markup.
func (e *Extractor) scanHTML(html []byte) []string {
	re := e.promptPattern()
	if re == nil {
		return nil
	}
	var out []string
	for _, m := range re.FindAllSubmatch(html, -1) {
		var text string
		if err := json.Unmarshal(append(append([]byte{'"'}, m[1]...), '"'), &text); err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		n := utf8.RuneCountInString(text)
		if n < minScannedPrompt || n > maxScannedPrompt {
			continue
		}
		out = append(out, text)
	}
	return out
}
