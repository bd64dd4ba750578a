package extract

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/atsume/internal/models"
	"github.com/hyperjump/atsume/internal/recordid"
)

// mapItem normalizes one item. It returns nil when the item carries no usable prompt.
func (e *Extractor) mapItem(item interface{}) *models.Record {
	switch v := item.(type) {
	case string:
		prompt := strings.TrimSpace(v)
		if prompt == "" {
			return nil
		}
		return &models.Record{ID: recordid.FromPrompt(prompt, ""), PromptText: prompt}
	case map[string]interface{}:
		return e.mapObject(v)
	default:
		return nil
	}
}

func (e *Extractor) mapObject(obj map[string]interface{}) *models.Record {
	consumed := make(map[string]struct{})
	var metaKey string
	var meta map[string]interface{}
	metaConsumed := make(map[string]struct{})

	prompt, key, ok := firstString(obj, e.keys.PromptKeys)
	if ok {
		consumed[key] = struct{}{}
	} else {
		// Prompts often live one level down, e.g. {"id": 1, "meta": {"prompt": "..."}}.
		for _, mk := range e.keys.MetaKeys {
			k, child, found := lookupKey(obj, mk)
			m, isMap := child.(map[string]interface{})
			if !found || !isMap {
				continue
			}
			if p, pk, ok := firstString(m, e.keys.PromptKeys); ok {
				prompt, metaKey, meta = p, k, m
				metaConsumed[pk] = struct{}{}
				break
			}
		}
	}
	if prompt == "" {
		return nil
	}

	r := &models.Record{PromptText: prompt}

	if neg, k, ok := firstString(obj, e.keys.NegativeKeys); ok {
		r.NegativePromptText = neg
		consumed[k] = struct{}{}
	} else if meta != nil {
		if neg, k, ok := firstString(meta, e.keys.NegativeKeys); ok {
			r.NegativePromptText = neg
			metaConsumed[k] = struct{}{}
		}
	}

	if id, k, ok := firstScalar(obj, e.keys.IDKeys); ok {
		r.ID = id
		consumed[k] = struct{}{}
	} else {
		r.ID = recordid.FromPrompt(r.PromptText, r.NegativePromptText)
	}

	if model, k, ok := firstScalar(obj, e.keys.ModelIDKeys); ok {
		r.SourceModelID = model
		consumed[k] = struct{}{}
	} else if meta != nil {
		if model, k, ok := firstScalar(meta, e.keys.ModelIDKeys); ok {
			r.SourceModelID = model
			metaConsumed[k] = struct{}{}
		}
	}

	rest := make(map[string]interface{})
	for k, v := range obj {
		if _, skip := consumed[k]; skip {
			continue
		}
		if k == metaKey {
			if remaining := without(meta, metaConsumed); len(remaining) > 0 {
				rest[k] = remaining
			}
			continue
		}
		rest[k] = v
	}
	if len(rest) > 0 {
		r.RawMetadata = rest
	}
	return r
}

// firstString returns the first alias present with a non-blank string value, trimmed.
func firstString(obj map[string]interface{}, aliases []string) (string, string, bool) {
	for _, alias := range aliases {
		k, v, ok := lookupKey(obj, alias)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s, k, true
			}
		}
	}
	return "", "", false
}

// firstScalar returns the first alias present with a non-empty string or numeric value.
func firstScalar(obj map[string]interface{}, aliases []string) (string, string, bool) {
	for _, alias := range aliases {
		k, v, ok := lookupKey(obj, alias)
		if !ok {
			continue
		}
		if s := scalarString(v); s != "" {
			return s, k, true
		}
	}
	return "", "", false
}

func scalarString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return ""
	}
}

// lookupKey finds alias in obj, exact match first, then case-insensitive.
// It returns the key as spelled in obj.
func lookupKey(obj map[string]interface{}, alias string) (string, interface{}, bool) {
	if v, ok := obj[alias]; ok {
		return alias, v, true
	}
	for _, k := range sortedKeys(obj) {
		if strings.EqualFold(k, alias) {
			return k, obj[k], true
		}
	}
	return "", nil, false
}

func lookup(obj map[string]interface{}, alias string) (interface{}, bool) {
	_, v, ok := lookupKey(obj, alias)
	return v, ok
}

func without(obj map[string]interface{}, drop map[string]struct{}) map[string]interface{} {
	out := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		if _, skip := drop[k]; !skip {
			out[k] = v
		}
	}
	return out
}

func sortedKeys(obj map[string]interface{}) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
