package couch

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const designPrefix = "_design/"

// DocPath percent-encodes a document id for use as a single path segment.
// Slashes in ordinary ids are escaped; design document ids keep their
// "_design/" prefix and only the name is escaped.
func DocPath(id string) string {
	if name, ok := strings.CutPrefix(id, designPrefix); ok {
		return designPrefix + url.PathEscape(name)
	}
	return url.PathEscape(id)
}

// jsonParams are query parameters CouchDB expects as JSON values.
var jsonParams = map[string]bool{
	"key":       true,
	"keys":      true,
	"startkey":  true,
	"start_key": true,
	"endkey":    true,
	"end_key":   true,
}

// EncodeParams converts view options into query parameters.
func EncodeParams(params map[string]any) (url.Values, error) {
	values := url.Values{}
	for k, v := range params {
		if jsonParams[k] {
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("couch: cannot encode %s: %w", k, err)
			}
			values.Set(k, string(raw))
			continue
		}
		s, err := paramString(v)
		if err != nil {
			return nil, fmt.Errorf("couch: cannot encode %s: %w", k, err)
		}
		values.Set(k, s)
	}
	return values, nil
}

func paramString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		return "", fmt.Errorf("unsupported parameter type %T", v)
	}
}
