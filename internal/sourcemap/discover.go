package sourcemap

import (
	"bytes"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

var errInvalidDataURL = errors.New("invalid data url")

var commentMarkers = [][]byte{
	[]byte("//# sourceMappingURL="),
	[]byte("//@ sourceMappingURL="),
}

// FindReference returns the source map reference from the last
// sourceMappingURL comment in a script, or "" when there is none.
func FindReference(script []byte) string {
	best := -1
	var marker []byte
	for _, m := range commentMarkers {
		if idx := bytes.LastIndex(script, m); idx > best {
			best = idx
			marker = m
		}
	}
	if best < 0 {
		return ""
	}

	rest := script[best+len(marker):]
	if end := bytes.IndexAny(rest, "\r\n"); end >= 0 {
		rest = rest[:end]
	}
	ref := strings.TrimSpace(string(rest))
	// CSS-style block comment terminator in bundles that wrap the reference.
	ref = strings.TrimSpace(strings.TrimSuffix(ref, "*/"))
	if i := strings.IndexAny(ref, " \t"); i >= 0 {
		ref = ref[:i]
	}
	return ref
}

func headerReference(h http.Header) string {
	if h == nil {
		return ""
	}
	if v := strings.TrimSpace(h.Get("SourceMap")); v != "" {
		return v
	}
	return strings.TrimSpace(h.Get("X-SourceMap"))
}

func isDataURL(ref string) bool {
	return len(ref) >= 5 && strings.EqualFold(ref[:5], "data:")
}

// decodeDataURL decodes an inline map, base64 or percent-encoded.
func decodeDataURL(ref string) ([]byte, error) {
	comma := strings.IndexByte(ref, ',')
	if comma < 0 {
		return nil, errInvalidDataURL
	}
	meta, payload := ref[len("data:"):comma], ref[comma+1:]

	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		}
		if err != nil {
			return nil, errors.Join(errInvalidDataURL, err)
		}
		return data, nil
	}

	data, err := url.PathUnescape(payload)
	if err != nil {
		return nil, errors.Join(errInvalidDataURL, err)
	}
	return []byte(data), nil
}

// resolveReference resolves a map reference relative to the script URL.
func resolveReference(scriptURL, ref string) (string, error) {
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if refURL.IsAbs() {
		return refURL.String(), nil
	}
	base, err := url.Parse(scriptURL)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(refURL).String(), nil
}
