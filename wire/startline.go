package wire

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrMalformedStartLine = errors.New("malformed start line")

// StartLine is the first line of a request: method, target and version.
type StartLine struct {
	Method  Method
	Path    PathDetails
	Version string
}

// PathDetails carries the request target in its original form plus the
// pieces the rest of the server needs: the path without its query string and
// the decoded query parameters.
type PathDetails struct {
	Raw         string
	Isolated    string
	QueryParams map[string]string
}

// RouteKey is the normalized form used for registry and static-cache
// lookups: lowercased, without the leading slash.
func (p PathDetails) RouteKey() string {
	return strings.ToLower(strings.TrimPrefix(p.Isolated, "/"))
}

func (s StartLine) IsHTTP11() bool {
	return s.Version == "1.1"
}

// ParseStartLine parses `METHOD SP request-target SP HTTP/version`. The CRLF
// has already been stripped by the line reader.
func ParseStartLine(line string) (StartLine, error) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return StartLine{}, fmt.Errorf("%w: %q", ErrMalformedStartLine, line)
	}
	if parts[0] == "" || parts[1] == "" {
		return StartLine{}, fmt.Errorf("%w: empty method or target", ErrMalformedStartLine)
	}

	var version string
	switch parts[2] {
	case "HTTP/1.1":
		version = "1.1"
	case "HTTP/1.0":
		version = "1.0"
	default:
		return StartLine{}, fmt.Errorf("%w: unsupported version %q", ErrMalformedStartLine, parts[2])
	}

	return StartLine{
		Method:  ParseMethod(parts[0]),
		Path:    parseTarget(parts[1]),
		Version: version,
	}, nil
}

func parseTarget(target string) PathDetails {
	pd := PathDetails{
		Raw:         target,
		Isolated:    target,
		QueryParams: map[string]string{},
	}

	if idx := strings.Index(target, "?"); idx >= 0 {
		pd.Isolated = target[:idx]
		pd.QueryParams = parseQueryString(target[idx+1:])
	}
	return pd
}

// parseQueryString decodes `k=v&k=v`. Duplicate keys keep the last value.
// Pairs that fail percent-decoding are skipped rather than failing the whole
// request.
func parseQueryString(qs string) map[string]string {
	params := map[string]string{}
	for _, pair := range strings.Split(qs, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		decodedKey, err := url.QueryUnescape(key)
		if err != nil {
			continue
		}
		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			continue
		}
		params[decodedKey] = decodedValue
	}
	return params
}
