// Package router provides HTTP request routing for the gateway.
package router

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/vortexgw/vortex/internal/config"
)

// PathMatcher is the interface for path matching.
type PathMatcher interface {
	Match(path string) (bool, map[string]string)
	Type() string
	Pattern() string
}

// ExactMatcher matches exact paths.
type ExactMatcher struct {
	path string
}

// NewExactMatcher creates a new exact path matcher.
func NewExactMatcher(path string) *ExactMatcher {
	return &ExactMatcher{path: path}
}

// Match checks if the path matches exactly.
func (m *ExactMatcher) Match(path string) (matched bool, params map[string]string) {
	return path == m.path, nil
}

// Type returns the matcher type.
func (m *ExactMatcher) Type() string {
	return "exact"
}

// Pattern returns the pattern.
func (m *ExactMatcher) Pattern() string {
	return m.path
}

// PrefixMatcher matches path prefixes at segment boundaries.
type PrefixMatcher struct {
	prefix string
}

// NewPrefixMatcher creates a new prefix path matcher.
func NewPrefixMatcher(prefix string) *PrefixMatcher {
	return &PrefixMatcher{prefix: prefix}
}

// Match checks if the path starts with the prefix. "/api" matches "/api"
// and "/api/users" but not "/apiv2".
func (m *PrefixMatcher) Match(path string) (matched bool, params map[string]string) {
	if strings.HasPrefix(path, m.prefix) {
		if len(path) == len(m.prefix) {
			return true, nil
		}
		if strings.HasSuffix(m.prefix, "/") || path[len(m.prefix)] == '/' {
			return true, nil
		}
	}
	return false, nil
}

// Type returns the matcher type.
func (m *PrefixMatcher) Type() string {
	return "prefix"
}

// Pattern returns the pattern.
func (m *PrefixMatcher) Pattern() string {
	return m.prefix
}

// RegexMatcher matches paths using regular expressions.
type RegexMatcher struct {
	pattern string
	regex   *regexp.Regexp
}

// NewRegexMatcher creates a new regex path matcher.
func NewRegexMatcher(pattern string) (*RegexMatcher, error) {
	regex, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	return &RegexMatcher{
		pattern: pattern,
		regex:   regex,
	}, nil
}

// Match checks if the path matches the regex and extracts named groups.
func (m *RegexMatcher) Match(path string) (matched bool, params map[string]string) {
	matches := m.regex.FindStringSubmatch(path)
	if matches == nil {
		return false, nil
	}

	params = make(map[string]string)
	for i, name := range m.regex.SubexpNames() {
		if i > 0 && name != "" && i < len(matches) {
			params[name] = matches[i]
		}
	}

	return true, params
}

// Type returns the matcher type.
func (m *RegexMatcher) Type() string {
	return "regex"
}

// Pattern returns the pattern.
func (m *RegexMatcher) Pattern() string {
	return m.pattern
}

// MethodMatcher matches HTTP methods.
type MethodMatcher struct {
	methods map[string]bool
}

// NewMethodMatcher creates a new method matcher.
func NewMethodMatcher(methods []string) *MethodMatcher {
	m := &MethodMatcher{
		methods: make(map[string]bool),
	}

	for _, method := range methods {
		m.methods[strings.ToUpper(method)] = true
	}

	return m
}

// Match checks if the method matches.
func (m *MethodMatcher) Match(method string) bool {
	method = strings.ToUpper(method)

	if m.methods["*"] {
		return true
	}

	// HEAD automatically matches GET
	if method == "HEAD" && m.methods["GET"] {
		return true
	}

	return m.methods[method]
}

// HeaderMatcher matches a single HTTP header condition. With neither an
// exact value nor a regex configured, presence alone satisfies it.
type HeaderMatcher struct {
	config config.HeaderMatch
	regex  *regexp.Regexp
}

// NewHeaderMatcher creates a new header matcher.
func NewHeaderMatcher(cfg config.HeaderMatch) (*HeaderMatcher, error) {
	m := &HeaderMatcher{config: cfg}

	if cfg.Regex != "" {
		regex, err := regexp.Compile(cfg.Regex)
		if err != nil {
			return nil, err
		}
		m.regex = regex
	}

	return m, nil
}

// Match checks if the headers satisfy the condition.
func (m *HeaderMatcher) Match(headers http.Header) bool {
	// Header names are case-insensitive
	value := headers.Get(m.config.Name)
	if value == "" {
		return false
	}

	if m.config.Exact != "" {
		return value == m.config.Exact
	}

	if m.regex != nil {
		return m.regex.MatchString(value)
	}

	return true
}

// QueryParamMatcher matches a single query parameter condition.
type QueryParamMatcher struct {
	config config.QueryParamMatch
	regex  *regexp.Regexp
}

// NewQueryParamMatcher creates a new query parameter matcher.
func NewQueryParamMatcher(cfg config.QueryParamMatch) (*QueryParamMatcher, error) {
	m := &QueryParamMatcher{config: cfg}

	if cfg.Regex != "" {
		regex, err := regexp.Compile(cfg.Regex)
		if err != nil {
			return nil, err
		}
		m.regex = regex
	}

	return m, nil
}

// Match checks if the query parameters satisfy the condition.
func (m *QueryParamMatcher) Match(query url.Values) bool {
	if !query.Has(m.config.Name) {
		return false
	}
	value := query.Get(m.config.Name)

	if m.config.Exact != "" {
		return value == m.config.Exact
	}

	if m.regex != nil {
		return m.regex.MatchString(value)
	}

	return true
}

// HostMatcher matches request hosts against a route's host patterns.
// Patterns are exact names or leftmost wildcards ("*.example.com", one
// label). A route with no patterns matches every host.
type HostMatcher struct {
	exact     map[string]bool
	wildcards []string // literal suffixes of "*." patterns
}

// NewHostMatcher creates a host matcher from the given patterns.
func NewHostMatcher(patterns []string) *HostMatcher {
	m := &HostMatcher{exact: make(map[string]bool, len(patterns))}

	for _, pattern := range patterns {
		pattern = strings.ToLower(pattern)
		if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
			m.wildcards = append(m.wildcards, suffix)
			continue
		}
		m.exact[pattern] = true
	}

	return m
}

// Match checks whether host satisfies any pattern. The returned
// specificity is the length of the matched pattern's literal part, with
// exact matches ranked above every wildcard.
func (m *HostMatcher) Match(host string) (matched bool, specificity int) {
	if len(m.exact) == 0 && len(m.wildcards) == 0 {
		return true, 0
	}

	host = strings.ToLower(host)
	// Strip a port if present.
	if idx := strings.LastIndex(host, ":"); idx != -1 && !strings.Contains(host[idx:], "]") {
		host = host[:idx]
	}

	if m.exact[host] {
		return true, hostExactSpecificity
	}

	best := -1
	for _, suffix := range m.wildcards {
		if matchHostWildcard(suffix, host) && len(suffix) > best {
			best = len(suffix)
		}
	}
	if best >= 0 {
		return true, best
	}

	return false, 0
}

// hostExactSpecificity ranks exact host matches above any wildcard suffix.
const hostExactSpecificity = 1 << 16

// matchHostWildcard reports whether host matches "*.suffix" with the
// wildcard covering exactly one label.
func matchHostWildcard(suffix, host string) bool {
	if !strings.HasSuffix(host, "."+suffix) {
		return false
	}
	label := host[:len(host)-len(suffix)-1]
	return label != "" && !strings.Contains(label, ".")
}
