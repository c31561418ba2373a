package config

// Route represents a routing rule configuration.
type Route struct {
	Name     string       `yaml:"name" json:"name"`
	Hosts    []string     `yaml:"hosts,omitempty" json:"hosts,omitempty"`
	Priority int          `yaml:"priority,omitempty" json:"priority,omitempty"`
	Match    []RouteMatch `yaml:"match,omitempty" json:"match,omitempty"`
	Plugins  []PluginRef  `yaml:"plugins,omitempty" json:"plugins,omitempty"`
	Backends BackendGroup `yaml:"backends" json:"backends"`
	Timeout  Duration     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retries  int          `yaml:"retries,omitempty" json:"retries,omitempty"`
}

// RouteMatch represents one matching condition set for a route. A route
// matches when any of its RouteMatch entries matches; within an entry every
// condition must hold.
type RouteMatch struct {
	URI         *URIMatch         `yaml:"uri,omitempty" json:"uri,omitempty"`
	Methods     []string          `yaml:"methods,omitempty" json:"methods,omitempty"`
	Headers     []HeaderMatch     `yaml:"headers,omitempty" json:"headers,omitempty"`
	QueryParams []QueryParamMatch `yaml:"queryParams,omitempty" json:"queryParams,omitempty"`
}

// IsEmpty returns true if the RouteMatch has no conditions.
func (rm *RouteMatch) IsEmpty() bool {
	return rm.URI == nil && len(rm.Methods) == 0 && len(rm.Headers) == 0 && len(rm.QueryParams) == 0
}

// URIMatch represents URI matching criteria. Exactly one of Exact, Prefix,
// or Regex must be set.
type URIMatch struct {
	Exact  string `yaml:"exact,omitempty" json:"exact,omitempty"`
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Regex  string `yaml:"regex,omitempty" json:"regex,omitempty"`
}

// HeaderMatch represents header matching criteria. With neither Exact nor
// Regex set, the header only needs to be present.
type HeaderMatch struct {
	Name  string `yaml:"name" json:"name"`
	Exact string `yaml:"exact,omitempty" json:"exact,omitempty"`
	Regex string `yaml:"regex,omitempty" json:"regex,omitempty"`
}

// QueryParamMatch represents query parameter matching criteria.
type QueryParamMatch struct {
	Name  string `yaml:"name" json:"name"`
	Exact string `yaml:"exact,omitempty" json:"exact,omitempty"`
	Regex string `yaml:"regex,omitempty" json:"regex,omitempty"`
}

// PluginRef names a filter in a route's chain together with its
// type-specific configuration. Filters run in declaration order.
type PluginRef struct {
	Type   string         `yaml:"type" json:"type"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// Load balancing policies.
const (
	PolicyRoundRobin     = "round_robin"
	PolicyWeightedRandom = "weighted_random"
	PolicyRandom         = "random"
)

// Behavior when every backend host is marked unhealthy.
const (
	ExhaustedFailOpen = "fail_open"
	ExhaustedFail     = "fail"
)

// BackendGroup is the set of upstream hosts a route forwards to.
type BackendGroup struct {
	Hosts       []BackendHost `yaml:"hosts" json:"hosts"`
	Policy      string        `yaml:"policy,omitempty" json:"policy,omitempty"`
	OnExhausted string        `yaml:"onExhausted,omitempty" json:"onExhausted,omitempty"`
	Cooldown    Duration      `yaml:"cooldown,omitempty" json:"cooldown,omitempty"`
	Scheme      string        `yaml:"scheme,omitempty" json:"scheme,omitempty"`
}

// BackendHost represents a single upstream host.
type BackendHost struct {
	Address string `yaml:"address" json:"address"`
	Port    int    `yaml:"port" json:"port"`
	Weight  int    `yaml:"weight,omitempty" json:"weight,omitempty"`
}
