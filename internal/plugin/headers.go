package plugin

import (
	"context"
	"net/http"
)

// TypeHeaders is the type tag for the header manipulation filter.
const TypeHeaders = "headers"

// HeadersFilter sets, adds, and removes request and response headers.
// Recognized options: request_set, request_add, request_remove,
// response_set, response_add, response_remove.
type HeadersFilter struct {
	requestSet     map[string]string
	requestAdd     map[string]string
	requestRemove  []string
	responseSet    map[string]string
	responseAdd    map[string]string
	responseRemove []string
}

// NewHeadersFilter builds a headers filter from configuration.
func NewHeadersFilter(cfg map[string]any, _ Deps) (Filter, error) {
	f := &HeadersFilter{}

	var err error
	if f.requestSet, err = optStringMap(cfg, "request_set"); err != nil {
		return nil, err
	}
	if f.requestAdd, err = optStringMap(cfg, "request_add"); err != nil {
		return nil, err
	}
	if f.requestRemove, err = optStringSlice(cfg, "request_remove"); err != nil {
		return nil, err
	}
	if f.responseSet, err = optStringMap(cfg, "response_set"); err != nil {
		return nil, err
	}
	if f.responseAdd, err = optStringMap(cfg, "response_add"); err != nil {
		return nil, err
	}
	if f.responseRemove, err = optStringSlice(cfg, "response_remove"); err != nil {
		return nil, err
	}

	return f, nil
}

// Name implements Filter.
func (f *HeadersFilter) Name() string {
	return TypeHeaders
}

// OnRequest implements Filter.
func (f *HeadersFilter) OnRequest(_ context.Context, rc *RequestContext) (*ShortCircuit, error) {
	for key, value := range f.requestSet {
		rc.Request.Header.Set(key, value)
	}
	for key, value := range f.requestAdd {
		rc.Request.Header.Add(key, value)
	}
	for _, key := range f.requestRemove {
		rc.Request.Header.Del(key)
	}
	return nil, nil
}

// OnResponse implements Filter.
func (f *HeadersFilter) OnResponse(_ context.Context, _ *RequestContext, resp *http.Response) (*ShortCircuit, error) {
	for key, value := range f.responseSet {
		resp.Header.Set(key, value)
	}
	for key, value := range f.responseAdd {
		resp.Header.Add(key, value)
	}
	for _, key := range f.responseRemove {
		resp.Header.Del(key)
	}
	return nil, nil
}
