// Package responsetransformer sets the cache control headers of upstream
// responses from configured rules, for origins that do not send them.
package responsetransformer

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/always-cache/transcache/cache"
)

type Rules []Rule

// Rule matches requests by method, path and query. The first matching rule
// of Rules is applied.
type Rule struct {
	Prefix string `yaml:"prefix"`
	Path   string `yaml:"path"`
	// Method defaults to GET.
	Method string            `yaml:"method"`
	Query  map[string]string `yaml:"query"`
	// Default is the XX-Cache-Duration used if the response has none.
	Default string `yaml:"default"`
	// Override replaces the XX-Cache-Duration of the response.
	Override string `yaml:"override"`
	// Cache and Encode set XX-Cache and XX-Encode if the response has none.
	Cache   *bool             `yaml:"cache"`
	Encode  *bool             `yaml:"encode"`
	Headers map[string]string `yaml:"headers"`
}

// Apply applies the first rule matching the request of the response.
// Responses without a request are left alone.
func (r Rules) Apply(res *http.Response) error {
	if res.Request == nil {
		return nil
	}
	if rule := r.find(res.Request); rule != nil {
		applyRuleToResponse(*rule, res)
	}
	return nil
}

func applyRuleToResponse(rule Rule, res *http.Response) {
	if rule.Override != "" {
		log.Trace().Msg("Overriding cache duration")
		res.Header.Set(cache.HeaderCacheDuration, rule.Override)
	} else if rule.Default != "" && res.Header.Get(cache.HeaderCacheDuration) == "" {
		log.Trace().Msg("Applying default cache duration")
		res.Header.Set(cache.HeaderCacheDuration, rule.Default)
	}
	if rule.Cache != nil && res.Header.Get(cache.HeaderCache) == "" {
		res.Header.Set(cache.HeaderCache, strconv.FormatBool(*rule.Cache))
	}
	if rule.Encode != nil && res.Header.Get(cache.HeaderEncode) == "" {
		res.Header.Set(cache.HeaderEncode, strconv.FormatBool(*rule.Encode))
	}
	for name, value := range rule.Headers {
		log.Trace().Msgf("Setting header %s", name)
		res.Header.Set(name, value)
	}
}

func (r Rules) find(req *http.Request) *Rule {
	log.Trace().Msgf("Finding rule for request %s:%s", req.Method, req.URL.Path)
rulesLoop:
	for i, rule := range r {
		method := rule.Method
		if method == "" {
			method = http.MethodGet
		}
		if !strings.EqualFold(method, req.Method) {
			continue
		}
		if rule.Path != "" && rule.Path != req.URL.Path {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(req.URL.Path, rule.Prefix) {
			continue
		}
		if len(rule.Query) > 0 {
			qry := req.URL.Query()
			for name, value := range rule.Query {
				if value == "" && !qry.Has(name) {
					continue rulesLoop
				} else if value != "" && qry.Get(name) != value {
					continue rulesLoop
				}
			}
		}
		return &r[i]
	}
	return nil
}
