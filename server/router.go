package server

import (
	"encoding/json"
	"log"
	"net/http"
	"regexp"
	"strings"
)

// RegexpHandler dispatches requests by matching the path against a list of
// regular expressions, in registration order. The first pattern that matches
// owns the request; if none of its methods match we answer 405 with an Allow
// header rather than falling through to a later route.
type RegexpHandler struct {
	routes []*route
}

type route struct {
	pattern *regexp.Regexp
	methods map[string]bool
	handler http.Handler
}

func buildRoute(regex string) *regexp.Regexp {
	r, err := regexp.Compile(regex)
	if err != nil {
		log.Fatal(err)
	}
	return r
}

func methodSet(methods []string) map[string]bool {
	set := make(map[string]bool, len(methods)+1)
	for _, m := range methods {
		set[strings.ToUpper(m)] = true
	}
	// HEAD piggybacks on GET, net/http strips the body for us.
	if set["GET"] {
		set["HEAD"] = true
	}
	return set
}

func (h *RegexpHandler) Handler(pattern *regexp.Regexp, methods []string, handler http.Handler) {
	h.routes = append(h.routes, &route{
		pattern: pattern,
		methods: methodSet(methods),
		handler: handler,
	})
}

func (h *RegexpHandler) HandleFunc(pattern *regexp.Regexp, methods []string, f func(http.ResponseWriter, *http.Request)) {
	h.Handler(pattern, methods, http.HandlerFunc(f))
}

func (rt *route) allow() string {
	methods := make([]string, 0, len(rt.methods)+1)
	for m := range rt.methods {
		methods = append(methods, m)
	}
	methods = append(methods, "OPTIONS")
	return strings.Join(methods, ", ")
}

func (h *RegexpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := strings.ToUpper(r.Method)
	for _, rt := range h.routes {
		if !rt.pattern.MatchString(r.URL.Path) {
			continue
		}
		if rt.methods[method] {
			rt.handler.ServeHTTP(w, r)
		} else if method == "OPTIONS" {
			w.Header().Set("Allow", rt.allow())
		} else {
			w.Header().Set("Allow", rt.allow())
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusMethodNotAllowed)
			json.NewEncoder(w).Encode(new405(r))
		}
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(new404(r))
}
