package routing

import (
	"errors"
	"strings"
)

type RouteClass string

const (
	RouteClassInternalAPI RouteClass = "internal_api"
	RouteClassOps         RouteClass = "ops"
)

func (rc RouteClass) valid() bool {
	return rc == RouteClassInternalAPI || rc == RouteClassOps
}

type Classifier struct {
	entrypoint string
	exact      map[string]RouteClass
}

func NewClassifier(a Allowlist, entrypoint string) (*Classifier, error) {
	ep, ok := a.Entrypoints[entrypoint]
	if !ok {
		return nil, errors.New("allowlist: missing entrypoint")
	}
	if len(ep.Routes) == 0 {
		return nil, errors.New("allowlist: entrypoint routes empty")
	}

	exact := make(map[string]RouteClass, len(ep.Routes))
	for _, r := range ep.Routes {
		rc := RouteClass(r.RouteClass)
		if r.Path == "" || !strings.HasPrefix(r.Path, "/") || !rc.valid() {
			return nil, errors.New("allowlist: invalid route")
		}
		exact[r.Path] = rc
	}
	return &Classifier{entrypoint: entrypoint, exact: exact}, nil
}

func (c *Classifier) Entrypoint() string { return c.entrypoint }

// Classify falls back to the path shape for routes the allowlist does not
// name, so unknown /api paths are still treated as API traffic.
func (c *Classifier) Classify(path string) RouteClass {
	if rc, ok := c.exact[path]; ok {
		return rc
	}
	if hasPrefixSegment(path, "/api") {
		return RouteClassInternalAPI
	}
	return RouteClassOps
}

func hasPrefixSegment(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
