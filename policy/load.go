package policy

import (
	"fmt"
	"os"

	gwerrors "github.com/jrsteele09/volunteer-gateway/internal/errors"
	"gopkg.in/yaml.v3"
)

// fileFormat is the on-disk YAML layout of a policy.
//
//	login: /login
//	protected: [/dashboard, /profile, /events]
//	roles:
//	  manager: [/admin, /reports]
//	  lead: [/events/manage]
//	  volunteer: [/dashboard]
//	landing:            # optional, defaults per role
//	  manager: /dashboard/manager
type fileFormat struct {
	Login     string            `yaml:"login"`
	Protected []string          `yaml:"protected"`
	Roles     map[Role][]string `yaml:"roles"`
	Landing   map[Role]string   `yaml:"landing"`
}

// Parse reads a YAML policy and validates it.
func Parse(data []byte) (*Policy, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", gwerrors.ErrInvalidPolicy, err)
	}

	var routes []Route
	for _, role := range Roles() {
		for _, prefix := range f.Roles[role] {
			routes = append(routes, Route{Prefix: prefix, Role: role})
		}
	}
	for role := range f.Roles {
		if !role.Valid() {
			return nil, fmt.Errorf("%w: unknown role %q", gwerrors.ErrInvalidPolicy, role)
		}
	}

	landing := Default().Landing
	for role, path := range f.Landing {
		landing[role] = path
	}

	p := New(f.Login, f.Protected, routes, landing)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads and parses a policy file. An empty path returns Default.
func Load(path string) (*Policy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, gwerrors.Wrapf(err, "reading policy file %s", path)
	}
	return Parse(data)
}
