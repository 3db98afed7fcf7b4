package rbac

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tapline/tapline/internal/shared"
)

// DefaultRootAdminRole is the role that, held at the root bar, grants every capability on every bar.
const DefaultRootAdminRole = "admin"

const wildcard = "*"

type capabilitySet map[shared.Capability]struct{}

func (s capabilitySet) has(c shared.Capability) bool {
	_, ok := s[c]
	return ok
}

func (s capabilitySet) sorted() []shared.Capability {
	out := make([]shared.Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Policy maps role names to capabilities and defines what principals get without any role.
type Policy struct {
	roles         map[string]capabilitySet
	anonymous     capabilitySet
	authenticated capabilitySet
	rootAdmin     string
}

// PolicyDocument is the YAML form of a Policy.
type PolicyDocument struct {
	RootAdminRole string              `yaml:"root_admin_role"`
	Anonymous     []string            `yaml:"anonymous"`
	Authenticated []string            `yaml:"authenticated"`
	Roles         map[string][]string `yaml:"roles"`
}

// DefaultPolicy returns the built-in role table.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(PolicyDocument{
		RootAdminRole: DefaultRootAdminRole,
		Anonymous: []string{
			string(shared.CapViewBar),
			string(shared.CapViewInventory),
			string(shared.CapViewAccounts),
			string(shared.CapViewRoles),
		},
		Authenticated: []string{string(shared.CapViewUsers)},
		Roles: map[string][]string{
			"admin": {wildcard},
			"staff": {
				string(shared.CapViewBar),
				string(shared.CapManageBarSettings),
				string(shared.CapViewInventory),
				string(shared.CapViewAccounts),
				string(shared.CapViewRoles),
				string(shared.CapViewUsers),
			},
			"customer": {
				string(shared.CapViewBar),
				string(shared.CapViewInventory),
			},
			"usermanager": {
				string(shared.CapViewUsers),
				string(shared.CapManageUsers),
			},
		},
	})
	if err != nil {
		panic(err)
	}
	return p
}

// NewPolicy validates a document and builds the policy.
func NewPolicy(doc PolicyDocument) (*Policy, error) {
	p := &Policy{roles: make(map[string]capabilitySet, len(doc.Roles)), rootAdmin: strings.TrimSpace(doc.RootAdminRole)}
	if p.rootAdmin == "" {
		p.rootAdmin = DefaultRootAdminRole
	}
	var err error
	if p.anonymous, err = parseCapabilities(doc.Anonymous); err != nil {
		return nil, fmt.Errorf("rbac: anonymous: %w", err)
	}
	if p.authenticated, err = parseCapabilities(doc.Authenticated); err != nil {
		return nil, fmt.Errorf("rbac: authenticated: %w", err)
	}
	for name, caps := range doc.Roles {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("rbac: empty role name")
		}
		set, err := parseCapabilities(caps)
		if err != nil {
			return nil, fmt.Errorf("rbac: role %q: %w", name, err)
		}
		p.roles[name] = set
	}
	if _, ok := p.roles[p.rootAdmin]; !ok {
		return nil, fmt.Errorf("rbac: root admin role %q is not defined", p.rootAdmin)
	}
	return p, nil
}

// ParsePolicy decodes a YAML policy.
func ParsePolicy(data []byte) (*Policy, error) {
	var doc PolicyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("rbac: decode policy: %w", err)
	}
	return NewPolicy(doc)
}

// LoadPolicy reads a YAML policy file. An empty path yields DefaultPolicy.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rbac: read policy: %w", err)
	}
	return ParsePolicy(data)
}

func parseCapabilities(raw []string) (capabilitySet, error) {
	set := make(capabilitySet, len(raw))
	for _, name := range raw {
		if strings.TrimSpace(name) == wildcard {
			for _, c := range shared.AllCapabilities() {
				set[c] = struct{}{}
			}
			continue
		}
		c, err := shared.ParseCapability(name)
		if err != nil {
			return nil, err
		}
		set[c] = struct{}{}
	}
	return set, nil
}

// HasRole reports whether the role name is defined.
func (p *Policy) HasRole(name string) bool {
	_, ok := p.roles[name]
	return ok
}

// RoleGrants reports whether role grants capability.
func (p *Policy) RoleGrants(role string, c shared.Capability) bool {
	return p.roles[role].has(c)
}

// AnonymousAllows reports whether anyone, signed in or not, holds c.
func (p *Policy) AnonymousAllows(c shared.Capability) bool {
	return p.anonymous.has(c)
}

// AuthenticatedAllows reports whether every signed-in principal holds c.
func (p *Policy) AuthenticatedAllows(c shared.Capability) bool {
	return p.authenticated.has(c)
}

// RootAdminRole returns the name of the global override role.
func (p *Policy) RootAdminRole() string {
	return p.rootAdmin
}

// RoleNames lists defined roles in name order.
func (p *Policy) RoleNames() []string {
	names := make([]string, 0, len(p.roles))
	for name := range p.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Capabilities lists what a role grants.
func (p *Policy) Capabilities(role string) []shared.Capability {
	return p.roles[role].sorted()
}

// Document renders the policy back into its YAML form.
func (p *Policy) Document() PolicyDocument {
	doc := PolicyDocument{RootAdminRole: p.rootAdmin, Roles: make(map[string][]string, len(p.roles))}
	for _, c := range p.anonymous.sorted() {
		doc.Anonymous = append(doc.Anonymous, string(c))
	}
	for _, c := range p.authenticated.sorted() {
		doc.Authenticated = append(doc.Authenticated, string(c))
	}
	for name, set := range p.roles {
		caps := make([]string, 0, len(set))
		for _, c := range set.sorted() {
			caps = append(caps, string(c))
		}
		doc.Roles[name] = caps
	}
	return doc
}
