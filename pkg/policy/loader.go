package policy

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/rhuss/keystone/pkg/api"
	"github.com/rhuss/keystone/pkg/debug"
	"gopkg.in/yaml.v3"
)

// document is the YAML layout of a policy file:
//
//	privilegeTargets:
//	  MethodPrivilege:
//	    'Acme:PublishPost':
//	      matcher: 'blog\.PostService->Publish'
//	roles:
//	  'Acme:Editor':
//	    parentRoles: ['Acme:Author']
//	    privileges:
//	      - privilegeTarget: 'Acme:PublishPost'
//	        permission: GRANT
type document struct {
	PrivilegeTargets map[string]map[string]targetDocument `yaml:"privilegeTargets"`
	Roles            map[string]roleDocument              `yaml:"roles"`
}

type targetDocument struct {
	Matcher    yaml.Node                    `yaml:"matcher"`
	Parameters map[string]parameterDocument `yaml:"parameters"`
}

type parameterDocument struct {
	Description string `yaml:"description"`
}

type roleDocument struct {
	Abstract    bool                `yaml:"abstract"`
	Label       string              `yaml:"label"`
	Description string              `yaml:"description"`
	ParentRoles []string            `yaml:"parentRoles"`
	Privileges  []privilegeDocument `yaml:"privileges"`
}

type privilegeDocument struct {
	PrivilegeTarget string            `yaml:"privilegeTarget"`
	Permission      string            `yaml:"permission"`
	Parameters      map[string]string `yaml:"parameters"`
}

// Load reads a policy file and builds the graph.
func Load(path string, types Types) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, api.NewConfigurationError(path, "reading policy file").WithCause(err)
	}
	g, err := Parse(data, types)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	slog.Info("policy loaded", "path", path, "roles", len(g.roleOrder), "targets", len(g.targetOrder))
	return g, nil
}

// Parse builds the graph from YAML policy data.
func Parse(data []byte, types Types) (*Graph, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, api.NewConfigurationError("policy", "parsing policy YAML").WithCause(err)
	}

	b := NewBuilder(types)
	var errs []error

	for _, typeName := range sortedKeys(doc.PrivilegeTargets) {
		targets := doc.PrivilegeTargets[typeName]
		for _, id := range sortedKeys(targets) {
			td := targets[id]
			b.AddTarget(TargetDefinition{
				ID:         id,
				Type:       typeName,
				Matcher:    td.Matcher,
				Parameters: sortedKeys(td.Parameters),
			})
		}
	}

	for _, id := range sortedKeys(doc.Roles) {
		rd := doc.Roles[id]
		def := RoleDefinition{
			ID:          id,
			Abstract:    rd.Abstract,
			Label:       rd.Label,
			Description: rd.Description,
			Parents:     rd.ParentRoles,
		}
		for _, pd := range rd.Privileges {
			perm, err := ParsePermission(pd.Permission)
			if err != nil {
				errs = append(errs, fmt.Errorf("role %s, target %s: %w", id, pd.PrivilegeTarget, err))
				continue
			}
			var params []Parameter
			for _, name := range sortedKeys(pd.Parameters) {
				params = append(params, Parameter{Name: name, Value: pd.Parameters[name]})
			}
			def.Privileges = append(def.Privileges, PrivilegeDefinition{
				Target:     pd.PrivilegeTarget,
				Permission: perm,
				Parameters: params,
			})
		}
		b.AddRole(def)
		debug.Log("policy", "role parsed", "role", id, "parents", rd.ParentRoles, "privileges", len(def.Privileges))
	}

	if len(errs) > 0 {
		return nil, api.NewConfigurationError("policy", "invalid privileges").WithCause(errors.Join(errs...))
	}
	return b.Build()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
