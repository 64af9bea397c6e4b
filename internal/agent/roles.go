package agent

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed roles.yaml
var rolesYAML []byte

// RoleSpec configures one agent role from the embedded role book.
type RoleSpec struct {
	Model        string   `yaml:"model"`
	Temperature  float64  `yaml:"temperature"`
	Tools        []string `yaml:"tools"`
	SystemPrompt string   `yaml:"system_prompt"`
}

type roleBook struct {
	Roles map[string]RoleSpec `yaml:"roles"`
}

var roles map[string]RoleSpec

func init() {
	var book roleBook
	if err := yaml.Unmarshal(rolesYAML, &book); err != nil {
		panic(fmt.Sprintf("embedded role book is invalid: %v", err))
	}
	roles = book.Roles
}

// Role returns the spec for a role name.
func Role(name string) (RoleSpec, bool) {
	spec, ok := roles[name]
	return spec, ok
}

// KnownRole reports whether name is in the role book.
func KnownRole(name string) bool {
	_, ok := roles[name]
	return ok
}

// RoleNames returns every role name, sorted.
func RoleNames() []string {
	names := make([]string, 0, len(roles))
	for name := range roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ModelForRole returns the role's configured model, or the fallback.
func ModelForRole(name, fallback string) string {
	if spec, ok := roles[name]; ok && spec.Model != "" {
		return spec.Model
	}
	return fallback
}
