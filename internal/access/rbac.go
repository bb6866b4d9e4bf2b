package access

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Built-in roles. A visitor without a session is a guest, a signed-in
// visitor a user, and a user carrying the admin claim also an admin.
const (
	ROLE_GUEST = "guest"
	ROLE_USER  = "user"
	ROLE_ADMIN = "admin"
)

//go:embed policy.yaml
var defaultPolicy []byte

type Permission struct {
	Resource string   `yaml:"resource"`
	Actions  []string `yaml:"actions"`
}

type Role struct {
	Description string       `yaml:"description"`
	Permissions []Permission `yaml:"permissions"`
}

type RBACPolicy struct {
	DefaultRole string              `yaml:"default_role"`
	Roles       map[string]Role     `yaml:"roles"`
	Inheritance map[string][]string `yaml:"inheritance"`
}

type RBAC struct {
	policy *RBACPolicy
	mu     sync.RWMutex
	cache  map[string]bool // "roles|resource:action" -> allowed
}

var (
	rbacInstance *RBAC
	rbacOnce     sync.Once
)

// GetRBAC returns the process-wide RBAC instance, loaded with the embedded
// policy until LoadPolicy replaces it.
func GetRBAC() *RBAC {
	rbacOnce.Do(func() {
		rbacInstance = NewRBAC()
		if err := rbacInstance.LoadPolicyData(defaultPolicy); err != nil {
			panic(fmt.Sprintf("embedded RBAC policy is invalid: %v", err))
		}
	})
	return rbacInstance
}

func NewRBAC() *RBAC {
	return &RBAC{cache: make(map[string]bool)}
}

// LoadPolicy loads RBAC policy from YAML file
func (r *RBAC) LoadPolicy(filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}
	return r.LoadPolicyData(data)
}

func (r *RBAC) LoadPolicyData(data []byte) error {
	var policy RBACPolicy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return fmt.Errorf("failed to parse policy file: %w", err)
	}
	if _, ok := policy.Roles[ROLE_ADMIN]; !ok {
		return fmt.Errorf("policy does not define the %q role", ROLE_ADMIN)
	}

	r.mu.Lock()
	r.policy = &policy
	r.cache = make(map[string]bool)
	r.mu.Unlock()

	slog.Info("RBAC policy loaded", "roles", len(policy.Roles))
	return nil
}

// ExpandRoles adds inherited roles, or the default role when roles is empty.
// The result is sorted.
func (r *RBAC) ExpandRoles(roles ...string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.expandRoles(roles)
}

// expandRoles expects r.mu to be held.
func (r *RBAC) expandRoles(roles []string) []string {
	if len(roles) == 0 && r.policy != nil && r.policy.DefaultRole != "" {
		roles = []string{r.policy.DefaultRole}
	}

	all := make(map[string]bool)
	for _, role := range roles {
		all[role] = true
		r.addInheritedRoles(role, all)
	}

	result := make([]string, 0, len(all))
	for role := range all {
		result = append(result, role)
	}
	sort.Strings(result)
	return result
}

// addInheritedRoles recursively adds inherited roles
func (r *RBAC) addInheritedRoles(role string, roles map[string]bool) {
	if r.policy == nil || r.policy.Inheritance == nil {
		return
	}

	for _, inheritedRole := range r.policy.Inheritance[role] {
		if !roles[inheritedRole] {
			roles[inheritedRole] = true
			r.addInheritedRoles(inheritedRole, roles)
		}
	}
}

// Can checks if any of roles may perform action on resource.
func (r *RBAC) Can(roles []string, resource, action string) bool {
	r.mu.RLock()
	if r.policy == nil {
		r.mu.RUnlock()
		slog.Warn("RBAC policy not loaded")
		return false
	}
	expanded := r.expandRoles(roles)
	cacheKey := strings.Join(expanded, ",") + "|" + resource + ":" + action
	if allowed, found := r.cache[cacheKey]; found {
		r.mu.RUnlock()
		return allowed
	}
	allowed := r.allows(expanded, resource, action)
	r.mu.RUnlock()

	r.mu.Lock()
	r.cache[cacheKey] = allowed
	r.mu.Unlock()
	return allowed
}

// allows expects r.mu to be held.
func (r *RBAC) allows(roles []string, resource, action string) bool {
	for _, roleName := range roles {
		role, exists := r.policy.Roles[roleName]
		if !exists {
			continue
		}
		for _, perm := range role.Permissions {
			if perm.Resource != "*" && perm.Resource != resource {
				continue
			}
			for _, act := range perm.Actions {
				if act == "*" || act == action {
					return true
				}
			}
		}
	}
	return false
}
