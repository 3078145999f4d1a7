package resource

import (
	"fmt"
	"strings"
)

// KindSpec declares how one resource kind maps onto the backend bulk CRUD
// contract. Kinds are configuration, not code: the generic adapter
// interprets a KindSpec at run time.
type KindSpec struct {
	Name Kind   `yaml:"name"`
	Path string `yaml:"path,omitempty"`

	// IdentityAttributes name the payload attributes whose values, joined
	// with "/", form the identifier. A single attribute is the common case.
	IdentityAttributes []string `yaml:"identityAttributes"`

	DependsOn      []Kind `yaml:"dependsOn,omitempty"`
	SupportsUpdate bool   `yaml:"supportsUpdate"`

	Compare             *CompareRules `yaml:"compare,omitempty"`
	SensitiveAttributes []string      `yaml:"sensitiveAttributes,omitempty"`

	// ParentAttribute marks a kind whose instances form a tree: the
	// attribute holds the identifier of the same-kind parent.
	ParentAttribute string `yaml:"parentAttribute,omitempty"`

	// TypeRefAttribute marks a kind whose instances may reference another
	// instance of the same kind as their type.
	TypeRefAttribute string `yaml:"typeRefAttribute,omitempty"`

	// ParentKind marks a kind that is not a first-class purge target and
	// exists only under instances of another kind; ParentRefAttribute holds
	// the owning identifier.
	ParentKind         Kind   `yaml:"parentKind,omitempty"`
	ParentRefAttribute string `yaml:"parentRefAttribute,omitempty"`

	ReadCapability  string `yaml:"readCapability,omitempty"`
	WriteCapability string `yaml:"writeCapability,omitempty"`
}

func (s *KindSpec) Validate() error {
	if s == nil {
		return fmt.Errorf("kind spec is nil")
	}
	if strings.TrimSpace(string(s.Name)) == "" {
		return fmt.Errorf("kind spec requires a name")
	}
	if len(s.IdentityAttributes) == 0 {
		return fmt.Errorf("kind %q requires at least one identity attribute", s.Name)
	}
	for _, attribute := range s.IdentityAttributes {
		if strings.TrimSpace(attribute) == "" {
			return fmt.Errorf("kind %q has an empty identity attribute", s.Name)
		}
	}
	if s.ParentKind != "" && strings.TrimSpace(s.ParentRefAttribute) == "" {
		return fmt.Errorf("kind %q declares a parent kind but no parent ref attribute", s.Name)
	}
	return nil
}

// CollectionPath is the backend collection the kind lives under; it
// defaults to the kind name.
func (s *KindSpec) CollectionPath() string {
	if s == nil {
		return ""
	}
	if trimmed := strings.TrimSpace(s.Path); trimmed != "" {
		return trimmed
	}
	return string(s.Name)
}

// IdentityFrom extracts the identifier from a payload using the declared
// identity attributes.
func (s *KindSpec) IdentityFrom(payload map[string]any) (Identifier, error) {
	if s == nil {
		return "", fmt.Errorf("kind spec is nil")
	}
	parts := make([]string, 0, len(s.IdentityAttributes))
	for _, attribute := range s.IdentityAttributes {
		value, found := LookupAttribute(payload, attribute)
		if !found {
			return "", fmt.Errorf("kind %q payload is missing identity attribute %q", s.Name, attribute)
		}
		text, ok := attributeText(value)
		if !ok {
			return "", fmt.Errorf("kind %q identity attribute %q is not scalar", s.Name, attribute)
		}
		parts = append(parts, text)
	}
	return JoinIdentifier(parts...), nil
}

// LookupAttribute resolves a dot-separated attribute path in a payload.
func LookupAttribute(payload map[string]any, path string) (any, bool) {
	segments := splitAttributePath(path)
	if len(segments) == 0 {
		return nil, false
	}

	var current any = payload
	for _, segment := range segments {
		object, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = object[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func attributeText(value any) (string, bool) {
	switch typed := value.(type) {
	case string:
		return typed, true
	case fmt.Stringer:
		return typed.String(), true
	case int, int64, float64, bool:
		return fmt.Sprintf("%v", typed), true
	default:
		return "", false
	}
}
