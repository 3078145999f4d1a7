package resource

import (
	"reflect"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/convergekit/converge/faults"
)

// CompareRules shape a remote payload before it is compared against the
// raw local declaration. Attribute paths are dot separated.
type CompareRules struct {
	SuppressAttributes []string `yaml:"suppressAttributes,omitempty"`
	FilterAttributes   []string `yaml:"filterAttributes,omitempty"`
	JQExpression       string   `yaml:"jqExpression,omitempty"`
}

func (r *CompareRules) Clone() *CompareRules {
	if r == nil {
		return nil
	}
	return &CompareRules{
		SuppressAttributes: append([]string{}, r.SuppressAttributes...),
		FilterAttributes:   append([]string{}, r.FilterAttributes...),
		JQExpression:       r.JQExpression,
	}
}

// SuppressDefaults projects a remote payload into the shape of the local
// declaration: any attribute the local declaration did not specify is
// dropped, so server-assigned defaults never show up as spurious diffs.
// The suppression is asymmetric; locally declared attributes missing
// remotely stay visible.
func SuppressDefaults(remote map[string]any, local map[string]any) map[string]any {
	if remote == nil {
		return nil
	}
	projected := make(map[string]any, len(local))
	for key, localValue := range local {
		remoteValue, found := remote[key]
		if !found {
			continue
		}
		localChild, localIsMap := localValue.(map[string]any)
		remoteChild, remoteIsMap := remoteValue.(map[string]any)
		if localIsMap && remoteIsMap {
			projected[key] = SuppressDefaults(remoteChild, localChild)
			continue
		}
		projected[key] = remoteValue
	}
	return projected
}

// ApplyCompareRules applies suppress/filter attribute lists and an
// optional jq expression to a payload.
func ApplyCompareRules(value Value, rules *CompareRules) (Value, error) {
	if rules == nil {
		return value, nil
	}

	shaped := value
	if object, ok := shaped.(map[string]any); ok {
		if len(rules.FilterAttributes) > 0 {
			shaped = filterAttributes(object, rules.FilterAttributes)
		}
		if object, ok := shaped.(map[string]any); ok && len(rules.SuppressAttributes) > 0 {
			shaped = suppressAttributes(object, rules.SuppressAttributes)
		}
	}

	if strings.TrimSpace(rules.JQExpression) == "" {
		return shaped, nil
	}
	return applyJQ(shaped, rules.JQExpression)
}

func applyJQ(value Value, expression string) (Value, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, faults.NewTypedError(faults.InternalError, "invalid compare jq expression", err)
	}

	iter := query.Run(value)
	result, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if resultErr, isErr := result.(error); isErr {
		return nil, faults.NewTypedError(faults.InternalError, "compare jq expression failed", resultErr)
	}
	return result, nil
}

func filterAttributes(object map[string]any, paths []string) map[string]any {
	kept := make(map[string]any)
	for _, path := range paths {
		segments := splitAttributePath(path)
		if len(segments) == 0 {
			continue
		}
		copyAttribute(object, kept, segments)
	}
	return kept
}

func copyAttribute(src map[string]any, dst map[string]any, segments []string) {
	head := segments[0]
	value, found := src[head]
	if !found {
		return
	}
	if len(segments) == 1 {
		dst[head] = value
		return
	}
	childSrc, ok := value.(map[string]any)
	if !ok {
		return
	}
	childDst, ok := dst[head].(map[string]any)
	if !ok {
		childDst = make(map[string]any)
		dst[head] = childDst
	}
	copyAttribute(childSrc, childDst, segments[1:])
}

func suppressAttributes(object map[string]any, paths []string) map[string]any {
	pruned := cloneMap(object)
	for _, path := range paths {
		segments := splitAttributePath(path)
		if len(segments) == 0 {
			continue
		}
		deleteAttribute(pruned, segments)
	}
	return pruned
}

func deleteAttribute(object map[string]any, segments []string) {
	head := segments[0]
	if len(segments) == 1 {
		delete(object, head)
		return
	}
	child, ok := object[head].(map[string]any)
	if !ok {
		return
	}
	deleteAttribute(child, segments[1:])
}

func splitAttributePath(path string) []string {
	raw := strings.Split(strings.TrimSpace(path), ".")
	segments := make([]string, 0, len(raw))
	for _, segment := range raw {
		if trimmed := strings.TrimSpace(segment); trimmed != "" {
			segments = append(segments, trimmed)
		}
	}
	return segments
}

func cloneMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for key, value := range src {
		if child, ok := value.(map[string]any); ok {
			dst[key] = cloneMap(child)
			continue
		}
		dst[key] = value
	}
	return dst
}

// Equivalent reports whether two payloads compare equal after
// canonicalization.
func Equivalent(local Value, remote Value) (bool, error) {
	canonicalLocal, err := Canonicalize(local)
	if err != nil {
		return false, err
	}
	canonicalRemote, err := Canonicalize(remote)
	if err != nil {
		return false, err
	}
	return reflect.DeepEqual(canonicalLocal, canonicalRemote), nil
}
