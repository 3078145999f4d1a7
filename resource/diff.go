package resource

import (
	"reflect"
	"sort"
	"strconv"
	"strings"
)

const redactedPlaceholder = "(redacted)"

// BuildDiffEntries walks local and remote payloads and emits one entry per
// differing JSON-pointer path.
func BuildDiffEntries(identifier Identifier, local Value, remote Value) []DiffEntry {
	entries := make([]DiffEntry, 0)
	collectDiffEntries(&entries, identifier, "", local, remote)
	return entries
}

func collectDiffEntries(entries *[]DiffEntry, identifier Identifier, pointer string, local any, remote any) {
	if reflect.DeepEqual(local, remote) {
		return
	}

	localObject, localIsObject := local.(map[string]any)
	remoteObject, remoteIsObject := remote.(map[string]any)
	if localIsObject && remoteIsObject {
		keys := make([]string, 0, len(localObject)+len(remoteObject))
		seen := make(map[string]struct{}, len(localObject)+len(remoteObject))
		for key := range localObject {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
		for key := range remoteObject {
			if _, found := seen[key]; found {
				continue
			}
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			nextPointer := pointer + "/" + escapePointerToken(key)
			localValue, localFound := localObject[key]
			remoteValue, remoteFound := remoteObject[key]

			switch {
			case !remoteFound:
				appendDiffEntry(entries, identifier, nextPointer, "add", localValue, nil)
			case !localFound:
				appendDiffEntry(entries, identifier, nextPointer, "remove", nil, remoteValue)
			default:
				collectDiffEntries(entries, identifier, nextPointer, localValue, remoteValue)
			}
		}
		return
	}

	localArray, localIsArray := local.([]any)
	remoteArray, remoteIsArray := remote.([]any)
	if localIsArray && remoteIsArray {
		maxLength := max(len(remoteArray), len(localArray))

		for idx := range maxLength {
			nextPointer := pointer + "/" + strconv.Itoa(idx)

			switch {
			case idx >= len(remoteArray):
				appendDiffEntry(entries, identifier, nextPointer, "add", localArray[idx], nil)
			case idx >= len(localArray):
				appendDiffEntry(entries, identifier, nextPointer, "remove", nil, remoteArray[idx])
			default:
				collectDiffEntries(entries, identifier, nextPointer, localArray[idx], remoteArray[idx])
			}
		}
		return
	}

	appendDiffEntry(entries, identifier, pointer, "replace", local, remote)
}

func appendDiffEntry(
	entries *[]DiffEntry,
	identifier Identifier,
	pointer string,
	operation string,
	local any,
	remote any,
) {
	*entries = append(*entries, DiffEntry{
		Identifier: identifier,
		Path:       pointer,
		Operation:  operation,
		Local:      local,
		Remote:     remote,
	})
}

// RedactDiffEntries blanks values of entries whose path falls under one of
// the sensitive attribute paths (dot separated) before they are emitted.
func RedactDiffEntries(entries []DiffEntry, sensitive []string) []DiffEntry {
	if len(sensitive) == 0 {
		return entries
	}

	pointers := make([]string, 0, len(sensitive))
	for _, path := range sensitive {
		segments := splitAttributePath(path)
		if len(segments) == 0 {
			continue
		}
		escaped := make([]string, len(segments))
		for idx, segment := range segments {
			escaped[idx] = escapePointerToken(segment)
		}
		pointers = append(pointers, "/"+strings.Join(escaped, "/"))
	}

	redacted := make([]DiffEntry, len(entries))
	for idx, entry := range entries {
		for _, prefix := range pointers {
			if entry.Path == prefix || strings.HasPrefix(entry.Path, prefix+"/") {
				if entry.Local != nil {
					entry.Local = redactedPlaceholder
				}
				if entry.Remote != nil {
					entry.Remote = redactedPlaceholder
				}
				break
			}
		}
		redacted[idx] = entry
	}
	return redacted
}

func escapePointerToken(value string) string {
	escaped := strings.ReplaceAll(value, "~", "~0")
	return strings.ReplaceAll(escaped, "/", "~1")
}
