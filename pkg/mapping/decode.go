package mapping

import (
	"fmt"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
)

// DecodeResources detects which of the five resource-mapping syntaxes
// (§3.2) a replicator's `resources` config value uses and produces the
// RawResource list Resolve expects. raw is whatever viper/mapstructure
// handed back for that key: a []interface{} (list form), or a
// map[string]interface{} whose values are strings (flat map form),
// objects (full object form), or lists/mixed (multi-destination form).
// Only string-expression transforms/filters are handled here — Go
// callback registration bypasses decoding entirely by constructing
// RawResource values directly.
func DecodeResources(replicatorID string, raw interface{}) ([]RawResource, error) {
	switch v := raw.(type) {
	case []interface{}:
		return decodeList(replicatorID, v)
	case map[string]interface{}:
		return decodeMap(replicatorID, v)
	default:
		return nil, &driver.ConfigError{
			Path:    fmt.Sprintf("replicators[%s].resources", replicatorID),
			Message: fmt.Sprintf("unsupported resources value of type %T", raw),
		}
	}
}

// decodeList handles form 1: ["users", "orders"].
func decodeList(replicatorID string, list []interface{}) ([]RawResource, error) {
	out := make([]RawResource, 0, len(list))
	for _, item := range list {
		name, ok := item.(string)
		if !ok {
			return nil, &driver.ConfigError{
				Path:    fmt.Sprintf("replicators[%s].resources", replicatorID),
				Message: fmt.Sprintf("list-form resources entry must be a string, got %T", item),
			}
		}
		out = append(out, RawResource{Source: name, SameNameOnly: true})
	}
	return out, nil
}

// decodeMap handles forms 2-5, keyed by source resource name.
func decodeMap(replicatorID string, m map[string]interface{}) ([]RawResource, error) {
	out := make([]RawResource, 0, len(m))
	for source, value := range m {
		res, err := decodeMapEntry(replicatorID, source, value)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func decodeMapEntry(replicatorID, source string, value interface{}) (RawResource, error) {
	switch v := value.(type) {
	case string:
		// Form 2: flat map. {users: "people"}
		return RawResource{Source: source, RenameOnly: v}, nil

	case map[string]interface{}:
		// Form 3: full object. {users: {destination, actions?, transform?, shouldReplicate?}}
		dest, err := decodeDestination(replicatorID, source, v)
		if err != nil {
			return RawResource{}, err
		}
		return RawResource{Source: source, Destinations: []RawDestination{dest}}, nil

	case []interface{}:
		// Form 5: multi-destination. {users: ["people", {destination:"analytics", ...}]}
		dests := make([]RawDestination, 0, len(v))
		for _, entry := range v {
			d, err := decodeDestinationEntry(replicatorID, source, entry)
			if err != nil {
				return RawResource{}, err
			}
			dests = append(dests, d)
		}
		return RawResource{Source: source, Destinations: dests}, nil

	default:
		return RawResource{}, &driver.ConfigError{
			Path:    fmt.Sprintf("replicators[%s].resources[%s]", replicatorID, source),
			Message: fmt.Sprintf("resource entry matches none of the five recognised mapping syntaxes (got %T)", value),
		}
	}
}

func decodeDestinationEntry(replicatorID, source string, entry interface{}) (RawDestination, error) {
	switch v := entry.(type) {
	case string:
		return RawDestination{Destination: v}, nil
	case map[string]interface{}:
		return decodeDestination(replicatorID, source, v)
	default:
		return RawDestination{}, &driver.ConfigError{
			Path:    fmt.Sprintf("replicators[%s].resources[%s]", replicatorID, source),
			Message: fmt.Sprintf("multi-destination entry must be a string or object, got %T", entry),
		}
	}
}

func decodeDestination(replicatorID, source string, obj map[string]interface{}) (RawDestination, error) {
	d := RawDestination{}

	if dest, ok := obj["destination"].(string); ok {
		d.Destination = dest
	}

	if rawActions, ok := obj["actions"].([]interface{}); ok {
		for _, a := range rawActions {
			s, ok := a.(string)
			if !ok {
				return d, &driver.ConfigError{
					Path:    fmt.Sprintf("replicators[%s].resources[%s].actions", replicatorID, source),
					Message: fmt.Sprintf("action entry must be a string, got %T", a),
				}
			}
			d.Actions = append(d.Actions, driver.Operation(s))
		}
	}

	if rawTransform, ok := obj["transform"].(string); ok && rawTransform != "" {
		fn, err := CompileTransform(rawTransform)
		if err != nil {
			return d, err
		}
		d.Transform = fn
	}

	if rawFilter, ok := obj["shouldReplicate"].(string); ok && rawFilter != "" {
		fn, err := CompileShouldReplicate(rawFilter)
		if err != nil {
			return d, err
		}
		d.ShouldReplicate = fn
	}

	return d, nil
}
