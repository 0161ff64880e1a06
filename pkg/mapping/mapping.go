// Package mapping implements C5: the pure resource-mapping resolver
// that canonicalises the five resource-mapping syntaxes (§3.2) into a
// flat list of driver.Binding values. It runs once at plugin start and
// fails loudly on malformed input — resolution errors are startup
// errors, never runtime ones (§4.5).
package mapping

import (
	"fmt"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
)

// TransformFunc and ShouldReplicateFunc are the compiled-Go-callback
// forms of the resource-mapping object's optional functions. Raw
// config forms carrying a string expression are compiled by the
// expression package (gojq/kazaam) before reaching the resolver; by
// the time Resolve sees a RawResource, transform/shouldReplicate are
// always plain Go funcs or nil.
type TransformFunc = func(rec driver.Record, op driver.Operation) (driver.Record, error)
type ShouldReplicateFunc = func(rec driver.Record, op driver.Operation) (bool, error)

// RawDestination is one entry of the full-object or multi-destination
// resource-mapping forms.
type RawDestination struct {
	Destination     string
	Actions         []driver.Operation // nil means "all three"; empty non-nil means inert
	Transform       TransformFunc
	ShouldReplicate ShouldReplicateFunc
}

// RawResource is one resource entry after syntax detection but before
// canonicalisation — whichever of the five forms it came from.
type RawResource struct {
	Source string

	// Exactly one of the following is populated, per the detected
	// syntax. resolveResource inspects them in this priority order.
	SameNameOnly bool             // list form: ["users"]
	RenameOnly   string           // flat map form: {users: "people"}
	Destinations []RawDestination // object / function / multi-destination forms
}

// ReplicatorSpec is one replicator's pre-resolution configuration.
type ReplicatorSpec struct {
	ID        string
	Resources []RawResource
}

// Resolve canonicalises every resource entry of spec into a flat
// binding list (§4.5 steps 1-4). Validation failures are returned as
// *driver.ConfigError.
func Resolve(spec ReplicatorSpec) ([]driver.Binding, error) {
	var out []driver.Binding
	for _, res := range spec.Resources {
		bindings, err := resolveResource(spec.ID, res)
		if err != nil {
			return nil, err
		}
		out = append(out, bindings...)
	}
	return out, nil
}

func resolveResource(replicatorID string, res RawResource) ([]driver.Binding, error) {
	if res.Source == "" {
		return nil, &driver.ConfigError{
			Path:    fmt.Sprintf("replicators[%s].resources", replicatorID),
			Message: "resource entry missing source name",
		}
	}

	switch {
	case res.SameNameOnly:
		// Form 1: list. 1:1 to a same-named destination, all actions,
		// identity transform.
		return []driver.Binding{newBinding(replicatorID, res.Source, res.Source, nil, nil, nil)}, nil

	case res.RenameOnly != "":
		// Form 2: flat map. Rename only, all actions, identity transform.
		return []driver.Binding{newBinding(replicatorID, res.Source, res.RenameOnly, nil, nil, nil)}, nil

	case len(res.Destinations) > 0:
		// Forms 3/4/5: full object, function, and multi-destination all
		// reduce to one-or-more RawDestination entries by the time they
		// reach here; function form arrives as a single RawDestination
		// with Destination defaulted to the source name.
		bindings := make([]driver.Binding, 0, len(res.Destinations))
		for _, d := range res.Destinations {
			dest := d.Destination
			if dest == "" {
				dest = res.Source
			}
			actions, err := resolveActions(replicatorID, res.Source, d.Actions)
			if err != nil {
				return nil, err
			}
			bindings = append(bindings, newBinding(replicatorID, res.Source, dest, actions, d.Transform, d.ShouldReplicate))
		}
		return bindings, nil

	default:
		return nil, &driver.ConfigError{
			Path:    fmt.Sprintf("replicators[%s].resources[%s]", replicatorID, res.Source),
			Message: "resource entry matches none of the five recognised mapping syntaxes",
		}
	}
}

func resolveActions(replicatorID, resource string, raw []driver.Operation) (map[driver.Operation]bool, error) {
	if raw == nil {
		return nil, nil // nil Actions means "all" per Binding.Allows
	}
	actions := make(map[driver.Operation]bool, len(raw))
	for _, op := range raw {
		switch op {
		case driver.Inserted, driver.Updated, driver.Deleted:
			actions[op] = true
		default:
			return nil, &driver.ConfigError{
				Path:    fmt.Sprintf("replicators[%s].resources[%s].actions", replicatorID, resource),
				Message: fmt.Sprintf("unrecognised action %q, must be one of inserted/updated/deleted", op),
			}
		}
	}
	return actions, nil
}

func newBinding(replicatorID, source, dest string, actions map[driver.Operation]bool, transform TransformFunc, should ShouldReplicateFunc) driver.Binding {
	b := driver.Binding{
		Replicator:     replicatorID,
		SourceResource: source,
		Destination:    dest,
		Actions:        actions,
	}
	if transform != nil {
		b.Transform = transform
	} else {
		b.Transform = identityTransform
	}
	if should != nil {
		b.ShouldReplicate = should
	} else {
		b.ShouldReplicate = alwaysReplicate
	}
	return b
}

func identityTransform(rec driver.Record, _ driver.Operation) (driver.Record, error) { return rec, nil }
func alwaysReplicate(_ driver.Record, _ driver.Operation) (bool, error)               { return true, nil }

// Inert reports whether a binding can never fire because its action
// set resolved empty (§4.5 step 3: "logged as configured but no-op").
func Inert(b *driver.Binding) bool {
	return b.Actions != nil && len(b.Actions) == 0
}
