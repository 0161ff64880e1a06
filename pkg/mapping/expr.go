package mapping

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
	"github.com/qntfy/kazaam/v4"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
)

// CompileTransform turns a Kazaam reshape spec (a JSON array of
// operation objects, exactly as accepted by kazaam.NewKazaam) into a
// TransformFunc. Grounded on the teacher's KazaamRuleEngine, which
// keeps one compiled *kazaam.Kazaam per distinct spec string and feeds
// it JSON-marshalled records (pkg/transform/engine.go).
func CompileTransform(kazaamSpec string) (TransformFunc, error) {
	k, err := kazaam.NewKazaam(kazaamSpec)
	if err != nil {
		return nil, &driver.ConfigError{Path: "resources.transform", Message: "invalid kazaam spec", Cause: err}
	}
	return func(rec driver.Record, _ driver.Operation) (driver.Record, error) {
		in, err := json.Marshal(rec)
		if err != nil {
			return nil, driver.NewTransformError("", "marshal record for transform", err)
		}
		out, err := k.Transform(in)
		if err != nil {
			return nil, driver.NewTransformError("", "kazaam transform failed", err)
		}
		var result driver.Record
		if err := json.Unmarshal(out, &result); err != nil {
			return nil, driver.NewTransformError("", "unmarshal transformed record", err)
		}
		return result, nil
	}, nil
}

// CompileShouldReplicate turns a jq boolean expression (e.g.
// `.status != "draft"`) into a ShouldReplicateFunc. The expression
// receives the record augmented with an "_operation" field so filters
// can branch on insert/update/delete.
func CompileShouldReplicate(jqExpr string) (ShouldReplicateFunc, error) {
	query, err := gojq.Parse(jqExpr)
	if err != nil {
		return nil, &driver.ConfigError{Path: "resources.shouldReplicate", Message: "invalid jq expression", Cause: err}
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, &driver.ConfigError{Path: "resources.shouldReplicate", Message: "failed to compile jq expression", Cause: err}
	}

	return func(rec driver.Record, op driver.Operation) (bool, error) {
		input := make(map[string]interface{}, len(rec)+1)
		for k, v := range rec {
			input[k] = v
		}
		input["_operation"] = string(op)

		iter := code.Run(input)
		v, ok := iter.Next()
		if !ok {
			return false, driver.NewTransformError("", "shouldReplicate expression produced no value", nil)
		}
		if err, ok := v.(error); ok {
			return false, driver.NewTransformError("", "shouldReplicate expression failed", err)
		}
		b, ok := v.(bool)
		if !ok {
			return false, driver.NewTransformError("", fmt.Sprintf("shouldReplicate expression returned non-boolean %T", v), nil)
		}
		return b, nil
	}, nil
}
