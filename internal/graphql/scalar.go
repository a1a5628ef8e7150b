package graphql

import (
	"encoding/json"
	"strconv"

	gql "github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
)

// JSON carries arbitrary JSON in both directions: stored snapshots on the
// way out, free-form arguments such as price and submissions on the way in.
var JSON = gql.NewScalar(gql.ScalarConfig{
	Name:        "Json",
	Description: "Arbitrary JSON value",
	Serialize:   serializeJSON,
	ParseValue:  func(v any) any { return v },
	ParseLiteral: func(v ast.Value) any {
		return literalValue(v)
	},
})

func serializeJSON(v any) any {
	switch raw := v.(type) {
	case json.RawMessage:
		if len(raw) == 0 {
			return nil
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil
		}
		return out
	case []byte:
		return serializeJSON(json.RawMessage(raw))
	default:
		return v
	}
}

func literalValue(v ast.Value) any {
	switch v := v.(type) {
	case *ast.StringValue:
		return v.Value
	case *ast.BooleanValue:
		return v.Value
	case *ast.IntValue:
		n, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return nil
		}
		return n
	case *ast.FloatValue:
		f, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			return nil
		}
		return f
	case *ast.EnumValue:
		return v.Value
	case *ast.ListValue:
		out := make([]any, 0, len(v.Values))
		for _, item := range v.Values {
			out = append(out, literalValue(item))
		}
		return out
	case *ast.ObjectValue:
		out := make(map[string]any, len(v.Fields))
		for _, f := range v.Fields {
			out[f.Name.Value] = literalValue(f.Value)
		}
		return out
	}
	return nil
}

// rawArg re-encodes a Json argument for services that take json.RawMessage.
func rawArg(args map[string]any, name string) (json.RawMessage, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
