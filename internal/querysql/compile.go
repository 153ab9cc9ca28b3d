// Package querysql compiles record filters to parameterised SQLite SQL.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/catsync/internal/ir"
	"github.com/roach88/catsync/internal/queryir"
)

// Table is the indexing records table.
const Table = "indexing_records"

// RecordColumns is the column list every record read selects, in scan order.
const RecordColumns = "entity_type, api_key, target_id, target_parent_id, target_entity_subtype, " +
	"is_indexable, next_action, last_action, last_action_at, locked_at"

// OrderBy is the record key order.
// CRITICAL: every record query uses it so reads are deterministic.
const OrderBy = "entity_type COLLATE BINARY, api_key COLLATE BINARY, target_id, target_parent_id"

// Compile converts a filter to (sql, params).
//
// CRITICAL: values are never interpolated, always bound as ? parameters.
// The filter is validated first; all validation errors are reported.
func Compile(f queryir.Filter) (string, []any, error) {
	if errs := queryir.Validate(f); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return "", nil, fmt.Errorf("invalid filter: %s", strings.Join(msgs, "; "))
	}

	conds := []string{"entity_type = ?"}
	params := []any{f.EntityType}

	if f.APIKey != "" {
		conds = append(conds, "api_key = ?")
		params = append(params, f.APIKey)
	}

	if f.Where != nil {
		sql, whereParams, err := compilePredicate(f.Where)
		if err != nil {
			return "", nil, fmt.Errorf("compile where: %w", err)
		}
		conds = append(conds, sql)
		params = append(params, whereParams...)
	}

	if f.After != nil {
		// Row-value comparison; entity_type is already pinned above.
		conds = append(conds, "(api_key, target_id, target_parent_id) > (?, ?, ?)")
		params = append(params, f.After.APIKey, f.After.TargetID, f.After.TargetParentID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE %s ORDER BY %s",
		RecordColumns, Table, strings.Join(conds, " AND "), OrderBy)
	if f.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, f.Limit)
	}
	return b.String(), params, nil
}

// compilePredicate compiles one predicate to a parenthesised fragment.
func compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		param, err := toParam(pred.Value)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s = ?", pred.Field), []any{param}, nil

	case queryir.In:
		params := make([]any, 0, len(pred.Values))
		for _, v := range pred.Values {
			param, err := toParam(v)
			if err != nil {
				return "", nil, err
			}
			params = append(params, param)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(params)), ", ")
		return fmt.Sprintf("%s IN (%s)", pred.Field, placeholders), params, nil

	case queryir.And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil, nil
		}
		return compileJunction(pred.Predicates, " AND ")

	case queryir.Or:
		return compileJunction(pred.Predicates, " OR ")

	case queryir.Not:
		sql, params, err := compilePredicate(pred.Predicate)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + sql + ")", params, nil

	case queryir.Locked:
		if pred.Value {
			return "locked_at IS NOT NULL", nil, nil
		}
		return "locked_at IS NULL", nil, nil

	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compileJunction(preds []queryir.Predicate, sep string) (string, []any, error) {
	parts := make([]string, 0, len(preds))
	var params []any
	for _, sub := range preds {
		sql, subParams, err := compilePredicate(sub)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		params = append(params, subParams...)
	}
	return strings.Join(parts, sep), params, nil
}

// toParam converts a filter value to a driver parameter.
// Booleans are stored as 0/1 integers.
func toParam(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case ir.Action:
		return string(val), nil
	case int:
		return int64(val), nil
	case int64:
		return val, nil
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
	}
}
