package tools

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/m4xw311/tandem/errors"
)

// datasetTool is a dataset operation exposed as a Tool.
type datasetTool struct {
	name        string
	description string
	params      map[string]any
	run         func(args map[string]any) (string, error)
}

func (t *datasetTool) Name() string               { return t.name }
func (t *datasetTool) Description() string        { return t.description }
func (t *datasetTool) Parameters() map[string]any { return t.params }
func (t *datasetTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	out, err := t.run(args)
	return out, namedValidation(t.name, err)
}

// namedValidation stamps tool on a *ValidationError raised by a shared
// helper.
func namedValidation(tool string, err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) && ve.Tool == "" {
		ve.Tool = tool
	}
	return err
}

// DatasetTools returns the dataset tools sharing reg. Files are read and
// written through guard.
func DatasetTools(reg *DatasetRegistry, guard *PathGuard) []Tool {
	d := &datasetOps{reg: reg, guard: guard}
	idProp := stringProp("Dataset ID.")
	nameProp := stringProp("Optional new dataset name.")
	return []Tool{
		&datasetTool{
			name:        "load_dataset",
			description: "Load a dataset from a file path into memory and return a dataset_id. Supports csv, json, and jsonl.",
			params: objectSchema([]string{"path"}, map[string]any{
				"path": stringProp("Path to the dataset file (csv/json/jsonl)."),
				"format": map[string]any{
					"type":        "string",
					"enum":        []string{"auto", "csv", "json", "jsonl"},
					"description": "File format. Use 'auto' to infer from extension.",
					"default":     "auto",
				},
				"name":      stringProp("Optional human-friendly dataset name."),
				"delimiter": map[string]any{"type": "string", "description": "CSV delimiter (only for csv).", "default": ","},
				"encoding":  map[string]any{"type": "string", "description": "Text encoding for csv/json/jsonl.", "default": "utf-8"},
				"max_rows":  map[string]any{"type": "integer", "description": "Optional max rows to load (for sampling)."},
			}),
			run: d.load,
		},
		&datasetTool{
			name:        "list_datasets",
			description: "List datasets currently loaded in memory.",
			params:      objectSchema(nil, map[string]any{}),
			run:         d.list,
		},
		&datasetTool{
			name:        "remove_dataset",
			description: "Remove a dataset from memory by dataset_id.",
			params:      objectSchema([]string{"dataset_id"}, map[string]any{"dataset_id": stringProp("Dataset ID to remove.")}),
			run:         d.remove,
		},
		&datasetTool{
			name:        "clear_datasets",
			description: "Clear all loaded datasets from memory.",
			params:      objectSchema(nil, map[string]any{}),
			run: func(map[string]any) (string, error) {
				return fmt.Sprintf("Cleared %d dataset(s).", d.reg.Clear()), nil
			},
		},
		&datasetTool{
			name:        "dataset_head",
			description: "Show the first N rows of a dataset as a markdown table.",
			params: objectSchema([]string{"dataset_id"}, map[string]any{
				"dataset_id": idProp,
				"n":          intProp("Number of rows to show.", 10),
			}),
			run: func(args map[string]any) (string, error) { return d.window(args, false) },
		},
		&datasetTool{
			name:        "dataset_tail",
			description: "Show the last N rows of a dataset as a markdown table.",
			params: objectSchema([]string{"dataset_id"}, map[string]any{
				"dataset_id": idProp,
				"n":          intProp("Number of rows to show.", 10),
			}),
			run: func(args map[string]any) (string, error) { return d.window(args, true) },
		},
		&datasetTool{
			name:        "dataset_sample",
			description: "Randomly sample N rows from a dataset (without replacement).",
			params: objectSchema([]string{"dataset_id"}, map[string]any{
				"dataset_id": idProp,
				"n":          intProp("Number of rows to sample.", 10),
				"seed":       map[string]any{"type": "integer", "description": "Optional random seed."},
			}),
			run: d.sample,
		},
		&datasetTool{
			name:        "dataset_info",
			description: "Show dataset size, column types, and missing value counts.",
			params:      objectSchema([]string{"dataset_id"}, map[string]any{"dataset_id": idProp}),
			run:         d.info,
		},
		&datasetTool{
			name:        "dataset_describe",
			description: "Compute basic descriptive statistics for numeric columns (count, mean, stdev, min, p25, p50, p75, max).",
			params: objectSchema([]string{"dataset_id"}, map[string]any{
				"dataset_id": idProp,
				"columns":    stringListProp("Optional list of numeric columns to describe (default: all)."),
			}),
			run: d.describe,
		},
		&datasetTool{
			name:        "dataset_value_counts",
			description: "Compute value counts for a column (top N).",
			params: objectSchema([]string{"dataset_id", "column"}, map[string]any{
				"dataset_id":      idProp,
				"column":          stringProp("Column name."),
				"top_n":           intProp("Number of top values to show.", 20),
				"include_missing": map[string]any{"type": "boolean", "description": "Include missing as a category.", "default": true},
			}),
			run: d.valueCounts,
		},
		&datasetTool{
			name:        "dataset_select_columns",
			description: "Create a new dataset with only selected columns.",
			params: objectSchema([]string{"dataset_id", "columns"}, map[string]any{
				"dataset_id": idProp,
				"columns":    stringListProp("Columns to keep."),
				"name":       nameProp,
			}),
			run: d.selectColumns,
		},
		&datasetTool{
			name:        "dataset_filter",
			description: "Filter rows by simple conditions and return a new dataset_id.",
			params: objectSchema([]string{"dataset_id", "conditions"}, map[string]any{
				"dataset_id": idProp,
				"conditions": map[string]any{
					"type":        "array",
					"description": "List of conditions; all must match (AND).",
					"items": objectSchema([]string{"column", "op", "value"}, map[string]any{
						"column": map[string]any{"type": "string"},
						"op":     map[string]any{"type": "string", "enum": filterOps},
						"value":  map[string]any{"type": []string{"string", "number", "boolean"}},
					}),
				},
				"name": nameProp,
			}),
			run: d.filter,
		},
		&datasetTool{
			name:        "dataset_sort",
			description: "Sort a dataset by one or more columns and return a new dataset_id.",
			params: objectSchema([]string{"dataset_id", "by"}, map[string]any{
				"dataset_id": idProp,
				"by":         stringListProp("Columns to sort by (in priority order)."),
				"ascending":  map[string]any{"type": "boolean", "description": "Sort ascending (default: true).", "default": true},
				"name":       nameProp,
			}),
			run: d.sort,
		},
		&datasetTool{
			name:        "dataset_groupby_agg",
			description: "Group by columns and compute an aggregation (count/sum/mean/min/max) over a numeric column.",
			params: objectSchema([]string{"dataset_id", "group_by"}, map[string]any{
				"dataset_id": idProp,
				"group_by":   stringListProp("Columns to group by."),
				"agg": map[string]any{
					"type":        "string",
					"enum":        []string{"count", "sum", "mean", "min", "max"},
					"description": "Aggregation to compute.",
					"default":     "count",
				},
				"value_column": stringProp("Numeric column to aggregate (required unless agg=count)."),
				"name":         nameProp,
			}),
			run: d.groupBy,
		},
		&ExportDatasetTool{ops: d},
	}
}

var filterOps = []string{"==", "!=", ">", ">=", "<", "<=", "contains", "startswith", "endswith"}

type datasetOps struct {
	reg   *DatasetRegistry
	guard *PathGuard
}

// dataset resolves the dataset_id argument. A non-empty message is the
// tool result for an unknown id.
func (d *datasetOps) dataset(args map[string]any) (*Dataset, string, error) {
	id, ok := StringArg(args, "dataset_id")
	if !ok {
		return nil, "", &ValidationError{Problems: []string{"missing or invalid 'dataset_id' argument"}}
	}
	ds, ok := d.reg.Get(id)
	if !ok {
		return nil, fmt.Sprintf("Error: Unknown dataset_id '%s'.", id), nil
	}
	return ds, "", nil
}

func (d *datasetOps) load(args map[string]any) (string, error) {
	path, ok := StringArg(args, "path")
	if !ok {
		return "", &ValidationError{Problems: []string{"missing or invalid 'path' argument"}}
	}
	maxRows, err := IntArg(args, "max_rows", -1)
	if err != nil {
		return "", &ValidationError{Problems: []string{err.Error()}}
	}
	resolved, err := d.guard.Resolve(path)
	if err != nil {
		return fileError("read", path, err), nil
	}
	if d.guard.Hidden(path) {
		return fmt.Sprintf("Error: access denied: path '%s' is hidden", path), nil
	}

	format, _ := StringArg(args, "format")
	if format == "" || format == "auto" {
		format = formatFromPath(path)
	}
	delimiter, _ := StringArg(args, "delimiter")
	if delimiter == "" {
		delimiter = ","
	}
	encoding, _ := StringArg(args, "encoding")
	if encoding == "" {
		encoding = "utf-8"
	}

	var (
		columns []string
		rows    []Row
	)
	switch format {
	case "csv", "json", "jsonl":
		columns, rows, err = readDataset(resolved, format, encoding, delimiter, maxRows)
	default:
		requested, _ := StringArg(args, "format")
		if requested == "" {
			requested = "auto"
		}
		return fmt.Sprintf("Error: Unsupported format '%s'. Supported: csv, json, jsonl.", requested), nil
	}
	if err != nil {
		return fmt.Sprintf("Error: Failed to load dataset: %v", err), nil
	}

	name, _ := StringArg(args, "name")
	if name == "" {
		name = filepath.Base(path)
	}
	ds := d.reg.Add(name, columns, rows, resolved)
	return fmt.Sprintf("Loaded dataset '%s' as dataset_id=%s (%d rows, %d columns).", ds.Name, ds.ID, len(rows), len(columns)), nil
}

func readDataset(path, format, encoding, delimiter string, maxRows int) ([]string, []Row, error) {
	r, err := openText(path, encoding)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()
	if format == "csv" {
		comma, size := utf8.DecodeRuneInString(delimiter)
		if size != len(delimiter) {
			return nil, nil, fmt.Errorf("delimiter must be a single character, got %q", delimiter)
		}
		return loadCSV(r, comma, maxRows)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, err
	}
	if format == "json" {
		return loadJSON(data, maxRows)
	}
	columns, rows := loadJSONL(data, maxRows)
	return columns, rows, nil
}

func (d *datasetOps) list(map[string]any) (string, error) {
	sets := d.reg.List()
	if len(sets) == 0 {
		return "No datasets loaded.", nil
	}
	lines := make([]string, 0, len(sets))
	for _, ds := range sets {
		lines = append(lines, fmt.Sprintf("- %s: %s (%d rows, %d cols)", ds.ID, ds.Name, len(ds.Rows), len(ds.Columns)))
	}
	return strings.Join(lines, "\n"), nil
}

func (d *datasetOps) remove(args map[string]any) (string, error) {
	id, ok := StringArg(args, "dataset_id")
	if !ok {
		return "", &ValidationError{Problems: []string{"missing or invalid 'dataset_id' argument"}}
	}
	ds, ok := d.reg.Remove(id)
	if !ok {
		return fmt.Sprintf("Error: Unknown dataset_id '%s'.", id), nil
	}
	return fmt.Sprintf("Removed dataset '%s' (dataset_id=%s).", ds.Name, id), nil
}

// rowCount reads n clamped to [0, 50].
func rowCount(args map[string]any) (int, error) {
	n, err := IntArg(args, "n", 10)
	if err != nil {
		return 0, &ValidationError{Problems: []string{err.Error()}}
	}
	return max(0, min(n, 50)), nil
}

func (d *datasetOps) window(args map[string]any, tail bool) (string, error) {
	ds, msg, err := d.dataset(args)
	if ds == nil {
		return msg, err
	}
	n, err := rowCount(args)
	if err != nil {
		return "", err
	}
	rows := ds.Rows[:min(n, len(ds.Rows))]
	if tail {
		rows = ds.Rows[len(ds.Rows)-min(n, len(ds.Rows)):]
	}
	return renderMarkdownTable(rows, ds.Columns, n), nil
}

func (d *datasetOps) sample(args map[string]any) (string, error) {
	ds, msg, err := d.dataset(args)
	if ds == nil {
		return msg, err
	}
	n, err := rowCount(args)
	if err != nil {
		return "", err
	}
	seed := time.Now().UnixNano()
	if _, ok := args["seed"]; ok {
		s, err := IntArg(args, "seed", 0)
		if err != nil {
			return "", &ValidationError{Problems: []string{err.Error()}}
		}
		seed = int64(s)
	}
	sampled := ds.Rows
	if n < len(ds.Rows) {
		rng := rand.New(rand.NewSource(seed))
		sampled = make([]Row, 0, n)
		for _, i := range rng.Perm(len(ds.Rows))[:n] {
			sampled = append(sampled, ds.Rows[i])
		}
	}
	return renderMarkdownTable(sampled, ds.Columns, n), nil
}

// infoSampleRows bounds the values used for type inference.
const infoSampleRows = 200

func (d *datasetOps) info(args map[string]any) (string, error) {
	ds, msg, err := d.dataset(args)
	if ds == nil {
		return msg, err
	}
	source := ds.Source
	if source == "" {
		source = "(unknown)"
	}
	lines := []string{
		"dataset_id: " + ds.ID,
		"name: " + ds.Name,
		"source: " + source,
		fmt.Sprintf("rows: %d", len(ds.Rows)),
		fmt.Sprintf("columns: %d", len(ds.Columns)),
		"",
		"columns:",
	}
	sample := min(infoSampleRows, len(ds.Rows))
	for _, c := range ds.Columns {
		missing := 0
		values := make([]any, 0, sample)
		for i, r := range ds.Rows {
			if isMissing(r[c]) {
				missing++
			}
			if i < sample {
				values = append(values, r[c])
			}
		}
		lines = append(lines, fmt.Sprintf("- %s: type=%s, missing=%d", c, inferType(values), missing))
	}
	if sample != len(ds.Rows) {
		lines = append(lines, fmt.Sprintf("\n(type inference based on first %d rows)", sample))
	}
	return strings.Join(lines, "\n"), nil
}

func (d *datasetOps) describe(args map[string]any) (string, error) {
	ds, msg, err := d.dataset(args)
	if ds == nil {
		return msg, err
	}
	columns, ok := StringListArg(args, "columns")
	if !ok || len(columns) == 0 {
		columns = ds.Columns
	}
	var stats []Row
	for _, c := range columns {
		numeric := numericValues(ds.Rows, c)
		if len(numeric) == 0 {
			continue
		}
		sort.Float64s(numeric)
		stats = append(stats, Row{
			"column": c,
			"count":  len(numeric),
			"mean":   mean(numeric),
			"stdev":  pstdev(numeric),
			"min":    numeric[0],
			"p25":    percentile(numeric, 0.25),
			"p50":    percentile(numeric, 0.50),
			"p75":    percentile(numeric, 0.75),
			"max":    numeric[len(numeric)-1],
		})
	}
	if len(stats) == 0 {
		return "No numeric columns found (or selected columns have no numeric values).", nil
	}
	return renderMarkdownTable(stats, []string{"column", "count", "mean", "stdev", "min", "p25", "p50", "p75", "max"}, 50), nil
}

func (d *datasetOps) valueCounts(args map[string]any) (string, error) {
	ds, msg, err := d.dataset(args)
	if ds == nil {
		return msg, err
	}
	column, ok := StringArg(args, "column")
	if !ok {
		return "", &ValidationError{Problems: []string{"missing or invalid 'column' argument"}}
	}
	if len(unknownColumns(ds, []string{column})) > 0 {
		return fmt.Sprintf("Error: Unknown column '%s'. Available: %s", column, strings.Join(ds.Columns, ", ")), nil
	}
	topN, err := IntArg(args, "top_n", 20)
	if err != nil {
		return "", &ValidationError{Problems: []string{err.Error()}}
	}
	topN = max(1, min(topN, 50))
	includeMissing := BoolArg(args, "include_missing", true)

	counts := make(map[string]int)
	var order []string
	for _, r := range ds.Rows {
		key := formatValue(r[column])
		if isMissing(r[column]) {
			if !includeMissing {
				continue
			}
			key = "(missing)"
		}
		if counts[key] == 0 {
			order = append(order, key)
		}
		counts[key]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	rows := make([]Row, 0, min(topN, len(order)))
	for _, k := range order[:min(topN, len(order))] {
		rows = append(rows, Row{"value": k, "count": counts[k]})
	}
	return renderMarkdownTable(rows, []string{"value", "count"}, topN), nil
}

func (d *datasetOps) selectColumns(args map[string]any) (string, error) {
	ds, msg, err := d.dataset(args)
	if ds == nil {
		return msg, err
	}
	columns, ok := StringListArg(args, "columns")
	if !ok {
		return "", &ValidationError{Problems: []string{"missing or invalid 'columns' argument"}}
	}
	if missing := unknownColumns(ds, columns); len(missing) > 0 {
		return "Error: Unknown columns: " + strings.Join(missing, ", "), nil
	}
	rows := make([]Row, 0, len(ds.Rows))
	for _, r := range ds.Rows {
		row := make(Row, len(columns))
		for _, c := range columns {
			row[c] = r[c]
		}
		rows = append(rows, row)
	}
	out := d.reg.Add(derivedName(args, ds, "select"), columns, rows, ds.Source)
	return fmt.Sprintf("Created dataset_id=%s with %d rows and %d columns.", out.ID, len(rows), len(columns)), nil
}

func derivedName(args map[string]any, ds *Dataset, suffix string) string {
	if name, _ := StringArg(args, "name"); name != "" {
		return name
	}
	return fmt.Sprintf("%s (%s)", ds.Name, suffix)
}

type condition struct {
	column string
	op     string
	value  any
}

func (c condition) matches(row Row) bool {
	val := row[c.column]
	switch c.op {
	case ">", ">=", "<", "<=":
		a, okA := coerceFloat(val)
		b, okB := coerceFloat(c.value)
		if !okA || !okB {
			return false
		}
		switch c.op {
		case ">":
			return a > b
		case ">=":
			return a >= b
		case "<":
			return a < b
		}
		return a <= b
	}
	got, want := formatValue(val), formatValue(c.value)
	switch c.op {
	case "==":
		return got == want
	case "!=":
		return got != want
	case "contains":
		return strings.Contains(got, want)
	case "startswith":
		return strings.HasPrefix(got, want)
	case "endswith":
		return strings.HasSuffix(got, want)
	}
	return false
}

func (d *datasetOps) filter(args map[string]any) (string, error) {
	ds, msg, err := d.dataset(args)
	if ds == nil {
		return msg, err
	}
	raw, ok := args["conditions"].([]any)
	if !ok {
		return "", &ValidationError{Problems: []string{"missing or invalid 'conditions' argument"}}
	}
	conds := make([]condition, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return "", &ValidationError{Problems: []string{fmt.Sprintf("condition %d is not an object", i)}}
		}
		column, _ := StringArg(m, "column")
		op, okOp := StringArg(m, "op")
		if !okOp {
			return "", &ValidationError{Problems: []string{fmt.Sprintf("condition %d has no 'op'", i)}}
		}
		if len(unknownColumns(ds, []string{column})) > 0 {
			return fmt.Sprintf("Error: Unknown column '%s'. Available: %s", column, strings.Join(ds.Columns, ", ")), nil
		}
		conds = append(conds, condition{column: column, op: op, value: m["value"]})
	}

	var rows []Row
	for _, r := range ds.Rows {
		keep := true
		for _, c := range conds {
			if !c.matches(r) {
				keep = false
				break
			}
		}
		if keep {
			rows = append(rows, r)
		}
	}
	out := d.reg.Add(derivedName(args, ds, "filtered"), ds.Columns, rows, ds.Source)
	return fmt.Sprintf("Created dataset_id=%s with %d rows (from %d).", out.ID, len(rows), len(ds.Rows)), nil
}

func (d *datasetOps) sort(args map[string]any) (string, error) {
	ds, msg, err := d.dataset(args)
	if ds == nil {
		return msg, err
	}
	by, ok := StringListArg(args, "by")
	if !ok {
		return "", &ValidationError{Problems: []string{"missing or invalid 'by' argument"}}
	}
	if missing := unknownColumns(ds, by); len(missing) > 0 {
		return "Error: Unknown columns: " + strings.Join(missing, ", "), nil
	}
	rows := sortRows(ds.Rows, by, BoolArg(args, "ascending", true))
	out := d.reg.Add(derivedName(args, ds, "sorted"), ds.Columns, rows, ds.Source)
	return fmt.Sprintf("Created dataset_id=%s with %d rows (sorted).", out.ID, len(rows)), nil
}

func (d *datasetOps) groupBy(args map[string]any) (string, error) {
	ds, msg, err := d.dataset(args)
	if ds == nil {
		return msg, err
	}
	groupBy, ok := StringListArg(args, "group_by")
	if !ok {
		return "", &ValidationError{Problems: []string{"missing or invalid 'group_by' argument"}}
	}
	if missing := unknownColumns(ds, groupBy); len(missing) > 0 {
		return "Error: Unknown group_by columns: " + strings.Join(missing, ", "), nil
	}
	agg, _ := StringArg(args, "agg")
	if agg == "" {
		agg = "count"
	}
	switch agg {
	case "count", "sum", "mean", "min", "max":
	default:
		return fmt.Sprintf("Error: Unsupported agg '%s'. Supported: count, sum, mean, min, max.", agg), nil
	}
	valueColumn, _ := StringArg(args, "value_column")
	if agg != "count" {
		if valueColumn == "" {
			return "Error: value_column is required unless agg='count'.", nil
		}
		if len(unknownColumns(ds, []string{valueColumn})) > 0 {
			return fmt.Sprintf("Error: Unknown value_column '%s'.", valueColumn), nil
		}
	}

	groups := make(map[string][]Row)
	keys := make(map[string][]string)
	var order []string
	for _, r := range ds.Rows {
		parts := make([]string, len(groupBy))
		for i, c := range groupBy {
			parts[i] = formatValue(r[c])
		}
		k := strings.Join(parts, "\x00")
		if _, seen := groups[k]; !seen {
			order = append(order, k)
			keys[k] = parts
		}
		groups[k] = append(groups[k], r)
	}

	outCol := "count"
	if agg != "count" {
		outCol = fmt.Sprintf("%s(%s)", agg, valueColumn)
	}
	rows := make([]Row, 0, len(order))
	for _, k := range order {
		row := make(Row, len(groupBy)+1)
		for i, c := range groupBy {
			row[c] = keys[k][i]
		}
		row[outCol] = aggregate(agg, groups[k], valueColumn)
		rows = append(rows, row)
	}
	columns := append(append([]string(nil), groupBy...), outCol)
	out := d.reg.Add(derivedName(args, ds, "groupby "+agg), columns, rows, ds.Source)
	return fmt.Sprintf("Created dataset_id=%s with %d rows (grouped).", out.ID, len(rows)), nil
}

// aggregate returns nil when a non-count aggregation sees no numbers.
func aggregate(agg string, rows []Row, column string) any {
	if agg == "count" {
		return len(rows)
	}
	numeric := numericValues(rows, column)
	if len(numeric) == 0 {
		return nil
	}
	switch agg {
	case "sum":
		var s float64
		for _, x := range numeric {
			s += x
		}
		return s
	case "mean":
		return mean(numeric)
	case "min":
		m := numeric[0]
		for _, x := range numeric[1:] {
			m = min(m, x)
		}
		return m
	}
	m := numeric[0]
	for _, x := range numeric[1:] {
		m = max(m, x)
	}
	return m
}

// ExportDatasetTool writes a dataset to disk. Exports need confirmation
// unless auto-approved under "write".
type ExportDatasetTool struct {
	ops *datasetOps
}

func (t *ExportDatasetTool) Name() string { return "export_dataset" }
func (t *ExportDatasetTool) Description() string {
	return "Export a dataset to disk. Supports csv and jsonl. " +
		"Ask the user for the output path before calling this tool."
}
func (t *ExportDatasetTool) Parameters() map[string]any {
	return objectSchema([]string{"dataset_id", "path", "format"}, map[string]any{
		"dataset_id": stringProp("Dataset ID."),
		"path":       stringProp("Output file path."),
		"format":     map[string]any{"type": "string", "enum": []string{"csv", "jsonl"}, "description": "Output format."},
		"overwrite":  map[string]any{"type": "boolean", "description": "Overwrite if file exists.", "default": false},
	})
}

func (t *ExportDatasetTool) ConfirmationSpec() ConfirmationSpec {
	return ConfirmationSpec{Operation: "write", CheckArg: "path"}
}

func (t *ExportDatasetTool) ConfirmationMessage(args map[string]any) string {
	id, _ := StringArg(args, "dataset_id")
	path, _ := StringArg(args, "path")
	format, _ := StringArg(args, "format")
	return fmt.Sprintf("Export dataset '%s' to '%s' as %s", id, path, format)
}

func (t *ExportDatasetTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	ds, msg, err := t.ops.dataset(args)
	if ds == nil {
		return msg, namedValidation(t.Name(), err)
	}
	path, pathOk := StringArg(args, "path")
	format, formatOk := StringArg(args, "format")
	if !pathOk || !formatOk {
		return "", &ValidationError{Tool: t.Name(), Problems: []string{"missing or invalid 'path' or 'format' arguments"}}
	}
	var write func(io.Writer, *Dataset) error
	switch format {
	case "csv":
		write = writeCSV
	case "jsonl":
		write = writeJSONL
	default:
		return fmt.Sprintf("Error: Unsupported format '%s'. Supported: csv, jsonl.", format), nil
	}

	guard := t.ops.guard
	resolved, err := guard.Resolve(path)
	if err != nil {
		return fileError("write", path, err), nil
	}
	if guard.Hidden(path) {
		return fmt.Sprintf("Error: access denied: path '%s' is hidden", path), nil
	}
	if guard.ReadOnly(path) {
		return fmt.Sprintf("Error: access denied: path '%s' is read-only", path), nil
	}
	if _, err := os.Stat(resolved); err == nil && !BoolArg(args, "overwrite", false) {
		return fmt.Sprintf("Error: Output file already exists: %s. "+
			"Ask the user whether to overwrite, then retry with overwrite=true.", path), nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Sprintf("Error: Failed to export dataset: %v", err), nil
	}
	f, err := os.Create(resolved)
	if err != nil {
		return fmt.Sprintf("Error: Failed to export dataset: %v", err), nil
	}
	werr := write(f, ds)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Sprintf("Error: Failed to export dataset: %v", werr), nil
	}
	return fmt.Sprintf("Exported dataset_id=%s to %s (%s).", ds.ID, path, format), nil
}
