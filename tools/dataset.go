package tools

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/m4xw311/tandem/errors"
)

// Row is one record of a dataset keyed by column name.
type Row map[string]any

// Dataset is an immutable table held in a DatasetRegistry. Derived datasets
// are new entries; the source is never modified.
type Dataset struct {
	ID      string
	Name    string
	Columns []string
	Rows    []Row
	Source  string
}

// DatasetRegistry holds the datasets loaded by the dataset tools. One
// registry is shared by every dataset tool of a tool registry.
type DatasetRegistry struct {
	mu    sync.Mutex
	sets  map[string]*Dataset
	order []string
}

func NewDatasetRegistry() *DatasetRegistry {
	return &DatasetRegistry{sets: make(map[string]*Dataset)}
}

// Add stores a dataset under a fresh id and returns it.
func (r *DatasetRegistry) Add(name string, columns []string, rows []Row, source string) *Dataset {
	ds := &Dataset{
		ID:      strings.ReplaceAll(uuid.NewString(), "-", "")[:10],
		Name:    name,
		Columns: columns,
		Rows:    rows,
		Source:  source,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets[ds.ID] = ds
	r.order = append(r.order, ds.ID)
	return ds
}

func (r *DatasetRegistry) Get(id string) (*Dataset, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ds, ok := r.sets[id]
	return ds, ok
}

func (r *DatasetRegistry) Remove(id string) (*Dataset, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ds, ok := r.sets[id]
	if !ok {
		return nil, false
	}
	delete(r.sets, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return ds, true
}

// Clear drops every dataset and reports how many there were.
func (r *DatasetRegistry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.sets)
	r.sets = make(map[string]*Dataset)
	r.order = nil
	return n
}

// List returns the datasets in the order they were added.
func (r *DatasetRegistry) List() []*Dataset {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Dataset, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sets[id])
	}
	return out
}

var missingSentinels = map[string]bool{"": true, "na": true, "n/a": true, "null": true, "none": true, "nan": true}

func isMissing(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(x)
	case string:
		return missingSentinels[strings.ToLower(strings.TrimSpace(x))]
	}
	return false
}

// coerceFloat reads v as a number. Thousands separators in strings are
// ignored and booleans are never numeric.
func coerceFloat(v any) (float64, bool) {
	if isMissing(v) {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		txt := strings.ReplaceAll(strings.TrimSpace(x), ",", "")
		if txt == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(txt, 64)
		return f, err == nil
	}
	return 0, false
}

func inferType(values []any) string {
	var numeric, text bool
	for _, v := range values {
		if isMissing(v) {
			continue
		}
		if _, ok := coerceFloat(v); ok {
			numeric = true
		} else {
			text = true
		}
		if numeric && text {
			return "mixed"
		}
	}
	switch {
	case numeric:
		return "numeric"
	case text:
		return "text"
	}
	return "empty"
}

func formatValue(v any) string {
	if isMissing(v) {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case map[string]any, []any:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(x); err != nil {
			return fmt.Sprint(x)
		}
		return strings.TrimSuffix(buf.String(), "\n")
	}
	return fmt.Sprint(v)
}

func renderMarkdownTable(rows []Row, columns []string, maxRows int) string {
	shown := rows
	if len(shown) > maxRows {
		shown = shown[:maxRows]
	}
	var b strings.Builder
	b.WriteString("| " + strings.Join(columns, " | ") + " |\n")
	seps := make([]string, len(columns))
	for i := range seps {
		seps[i] = "---"
	}
	b.WriteString("| " + strings.Join(seps, " | ") + " |")
	cells := make([]string, len(columns))
	for _, row := range shown {
		for i, c := range columns {
			cells[i] = formatValue(row[c])
		}
		b.WriteString("\n| " + strings.Join(cells, " | ") + " |")
	}
	if len(rows) > maxRows {
		fmt.Fprintf(&b, "\n\n… (%d more rows)", len(rows)-maxRows)
	}
	return b.String()
}

func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "csv"
	case ".json":
		return "json"
	case ".jsonl":
		return "jsonl"
	}
	return ""
}

// openText opens path decoding it from the named charset.
func openText(path, encoding string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if encoding == "" {
		return f, nil
	}
	enc, err := htmlindex.Get(encoding)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "unknown encoding '%s'", encoding)
	}
	return struct {
		io.Reader
		io.Closer
	}{transform.NewReader(f, enc.NewDecoder()), f}, nil
}

// loadCSV reads a header row then records. Short records leave the
// remaining columns missing; extra fields are ignored.
func loadCSV(r io.Reader, delimiter rune, maxRows int) ([]string, []Row, error) {
	cr := csv.NewReader(r)
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var rows []Row
	for maxRows < 0 || len(rows) < maxRows {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		row := make(Row, len(header))
		for i, c := range header {
			if i < len(rec) {
				row[c] = rec[i]
			} else {
				row[c] = nil
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

// loadJSON accepts a list of objects, an object holding such a list under
// data, records or items, a single object, or a scalar.
func loadJSON(data []byte, maxRows int) ([]string, []Row, error) {
	if !gjson.ValidBytes(data) {
		return nil, nil, errors.New("invalid JSON document")
	}
	root := gjson.ParseBytes(data)
	var records []gjson.Result
	switch {
	case root.IsArray():
		records = objectsOf(root)
	case root.IsObject():
		records = []gjson.Result{root}
		for _, key := range []string{"data", "records", "items"} {
			if v := root.Get(key); v.IsArray() {
				records = objectsOf(v)
				break
			}
		}
	default:
		return []string{"value"}, []Row{{"value": jsonValue(root)}}, nil
	}
	if maxRows >= 0 && len(records) > maxRows {
		records = records[:maxRows]
	}
	var cols columnSet
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, cols.addObject(rec))
	}
	return cols.names, rows, nil
}

// loadJSONL reads one JSON value per line. maxRows counts lines, and lines
// that do not parse are skipped.
func loadJSONL(data []byte, maxRows int) ([]string, []Row) {
	var cols columnSet
	var rows []Row
	for i, line := range strings.Split(string(data), "\n") {
		if maxRows >= 0 && i >= maxRows {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" || !gjson.Valid(line) {
			continue
		}
		v := gjson.Parse(line)
		if v.IsObject() {
			rows = append(rows, cols.addObject(v))
			continue
		}
		cols.add("value")
		rows = append(rows, Row{"value": jsonValue(v)})
	}
	return cols.names, rows
}

func objectsOf(arr gjson.Result) []gjson.Result {
	var out []gjson.Result
	for _, v := range arr.Array() {
		if v.IsObject() {
			out = append(out, v)
		}
	}
	return out
}

// columnSet collects column names in first-seen order.
type columnSet struct {
	names []string
	seen  map[string]bool
}

func (c *columnSet) add(name string) {
	if c.seen == nil {
		c.seen = make(map[string]bool)
	}
	if !c.seen[name] {
		c.seen[name] = true
		c.names = append(c.names, name)
	}
}

func (c *columnSet) addObject(obj gjson.Result) Row {
	row := make(Row)
	obj.ForEach(func(k, v gjson.Result) bool {
		c.add(k.String())
		row[k.String()] = jsonValue(v)
		return true
	})
	return row
}

// jsonValue converts a parsed value, keeping numbers in their source form.
func jsonValue(v gjson.Result) any {
	switch v.Type {
	case gjson.Null:
		return nil
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.Number:
		return json.Number(v.Raw)
	case gjson.String:
		return v.Str
	}
	return v.Value()
}

func writeCSV(w io.Writer, ds *Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ds.Columns); err != nil {
		return err
	}
	rec := make([]string, len(ds.Columns))
	for _, row := range ds.Rows {
		for i, c := range ds.Columns {
			switch v := row[c].(type) {
			case nil:
				rec[i] = ""
			case string:
				rec[i] = v
			default:
				rec[i] = formatValue(v)
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeJSONL writes one object per row with keys in column order.
func writeJSONL(w io.Writer, ds *Dataset) error {
	var b bytes.Buffer
	for _, row := range ds.Rows {
		b.Reset()
		b.WriteByte('{')
		first := true
		for _, c := range ds.Columns {
			v, ok := row[c]
			if !ok {
				continue
			}
			if !first {
				b.WriteString(", ")
			}
			first = false
			key, err := json.Marshal(c)
			if err != nil {
				return err
			}
			val, err := json.Marshal(v)
			if err != nil {
				return err
			}
			b.Write(key)
			b.WriteString(": ")
			b.Write(val)
		}
		b.WriteString("}\n")
		if _, err := w.Write(b.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	idx := float64(n-1) * p
	lo, hi := int(math.Floor(idx)), int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	w := idx - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// pstdev is the population standard deviation.
func pstdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)))
}

func numericValues(rows []Row, column string) []float64 {
	var out []float64
	for _, r := range rows {
		if f, ok := coerceFloat(r[column]); ok {
			out = append(out, f)
		}
	}
	return out
}

func unknownColumns(ds *Dataset, cols []string) []string {
	have := make(map[string]bool, len(ds.Columns))
	for _, c := range ds.Columns {
		have[c] = true
	}
	var missing []string
	for _, c := range cols {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	return missing
}

// compareCells orders numbers before text, numbers numerically and text
// lexically.
func compareCells(a, b any) int {
	fa, na := coerceFloat(a)
	fb, nb := coerceFloat(b)
	switch {
	case na && nb:
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case na:
		return -1
	case nb:
		return 1
	}
	return strings.Compare(formatValue(a), formatValue(b))
}

func sortRows(rows []Row, by []string, ascending bool) []Row {
	out := append([]Row(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		for _, c := range by {
			if cmp := compareCells(out[i][c], out[j][c]); cmp != 0 {
				if ascending {
					return cmp < 0
				}
				return cmp > 0
			}
		}
		return false
	})
	return out
}
