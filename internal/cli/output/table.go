package output

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"
	"time"
)

// TimeLayout is used for timestamps in table cells.
const TimeLayout = "2006-01-02 15:04:05"

// Table represents tabular data.
type Table struct {
	Headers []string
	Rows    [][]string
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Render writes the table with tab-aligned columns.
func (t *Table) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(t.Headers) > 0 {
		fmt.Fprintln(tw, strings.Join(t.Headers, "\t"))
	}
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// Tabular is implemented by values that know their own table layout.
type Tabular interface {
	Table(wide bool) *Table
}

// TableFormatter formats data as a table.
//
// Tabular values and *Table render directly. Slices of structs become one
// row per element, and single structs or maps become FIELD/VALUE pairs.
// Struct fields tagged `table:"-"` are skipped, and `table:"wide"` fields
// only appear in wide mode. Anything else falls back to JSON.
type TableFormatter struct {
	Wide bool
}

func (f *TableFormatter) Format(w io.Writer, data any) error {
	switch v := data.(type) {
	case nil:
		return nil
	case *Table:
		return v.Render(w)
	case Tabular:
		return v.Table(f.Wide).Render(w)
	}

	table, ok := toTable(reflect.ValueOf(data), f.Wide)
	if !ok {
		return (&JSONFormatter{}).Format(w, data)
	}
	return table.Render(w)
}

func toTable(v reflect.Value, wide bool) (*Table, bool) {
	v = indirect(v)
	if !v.IsValid() {
		return nil, false
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		return sliceTable(v, wide)
	case reflect.Struct:
		if v.Type() == timeType {
			return nil, false
		}
		t := &Table{Headers: []string{"FIELD", "VALUE"}}
		for _, col := range columns(v.Type(), wide) {
			t.AddRow(col.name, cell(v.Field(col.index)))
		}
		return t, true
	case reflect.Map:
		t := &Table{Headers: []string{"KEY", "VALUE"}}
		keys := v.MapKeys()
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = cell(k)
		}
		order := sortedIndex(names)
		for _, i := range order {
			t.AddRow(names[i], cell(v.MapIndex(keys[i])))
		}
		return t, true
	default:
		return nil, false
	}
}

func sliceTable(v reflect.Value, wide bool) (*Table, bool) {
	elemType := v.Type().Elem()
	for elemType.Kind() == reflect.Ptr {
		elemType = elemType.Elem()
	}
	if elemType.Kind() != reflect.Struct {
		t := &Table{Headers: []string{"VALUE"}}
		for i := 0; i < v.Len(); i++ {
			t.AddRow(cell(v.Index(i)))
		}
		return t, true
	}

	cols := columns(elemType, wide)
	t := &Table{}
	for _, col := range cols {
		t.Headers = append(t.Headers, strings.ToUpper(strings.ReplaceAll(col.name, "_", " ")))
	}
	for i := 0; i < v.Len(); i++ {
		elem := indirect(v.Index(i))
		row := make([]string, len(cols))
		for j, col := range cols {
			if elem.IsValid() {
				row[j] = cell(elem.Field(col.index))
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, true
}

type column struct {
	name  string
	index int
}

func columns(t reflect.Type, wide bool) []column {
	var cols []column
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		switch tag := field.Tag.Get("table"); {
		case tag == "-":
			continue
		case tag == "wide" && !wide:
			continue
		}
		name := field.Name
		if jsonName, _, _ := strings.Cut(field.Tag.Get("json"), ","); jsonName == "-" {
			continue
		} else if jsonName != "" {
			name = jsonName
		}
		cols = append(cols, column{name: name, index: i})
	}
	return cols
}

var timeType = reflect.TypeOf(time.Time{})

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// cell formats a value for display. Empty values render as "-".
func cell(v reflect.Value) string {
	v = indirect(v)
	if !v.IsValid() {
		return "-"
	}

	if v.Type() == timeType {
		t := v.Interface().(time.Time)
		if t.IsZero() {
			return "-"
		}
		return t.Local().Format(TimeLayout)
	}
	if s, ok := v.Interface().(fmt.Stringer); ok {
		if out := s.String(); out != "" {
			return out
		}
		return "-"
	}

	switch v.Kind() {
	case reflect.String:
		if v.String() == "" {
			return "-"
		}
		return v.String()
	case reflect.Float32, reflect.Float64:
		return fmt.Sprintf("%.2f", v.Float())
	case reflect.Slice, reflect.Array, reflect.Map:
		if v.Len() == 0 {
			return "-"
		}
		raw, err := json.Marshal(v.Interface())
		if err != nil {
			return fmt.Sprintf("[%d items]", v.Len())
		}
		return string(raw)
	default:
		return fmt.Sprint(v.Interface())
	}
}

// sortedIndex returns the indexes of names in ascending order.
func sortedIndex(names []string) []int {
	idx := make([]int, len(names))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return names[idx[a]] < names[idx[b]] })
	return idx
}
