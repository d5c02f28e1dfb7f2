package output

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONFormatter writes data as JSON, indented unless Compact is set.
type JSONFormatter struct {
	Compact bool
}

func (f *JSONFormatter) Format(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	if !f.Compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
