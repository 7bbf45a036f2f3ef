package backup

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"sort"
	"strconv"

	"fuelsync/internal/fuel"
)

// EncodeCSV writes records as CSV. Nested objects are flattened with "."
// separators; the header is the sorted union of every record's keys. Missing
// and null values are empty cells.
func EncodeCSV(records []map[string]any) ([]byte, error) {
	flat := make([]map[string]any, len(records))
	keys := map[string]struct{}{}
	for i, r := range records {
		flat[i] = fuel.Flatten(r)
		for k := range flat[i] {
			keys[k] = struct{}{}
		}
	}

	header := make([]string, 0, len(keys))
	for k := range keys {
		header = append(header, k)
	}
	sort.Strings(header)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if len(header) > 0 {
		if err := w.Write(header); err != nil {
			return nil, err
		}
	}

	row := make([]string, len(header))
	for _, r := range flat {
		for i, k := range header {
			cell, err := cellText(r[k])
			if err != nil {
				return nil, err
			}
			row[i] = cell
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func cellText(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
