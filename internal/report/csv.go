package report

import (
	"encoding/csv"
	"encoding/json"
	"io"

	"credsweep/internal/model"
)

// WriteCSV writes records with a fixed column order.
func WriteCSV(w io.Writer, records []model.DeviceRecord) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(Columns); err != nil {
		return err
	}

	for i := range records {
		if err := writer.Write(row(&records[i])); err != nil {
			return err
		}
	}

	writer.Flush()

	return writer.Error()
}

// WriteJSON writes the whole result set, summary included.
func WriteJSON(w io.Writer, rs *model.ResultSet) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(rs)
}
