package render

import (
	"encoding/csv"
	"fmt"
	"io"

	"report-pipeline/internal/models"
)

// Renderer materializes tabular report data into a byte stream. The pipeline
// does not care about the byte format beyond the extension and content type
// used for the stored artifact.
type Renderer interface {
	Render(w io.Writer, data *models.TabularData) error
	Extension() string
	ContentType() string
}

// CSV renders reports as RFC 4180 CSV with a header row.
type CSV struct{}

func (CSV) Render(w io.Writer, data *models.TabularData) error {
	if data == nil {
		return fmt.Errorf("render: nil tabular data")
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(data.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range data.Rows {
		if len(row) != len(data.Columns) {
			return fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(data.Columns))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func (CSV) Extension() string { return "csv" }

func (CSV) ContentType() string { return "text/csv" }
