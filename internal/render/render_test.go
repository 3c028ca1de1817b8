package render

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"report-pipeline/internal/models"
)

func TestCSVRender(t *testing.T) {
	data := &models.TabularData{
		Columns: []string{"id", "status"},
		Rows: [][]string{
			{"a", "completed"},
			{"b", "failed, with a comma"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, CSV{}.Render(&buf, data))
	require.Equal(t, "id,status\na,completed\nb,\"failed, with a comma\"\n", buf.String())
}

func TestCSVRenderRejectsRaggedRows(t *testing.T) {
	data := &models.TabularData{
		Columns: []string{"id", "status"},
		Rows:    [][]string{{"only-one-cell"}},
	}
	var buf bytes.Buffer
	require.Error(t, CSV{}.Render(&buf, data))
}
