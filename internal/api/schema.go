package api

import (
	"net/http"
	"strconv"
	"strings"
)

const maxSchemaSampleRows = 100

type schemaColumn struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	DBType string `json:"db_type"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.OpenSource == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "source access is not configured", false, nil)
		return
	}

	raw := strings.TrimSpace(r.URL.Query().Get("source"))
	if raw == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SOURCE_REQUIRED", "source query parameter is required", false, nil)
		return
	}
	sampleRows := schemaSampleRows(deps)
	if value := strings.TrimSpace(r.URL.Query().Get("sample")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 || parsed > maxSchemaSampleRows {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SAMPLE", "sample must be an integer between 0 and 100", false, map[string]any{"sample": value})
			return
		}
		sampleRows = parsed
	}

	src, ok := openSource(deps, w, r, raw)
	if !ok {
		return
	}
	defer func() { _ = src.Close() }()

	schema := src.Schema()
	columns := make([]schemaColumn, 0, len(schema))
	for _, column := range schema {
		columns = append(columns, schemaColumn{Name: column.Name, Type: column.Type.String(), DBType: column.DBType})
	}

	sample := [][]any{}
	if sampleRows > 0 {
		rows, err := src.Sample(r.Context(), sampleRows)
		if err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "SAMPLE_FAILED", "failed to read sample rows", true, map[string]any{"details": err.Error()})
			return
		}
		sample = jsonRows(rows)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"source":  src.Location().String(),
		"columns": columns,
		"sample":  sample,
	})
}

func schemaSampleRows(deps Dependencies) int {
	if deps.SchemaSampleRows > 0 {
		return deps.SchemaSampleRows
	}
	return 1
}
