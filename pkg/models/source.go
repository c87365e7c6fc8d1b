package models

// SourceKind distinguishes the backing store of a registered source.
type SourceKind string

const (
	SourcePostgres SourceKind = "postgres"
	SourceCSV      SourceKind = "csv"
)

// RegisteredSource is the registry record for one data source.
// Postgres URIs carry the backing table as a ?table= query parameter;
// CSV URIs point at the raw object.
type RegisteredSource struct {
	Alias      string     `json:"alias"`
	URI        string     `json:"uri"`
	SourceType SourceKind `json:"source_type"`
	Status     string     `json:"status"`
}

// ColumnInfo describes one column of a source's schema.
type ColumnInfo struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

// ScopedResult is the uniform shape returned by a scoped load on either
// source kind. TotalRows is the pre-limit matched count; PreviewRows is
// the number of rows actually returned.
type ScopedResult struct {
	Alias       string       `json:"alias"`
	Columns     []ColumnInfo `json:"columns"`
	Rows        [][]string   `json:"rows"`
	TotalRows   int          `json:"total_rows"`
	PreviewRows int          `json:"preview_rows"`
}
