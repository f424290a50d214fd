package export

import "context"

// Exporter is the part of Service the scheduler depends on.
type Exporter interface {
	Export(ctx context.Context, cfg ExportConfig) (*ExportResult, error)
}

// Importer restores archives.
type Importer interface {
	Import(ctx context.Context, cfg ImportConfig) (*ImportResult, error)
}

var (
	_ Exporter = (*Service)(nil)
	_ Importer = (*Service)(nil)
)
