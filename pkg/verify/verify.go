// Package verify checks exported Parquet artifacts by reading them back
// independently of the engine that wrote them.
package verify

import (
	"log/slog"
	"os"

	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	rferrors "github.com/rentflow/rentflow/pkg/errors"
)

// FileInfo describes a verified Parquet file.
type FileInfo struct {
	Path    string
	Rows    int64
	Columns []string
	Bytes   int64
}

// ReadInfo opens a Parquet file and returns its row count and column
// names without materializing the data.
func ReadInfo(path string) (*FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodeExportFailed, "failed to open parquet file").
			WithContext("path", path)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := file.NewParquetReader(f)
	if err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodeExportFailed, "not a readable parquet file").
			WithContext("path", path)
	}
	defer reader.Close()

	arrowReader, err := pqarrow.NewFileReader(reader, pqarrow.ArrowReadProperties{}, nil)
	if err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodeExportFailed, "failed to read parquet schema").
			WithContext("path", path)
	}
	schema, err := arrowReader.Schema()
	if err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodeExportFailed, "failed to decode schema").
			WithContext("path", path)
	}

	columns := make([]string, 0, schema.NumFields())
	for _, field := range schema.Fields() {
		columns = append(columns, field.Name)
	}

	return &FileInfo{
		Path:    path,
		Rows:    reader.NumRows(),
		Columns: columns,
		Bytes:   stat.Size(),
	}, nil
}

// Export confirms an exported file carries exactly the rows the source
// table held and that the required columns survived the trip.
func Export(path string, wantRows int64, wantColumns []string) error {
	info, err := ReadInfo(path)
	if err != nil {
		return err
	}

	if info.Rows != wantRows {
		return rferrors.New(rferrors.CodeExportFailed, "exported row count does not match source").
			WithContext("path", path).
			WithContext("want", wantRows).
			WithContext("got", info.Rows)
	}

	present := make(map[string]bool, len(info.Columns))
	for _, c := range info.Columns {
		present[c] = true
	}
	for _, c := range wantColumns {
		if !present[c] {
			return rferrors.New(rferrors.CodeExportFailed, "exported file lost a column").
				WithContext("path", path).
				WithContext("column", c)
		}
	}

	slog.Debug("parquet export verified",
		"path", path, "rows", info.Rows, "columns", len(info.Columns), "bytes", info.Bytes)
	return nil
}
