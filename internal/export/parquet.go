package export

import (
	"errors"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/wegman-software/mapstore-go/internal/proj"
	"github.com/wegman-software/mapstore-go/internal/wkb"
)

// ItemSchema is the Arrow schema of exported items.
var ItemSchema = arrow.NewSchema([]arrow.Field{
	{Name: "map_id", Type: arrow.PrimitiveTypes.Uint32, Nullable: false},
	{Name: "handle", Type: arrow.PrimitiveTypes.Uint32, Nullable: false},
	{Name: "type", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "band", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "name", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "rights", Type: arrow.PrimitiveTypes.Uint32, Nullable: false},
	{Name: "attrs", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "geom_wkb", Type: arrow.BinaryTypes.Binary, Nullable: true},
}, nil)

// ParquetWriter writes items with EWKB geometry to Parquet
type ParquetWriter struct {
	file      *os.File
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	enc       *wkb.Encoder
	batchSize int
	count     int
}

// NewParquetWriter creates a new item Parquet writer. Geometry is projected
// with tr, WGS84 when nil.
func NewParquetWriter(path string, batchSize int, tr *proj.Transformer) (*ParquetWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)

	writer, err := pqarrow.NewFileWriter(ItemSchema, f, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, err
	}

	return &ParquetWriter{
		file:      f,
		writer:    writer,
		builder:   array.NewRecordBuilder(memory.DefaultAllocator, ItemSchema),
		enc:       wkb.NewProjectedEncoder(256, tr),
		batchSize: max(batchSize, 1),
	}, nil
}

// Write appends one row
func (w *ParquetWriter) Write(row *Row) error {
	w.builder.Field(0).(*array.Uint32Builder).Append(row.MapID)
	w.builder.Field(1).(*array.Uint32Builder).Append(row.Handle)
	w.builder.Field(2).(*array.StringBuilder).Append(row.Type)
	w.builder.Field(3).(*array.Int32Builder).Append(int32(row.Band))
	w.builder.Field(4).(*array.StringBuilder).Append(row.Name)
	w.builder.Field(5).(*array.Uint32Builder).Append(row.Rights)
	w.builder.Field(6).(*array.StringBuilder).Append(AttrsToJSON(row.Attrs))
	geomB := w.builder.Field(7).(*array.BinaryBuilder)
	if b := w.enc.Encode(row.Gfx); b != nil {
		// the builder copies, so the encoder buffer can be reused
		geomB.Append(b)
	} else {
		geomB.AppendNull()
	}

	w.count++
	if w.count >= w.batchSize {
		return w.flush()
	}
	return nil
}

func (w *ParquetWriter) flush() error {
	if w.count == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	err := w.writer.Write(rec)
	w.count = 0
	return err
}

// Close flushes and closes the writer
func (w *ParquetWriter) Close() error {
	defer w.builder.Release()
	if err := w.flush(); err != nil {
		w.writer.Close()
		return err
	}
	if err := w.writer.Close(); err != nil {
		return err
	}
	// pqarrow may already have closed the file
	if err := w.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
