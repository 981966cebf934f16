package export

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wegman-software/mapstore-go/internal/config"
	"github.com/wegman-software/mapstore-go/internal/proj"
	"github.com/wegman-software/mapstore-go/internal/wkb"
)

const stagingTable = "mapstore_load_tmp"

var stagingColumns = []string{"map_id", "handle", "type", "band", "name", "rights", "attrs", "geom_wkb"}

// PostGISWriter loads rows into a PostGIS table. Rows are buffered and
// copied in batches through a staging table, the geometry converted from
// EWKB on insert.
type PostGISWriter struct {
	ctx       context.Context
	pool      *pgxpool.Pool
	log       *zap.Logger
	table     string
	batchSize int
	batch     [][]any
	enc       *wkb.Encoder
	loaded    int64
}

// PostGISOptions controls table handling.
type PostGISOptions struct {
	Table        string
	DropExisting bool
	// Projection of the geometry column; nil is WGS84.
	Projection *proj.Transformer
}

// NewPostGISWriter connects with cfg and prepares the target table.
func NewPostGISWriter(ctx context.Context, cfg *config.Config, opts PostGISOptions, log *zap.Logger) (*PostGISWriter, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = int32(max(cfg.Workers, 1))

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	w := &PostGISWriter{
		ctx:       ctx,
		pool:      pool,
		log:       log,
		table:     qualifiedTable(cfg.DBSchema, opts.Table),
		batchSize: max(cfg.BatchSize, 1),
		enc:       wkb.NewProjectedEncoder(256, opts.Projection),
	}
	if err := w.prepare(cfg.DBSchema, opts.DropExisting); err != nil {
		pool.Close()
		return nil, err
	}
	return w, nil
}

func qualifiedTable(schema, table string) string {
	if table == "" {
		table = "mapstore_items"
	}
	if schema == "" {
		return pgx.Identifier{table}.Sanitize()
	}
	return pgx.Identifier{schema, table}.Sanitize()
}

func createTableSQL(table string, srid int) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			map_id BIGINT NOT NULL,
			handle BIGINT NOT NULL,
			type TEXT NOT NULL,
			band SMALLINT NOT NULL,
			name TEXT,
			rights BIGINT NOT NULL,
			attrs JSONB,
			geom GEOMETRY(Geometry, %d),
			PRIMARY KEY (map_id, handle)
		)`, table, srid)
}

func insertSQL(table string) string {
	// EWKB carries the SRID
	return fmt.Sprintf(`
		INSERT INTO %s (map_id, handle, type, band, name, rights, attrs, geom)
		SELECT map_id, handle, type, band, name, rights, attrs::jsonb,
			CASE WHEN geom_wkb IS NULL THEN NULL ELSE ST_GeomFromEWKB(geom_wkb) END
		FROM %s
		ON CONFLICT (map_id, handle) DO UPDATE SET
			type = EXCLUDED.type, band = EXCLUDED.band, name = EXCLUDED.name,
			rights = EXCLUDED.rights, attrs = EXCLUDED.attrs, geom = EXCLUDED.geom`,
		table, stagingTable)
}

func (w *PostGISWriter) prepare(schema string, dropExisting bool) error {
	if _, err := w.pool.Exec(w.ctx, "CREATE EXTENSION IF NOT EXISTS postgis"); err != nil {
		return fmt.Errorf("failed to create PostGIS extension: %w", err)
	}
	if schema != "" && schema != "public" {
		if _, err := w.pool.Exec(w.ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	if dropExisting {
		if _, err := w.pool.Exec(w.ctx, "DROP TABLE IF EXISTS "+w.table+" CASCADE"); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}
	if _, err := w.pool.Exec(w.ctx, createTableSQL(w.table, w.enc.SRID())); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// values converts a row to staging table values. The geometry is copied
// out of the encoder buffer.
func (w *PostGISWriter) values(row *Row) []any {
	var geomWKB []byte
	if b := w.enc.Encode(row.Gfx); b != nil {
		geomWKB = append([]byte(nil), b...)
	}
	return []any{
		int64(row.MapID), int64(row.Handle), row.Type, int16(row.Band),
		row.Name, int64(row.Rights), AttrsToJSON(row.Attrs), geomWKB,
	}
}

// Write buffers one row, copying the batch when full
func (w *PostGISWriter) Write(row *Row) error {
	w.batch = append(w.batch, w.values(row))
	if len(w.batch) >= w.batchSize {
		return w.flush()
	}
	return nil
}

func (w *PostGISWriter) flush() error {
	if len(w.batch) == 0 {
		return nil
	}
	tx, err := w.pool.Begin(w.ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(w.ctx)

	if _, err := tx.Exec(w.ctx, fmt.Sprintf(`
		CREATE TEMP TABLE IF NOT EXISTS %s (
			map_id BIGINT, handle BIGINT, type TEXT, band SMALLINT,
			name TEXT, rights BIGINT, attrs TEXT, geom_wkb BYTEA
		) ON COMMIT DELETE ROWS`, stagingTable)); err != nil {
		return fmt.Errorf("failed to create staging table: %w", err)
	}

	n, err := tx.CopyFrom(w.ctx, pgx.Identifier{stagingTable}, stagingColumns, pgx.CopyFromRows(w.batch))
	if err != nil {
		return fmt.Errorf("COPY failed: %w", err)
	}
	if _, err := tx.Exec(w.ctx, insertSQL(w.table)); err != nil {
		return fmt.Errorf("failed to insert from staging table: %w", err)
	}
	if err := tx.Commit(w.ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	w.loaded += n
	w.batch = w.batch[:0]
	return nil
}

// Loaded returns the number of rows copied so far.
func (w *PostGISWriter) Loaded() int64 { return w.loaded }

// Close flushes the last batch and releases the pool. It does not build
// indexes; call CreateIndexes once every map has been loaded.
func (w *PostGISWriter) Close() error {
	defer w.pool.Close()
	if err := w.flush(); err != nil {
		return err
	}
	w.log.Debug("PostGIS load finished", zap.String("table", w.table), zap.Int64("rows", w.loaded))
	return nil
}

// CreateIndexes builds the spatial and handle indexes on the target table
// and analyzes it.
func CreateIndexes(ctx context.Context, cfg *config.Config, table string, log *zap.Logger) error {
	conn, err := pgx.Connect(ctx, cfg.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "SET maintenance_work_mem = '1GB'"); err != nil {
		log.Debug("Could not raise maintenance_work_mem", zap.Error(err))
	}

	if table == "" {
		table = "mapstore_items"
	}
	full := qualifiedTable(cfg.DBSchema, table)
	stmts := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (geom)", pgx.Identifier{table + "_geom_idx"}.Sanitize(), full),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (type)", pgx.Identifier{table + "_type_idx"}.Sanitize(), full),
		"ANALYZE " + full,
	}
	for _, s := range stmts {
		if _, err := conn.Exec(ctx, s); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}
	log.Info("Indexes created", zap.String("table", full))
	return nil
}
