package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

var placeholderPattern = regexp.MustCompile(`\$(\d+)`)

// SQLStore implements Store on Postgres (pgx) or SQLite.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQLStore opens the database and applies the embedded migrations.
func OpenSQLStore(driver, dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if driver == "" {
		driver = DriverPostgres
	}
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(20)
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.EnsureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema applies the driver's embedded migrations in lexical order.
func (s *SQLStore) EnsureSchema() error {
	dir := "migrations/postgres"
	if s.driver == DriverSQLite {
		dir = "migrations/sqlite"
	}
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		payload, err := migrationsFS.ReadFile(dir + "/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		sqlText := strings.TrimSpace(string(payload))
		if sqlText == "" {
			continue
		}
		if _, err := s.db.Exec(sqlText); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// Close releases database resources.
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// rebind rewrites $N placeholders into SQLite's ?N form.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverSQLite {
		return query
	}
	return placeholderPattern.ReplaceAllString(query, "?$1")
}

func (s *SQLStore) GetSeries(ctx context.Context, id int64) (Series, error) {
	var sr Series
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, name FROM series WHERE id = $1`), id).Scan(&sr.ID, &sr.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Series{}, fmt.Errorf("series %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Series{}, fmt.Errorf("get series: %w", err)
	}
	return sr, nil
}

func (s *SQLStore) SeriesMetadata(ctx context.Context, seriesID int64) ([]SeriesMetadata, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT key, label, value FROM series_metadata WHERE series_id = $1 ORDER BY id ASC`), seriesID)
	if err != nil {
		return nil, fmt.Errorf("list series metadata: %w", err)
	}
	defer rows.Close()

	var out []SeriesMetadata
	for rows.Next() {
		var m SeriesMetadata
		if err := rows.Scan(&m.Key, &m.Label, &m.Value); err != nil {
			return nil, fmt.Errorf("scan series metadata: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLStore) ProductsBySeries(ctx context.Context, seriesID int64) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, series_id, sku, name FROM products WHERE series_id = $1 ORDER BY sku ASC, id ASC`), seriesID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SeriesID, &p.SKU, &p.Name); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) ProductAttributes(ctx context.Context, productID int64) ([]Attribute, error) {
	const query = `
        SELECT f.key, f.label, f.type, v.value
        FROM product_attribute_values v
        JOIN fields f ON f.id = v.field_id
        WHERE v.product_id = $1 AND f.scope = $2
        ORDER BY f.id ASC
    `
	rows, err := s.db.QueryContext(ctx, s.rebind(query), productID, FieldScopeProduct)
	if err != nil {
		return nil, fmt.Errorf("list product attributes: %w", err)
	}
	defer rows.Close()

	var out []Attribute
	for rows.Next() {
		var a Attribute
		if err := rows.Scan(&a.Key, &a.Label, &a.Type, &a.Value); err != nil {
			return nil, fmt.Errorf("scan product attribute: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const variableColumns = `id, key, type, value, series_id, created_at, updated_at`

func (s *SQLStore) ListVariables(ctx context.Context, seriesID *int64) ([]Variable, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if seriesID == nil {
		rows, err = s.db.QueryContext(ctx, `SELECT `+variableColumns+` FROM variables WHERE series_id IS NULL ORDER BY id ASC`)
	} else {
		rows, err = s.db.QueryContext(ctx, s.rebind(`SELECT `+variableColumns+` FROM variables WHERE series_id = $1 ORDER BY id ASC`), *seriesID)
	}
	if err != nil {
		return nil, fmt.Errorf("list variables: %w", err)
	}
	defer rows.Close()

	var out []Variable
	for rows.Next() {
		v, err := scanVariable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetVariable(ctx context.Context, id int64) (Variable, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+variableColumns+` FROM variables WHERE id = $1`), id)
	v, err := scanVariable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Variable{}, fmt.Errorf("variable %d: %w", id, ErrNotFound)
	}
	return v, err
}

func (s *SQLStore) CreateVariable(ctx context.Context, input VariableInput) (Variable, error) {
	if err := input.Validate(); err != nil {
		return Variable{}, err
	}
	input = input.normalized()
	now := time.Now().UTC()

	query := `INSERT INTO variables (key, type, value, series_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + variableColumns
	row := s.db.QueryRowContext(ctx, s.rebind(query),
		input.Key,
		string(input.Type),
		input.Value,
		nullableID(input.SeriesID),
		now,
		now,
	)
	v, err := scanVariable(row)
	if err != nil {
		return Variable{}, fmt.Errorf("create variable: %w", err)
	}
	return v, nil
}

func (s *SQLStore) UpdateVariable(ctx context.Context, id int64, input VariableInput) (Variable, error) {
	if err := input.Validate(); err != nil {
		return Variable{}, err
	}
	input = input.normalized()

	query := `UPDATE variables SET key = $1, type = $2, value = $3, series_id = $4, updated_at = $5
WHERE id = $6
RETURNING ` + variableColumns
	row := s.db.QueryRowContext(ctx, s.rebind(query),
		input.Key,
		string(input.Type),
		input.Value,
		nullableID(input.SeriesID),
		time.Now().UTC(),
		id,
	)
	v, err := scanVariable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Variable{}, fmt.Errorf("variable %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Variable{}, fmt.Errorf("update variable: %w", err)
	}
	return v, nil
}

func (s *SQLStore) DeleteVariable(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM variables WHERE id = $1`), id)
	if err != nil {
		return fmt.Errorf("delete variable: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete variable rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("variable %d: %w", id, ErrNotFound)
	}
	return nil
}

const templateColumns = `id, name, dialect, series_id, body, last_artifact_url, last_artifact_path, generated_at`

func (s *SQLStore) GetTemplate(ctx context.Context, id int64) (Template, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+templateColumns+` FROM templates WHERE id = $1`), id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Template{}, fmt.Errorf("template %d: %w", id, ErrNotFound)
	}
	return t, err
}

func (s *SQLStore) ListTemplates(ctx context.Context, seriesID *int64) ([]Template, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if seriesID == nil {
		rows, err = s.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM templates ORDER BY id ASC`)
	} else {
		rows, err = s.db.QueryContext(ctx, s.rebind(`SELECT `+templateColumns+` FROM templates WHERE series_id = $1 ORDER BY id ASC`), *seriesID)
	}
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLStore) SaveArtifact(ctx context.Context, templateID int64, artifact ArtifactPointer) error {
	query := `UPDATE templates SET last_artifact_url = $1, last_artifact_path = $2, generated_at = $3 WHERE id = $4`
	res, err := s.db.ExecContext(ctx, s.rebind(query), artifact.URL, artifact.Path, artifact.GeneratedAt.UTC(), templateID)
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save artifact rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("template %d: %w", templateID, ErrNotFound)
	}
	return nil
}

// Seed upserts the seed contents inside one transaction.
func (s *SQLStore) Seed(ctx context.Context, seed Seed) error {
	if err := seed.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	exec := func(query string, args ...any) error {
		_, err := tx.ExecContext(ctx, s.rebind(query), args...)
		return err
	}

	fieldIDs := make(map[string]int64, len(seed.Fields))
	for _, f := range seed.Fields {
		scope := f.Scope
		if scope == "" {
			scope = FieldScopeProduct
		}
		typ := f.Type
		if typ == "" {
			typ = "text"
		}
		if err := exec(`INSERT INTO fields (id, key, label, type, scope) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET key = EXCLUDED.key, label = EXCLUDED.label, type = EXCLUDED.type, scope = EXCLUDED.scope`,
			f.ID, f.Key, f.Label, typ, scope); err != nil {
			return fmt.Errorf("seed field %s: %w", f.Key, err)
		}
		fieldIDs[f.Key] = f.ID
	}

	for _, sr := range seed.Series {
		if err := exec(`INSERT INTO series (id, name) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, sr.ID, sr.Name); err != nil {
			return fmt.Errorf("seed series %d: %w", sr.ID, err)
		}
		for _, m := range sr.Metadata {
			if err := exec(`INSERT INTO series_metadata (series_id, key, label, value) VALUES ($1, $2, $3, $4)
ON CONFLICT (series_id, key) DO UPDATE SET label = EXCLUDED.label, value = EXCLUDED.value`,
				sr.ID, m.Key, m.Label, m.Value); err != nil {
				return fmt.Errorf("seed series %d metadata %s: %w", sr.ID, m.Key, err)
			}
		}
		for _, p := range sr.Products {
			if err := exec(`INSERT INTO products (id, series_id, sku, name) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET series_id = EXCLUDED.series_id, sku = EXCLUDED.sku, name = EXCLUDED.name`,
				p.ID, sr.ID, p.SKU, p.Name); err != nil {
				return fmt.Errorf("seed product %s: %w", p.SKU, err)
			}
			for key, value := range p.Attributes {
				if err := exec(`INSERT INTO product_attribute_values (product_id, field_id, value) VALUES ($1, $2, $3)
ON CONFLICT (product_id, field_id) DO UPDATE SET value = EXCLUDED.value`,
					p.ID, fieldIDs[key], value); err != nil {
					return fmt.Errorf("seed product %s attribute %s: %w", p.SKU, key, err)
				}
			}
		}
	}

	// Variables have no natural id in seed files; (key, scope) identifies them.
	now := time.Now().UTC()
	for _, v := range seed.Variables {
		in := VariableInput{Key: v.Key, Type: v.Type, Value: v.Value, SeriesID: v.SeriesID}.normalized()
		var (
			res sql.Result
			err error
		)
		if in.SeriesID == nil {
			res, err = tx.ExecContext(ctx, s.rebind(`UPDATE variables SET type = $1, value = $2, updated_at = $3 WHERE key = $4 AND series_id IS NULL`),
				string(in.Type), in.Value, now, in.Key)
		} else {
			res, err = tx.ExecContext(ctx, s.rebind(`UPDATE variables SET type = $1, value = $2, updated_at = $3 WHERE key = $4 AND series_id = $5`),
				string(in.Type), in.Value, now, in.Key, *in.SeriesID)
		}
		if err != nil {
			return fmt.Errorf("seed variable %s: %w", v.Key, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("seed variable %s: %w", v.Key, err)
		} else if n > 0 {
			continue
		}
		if err := exec(`INSERT INTO variables (key, type, value, series_id, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			in.Key, string(in.Type), in.Value, nullableID(in.SeriesID), now, now); err != nil {
			return fmt.Errorf("seed variable %s: %w", v.Key, err)
		}
	}

	for _, t := range seed.Templates {
		if err := exec(`INSERT INTO templates (id, name, dialect, series_id, body) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, dialect = EXCLUDED.dialect, series_id = EXCLUDED.series_id, body = EXCLUDED.body`,
			t.ID, t.Name, t.Dialect, nullableID(t.SeriesID), t.Body); err != nil {
			return fmt.Errorf("seed template %d: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}

func scanVariable(scanner interface{ Scan(dest ...any) error }) (Variable, error) {
	var (
		v        Variable
		typ      string
		seriesID sql.NullInt64
	)
	if err := scanner.Scan(&v.ID, &v.Key, &typ, &v.Value, &seriesID, &v.CreatedAt, &v.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Variable{}, err
		}
		return Variable{}, fmt.Errorf("scan variable: %w", err)
	}
	v.Type = VariableType(typ)
	if seriesID.Valid {
		id := seriesID.Int64
		v.SeriesID = &id
	}
	return v, nil
}

func scanTemplate(scanner interface{ Scan(dest ...any) error }) (Template, error) {
	var (
		t         Template
		seriesID  sql.NullInt64
		url       sql.NullString
		path      sql.NullString
		generated sql.NullTime
	)
	if err := scanner.Scan(&t.ID, &t.Name, &t.Dialect, &seriesID, &t.Body, &url, &path, &generated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Template{}, err
		}
		return Template{}, fmt.Errorf("scan template: %w", err)
	}
	if seriesID.Valid {
		id := seriesID.Int64
		t.SeriesID = &id
	}
	if url.Valid {
		t.LastArtifactURL = url.String
	}
	if path.Valid {
		t.LastArtifactPath = path.String
	}
	if generated.Valid {
		ts := generated.Time
		t.GeneratedAt = &ts
	}
	return t, nil
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
