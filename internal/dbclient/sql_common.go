package dbclient

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"recordgrid/internal/domain"
	"recordgrid/internal/logger"
)

// sqlConnector is the shared implementation for MySQL, Postgres, and SQLite.
// Tables are objects; the primary key (or SQLite's rowid) is the row Id.
type sqlConnector struct {
	driverName string
	db         *sql.DB
}

// newSQLConnector creates a generic SQL connector.
func newSQLConnector(driverName, dsn string) (*sqlConnector, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	return &sqlConnector{driverName: driverName, db: db}, nil
}

func (c *sqlConnector) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.db.PingContext(ctx)
}

// ── Dialect ───────────────────────────────────────────────

// quoteIdent quotes a table or column name for the connector's dialect.
func (c *sqlConnector) quoteIdent(name string) string {
	if c.driverName == "sqlite" && strings.EqualFold(name, "rowid") {
		return "rowid"
	}
	if c.driverName == "mysql" {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// placeholder returns the n-th (1-based) bind parameter marker.
func (c *sqlConnector) placeholder(n int) string {
	if c.driverName == "postgres" {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// schemaExpr is the SQL expression naming the active schema.
func (c *sqlConnector) schemaExpr() string {
	if c.driverName == "mysql" {
		return "DATABASE()"
	}
	return "current_schema()"
}

// ── Schema ────────────────────────────────────────────────

func (c *sqlConnector) ListObjects(ctx context.Context) ([]domain.ObjectDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var query string
	switch c.driverName {
	case "sqlite":
		query = `SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	default:
		query = `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		 WHERE TABLE_SCHEMA = ` + c.schemaExpr() + ` ORDER BY TABLE_NAME`
	}
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var objs []domain.ObjectDescriptor
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		objs = append(objs, domain.ObjectDescriptor{ID: name, Label: name})
	}
	return objs, rows.Err()
}

func (c *sqlConnector) ListFields(ctx context.Context, objectID string) ([]domain.FieldDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	switch c.driverName {
	case "sqlite":
		return c.sqliteFields(ctx, objectID)
	default:
		return c.infoSchemaFields(ctx, objectID)
	}
}

type sqliteColumn struct {
	name    string
	colType string
	pk      int
}

func (c *sqlConnector) sqliteColumns(ctx context.Context, table string) ([]sqliteColumn, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT name, type, pk FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("table info: %w", err)
	}
	defer rows.Close()

	var cols []sqliteColumn
	for rows.Next() {
		var col sqliteColumn
		if err := rows.Scan(&col.name, &col.colType, &col.pk); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("no such table: %s", table)
	}
	return cols, nil
}

func (c *sqlConnector) sqliteFields(ctx context.Context, table string) ([]domain.FieldDescriptor, error) {
	cols, err := c.sqliteColumns(ctx, table)
	if err != nil {
		return nil, err
	}

	refs := map[string]bool{}
	fkRows, err := c.db.QueryContext(ctx, `SELECT "from" FROM pragma_foreign_key_list(?)`, table)
	if err == nil {
		for fkRows.Next() {
			var from string
			if fkRows.Scan(&from) == nil {
				refs[from] = true
			}
		}
		fkRows.Close()
	}

	fields := make([]domain.FieldDescriptor, 0, len(cols))
	for _, col := range cols {
		f := domain.FieldDescriptor{Name: col.name, Label: col.name, DataType: normalizeSQLType(col.colType)}
		if refs[col.name] {
			f.DataType = "reference"
		}
		if col.pk > 0 {
			f.Updatable = domain.BoolPtr(false)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func (c *sqlConnector) infoSchemaFields(ctx context.Context, table string) ([]domain.FieldDescriptor, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS
		 WHERE TABLE_NAME = `+c.placeholder(1)+` AND TABLE_SCHEMA = `+c.schemaExpr()+`
		 ORDER BY ORDINAL_POSITION`, table)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	var fields []domain.FieldDescriptor
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		fields = append(fields, domain.FieldDescriptor{Name: name, Label: name, DataType: normalizeSQLType(dataType)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no such table: %s", table)
	}

	constraints, err := c.infoSchemaConstraints(ctx, table)
	if err != nil {
		logger.Log.WithField("table", table).Warnf("constraint lookup failed: %v", err)
	}
	for i := range fields {
		switch constraints[fields[i].Name] {
		case "PRIMARY KEY":
			fields[i].Updatable = domain.BoolPtr(false)
		case "FOREIGN KEY":
			fields[i].DataType = "reference"
		}
	}
	return fields, nil
}

// infoSchemaConstraints maps column name to its PRIMARY KEY or FOREIGN KEY
// constraint type. Primary key wins when a column has both.
func (c *sqlConnector) infoSchemaConstraints(ctx context.Context, table string) (map[string]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT kcu.COLUMN_NAME, tc.CONSTRAINT_TYPE
		 FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		 JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
		   ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
		  AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
		  AND tc.TABLE_NAME = kcu.TABLE_NAME
		 WHERE tc.TABLE_NAME = `+c.placeholder(1)+` AND tc.TABLE_SCHEMA = `+c.schemaExpr()+`
		   AND tc.CONSTRAINT_TYPE IN ('PRIMARY KEY', 'FOREIGN KEY')
		 ORDER BY kcu.ORDINAL_POSITION`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var col, kind string
		if err := rows.Scan(&col, &kind); err != nil {
			return nil, err
		}
		if out[col] != "PRIMARY KEY" {
			out[col] = kind
		}
	}
	return out, rows.Err()
}

// primaryKeys returns the primary key columns of table in key order.
// SQLite tables without a declared key fall back to rowid.
func (c *sqlConnector) primaryKeys(ctx context.Context, table string) ([]string, error) {
	if c.driverName == "sqlite" {
		cols, err := c.sqliteColumns(ctx, table)
		if err != nil {
			return nil, err
		}
		slices.SortStableFunc(cols, func(a, b sqliteColumn) int { return a.pk - b.pk })
		var pks []string
		for _, col := range cols {
			if col.pk > 0 {
				pks = append(pks, col.name)
			}
		}
		if len(pks) == 0 {
			return []string{"rowid"}, nil
		}
		return pks, nil
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT kcu.COLUMN_NAME
		 FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		 JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
		   ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
		  AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
		  AND tc.TABLE_NAME = kcu.TABLE_NAME
		 WHERE tc.TABLE_NAME = `+c.placeholder(1)+` AND tc.TABLE_SCHEMA = `+c.schemaExpr()+`
		   AND tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
		 ORDER BY kcu.ORDINAL_POSITION`, table)
	if err != nil {
		return nil, fmt.Errorf("primary keys: %w", err)
	}
	defer rows.Close()

	var pks []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		pks = append(pks, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(pks) == 0 {
		return nil, fmt.Errorf("table %s has no primary key", table)
	}
	return pks, nil
}

// ── Records ───────────────────────────────────────────────

func (c *sqlConnector) FetchRecords(ctx context.Context, objectID string, fieldNames []string, maxCount int) ([]domain.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pks, err := c.primaryKeys(ctx, objectID)
	if err != nil {
		return nil, err
	}
	if maxCount <= 0 {
		maxCount = 2000
	}

	selectCols := make([]string, 0, len(pks)+len(fieldNames))
	for _, pk := range pks {
		selectCols = append(selectCols, c.quoteIdent(pk))
	}
	for _, f := range fieldNames {
		selectCols = append(selectCols, c.quoteIdent(f))
	}
	orderCols := make([]string, len(pks))
	for i, pk := range pks {
		orderCols[i] = c.quoteIdent(pk)
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT %d",
		strings.Join(selectCols, ", "), c.quoteIdent(objectID), strings.Join(orderCols, ", "), maxCount)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	numCols := len(selectCols)
	var out []domain.Row
	for rows.Next() {
		values := make([]any, numCols)
		ptrs := make([]any, numCols)
		for j := range values {
			ptrs[j] = &values[j]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := make(domain.Row, len(fieldNames)+1)
		row[domain.IDField] = encodeRowID(values[:len(pks)])
		for j, f := range fieldNames {
			if f == domain.IDField {
				continue
			}
			row[f] = formatValue(values[len(pks)+j])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return out, nil
}

func (c *sqlConnector) ApplyUpdates(ctx context.Context, objectID string, batch []domain.RowEdit) ([]domain.RowResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pks, err := c.primaryKeys(ctx, objectID)
	if err != nil {
		return nil, err
	}
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	results := make([]domain.RowResult, 0, len(batch))
	for _, edit := range batch {
		res := domain.RowResult{RowID: edit.RowID}
		if err := c.applyUpdate(ctx, conn, objectID, pks, edit); err != nil {
			res.Error = err.Error()
		} else {
			res.Succeeded = true
		}
		results = append(results, res)
	}
	return results, nil
}

func (c *sqlConnector) applyUpdate(ctx context.Context, conn *sql.Conn, table string, pks []string, edit domain.RowEdit) error {
	if len(edit.Changes) == 0 {
		return nil
	}
	key, err := decodeRowID(edit.RowID, len(pks))
	if err != nil {
		return err
	}

	cols := make([]string, 0, len(edit.Changes))
	for col := range edit.Changes {
		if slices.Contains(pks, col) || col == domain.IDField {
			return fmt.Errorf("field %s is read-only", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	args := make([]any, 0, len(cols)+len(pks))
	setClauses := make([]string, 0, len(cols))
	for _, col := range cols {
		args = append(args, edit.Changes[col])
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", c.quoteIdent(col), c.placeholder(len(args))))
	}
	whereClauses := make([]string, 0, len(pks))
	for i, pk := range pks {
		args = append(args, c.keyArg(key[i]))
		whereClauses = append(whereClauses, fmt.Sprintf("%s = %s", c.quoteIdent(pk), c.placeholder(len(args))))
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		c.quoteIdent(table), strings.Join(setClauses, ", "), strings.Join(whereClauses, " AND "))

	result, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return errors.New("record not found")
	}
	return nil
}

// keyArg binds integer-looking keys as integers so SQLite's rowid and
// INTEGER PRIMARY KEY comparisons match.
func (c *sqlConnector) keyArg(v string) any {
	if c.driverName == "sqlite" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return v
}

func (c *sqlConnector) Close() error {
	return c.db.Close()
}

// ── Values ────────────────────────────────────────────────

// encodeRowID renders key values as the row Id. A single key is its own
// string form; a composite key is a JSON array of strings.
func encodeRowID(key []any) string {
	parts := make([]string, len(key))
	for i, v := range key {
		parts[i] = scalarString(formatValue(v))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	data, _ := json.Marshal(parts)
	return string(data)
}

// decodeRowID is the inverse of encodeRowID for a key of n columns.
func decodeRowID(id string, n int) ([]string, error) {
	if n == 1 {
		return []string{id}, nil
	}
	var parts []string
	if err := json.Unmarshal([]byte(id), &parts); err != nil || len(parts) != n {
		return nil, fmt.Errorf("invalid composite row id %q", id)
	}
	return parts, nil
}

func scalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// formatValue converts a database value to a JSON-friendly primitive.
func formatValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return val
	}
}

// normalizeSQLType maps a declared SQL column type onto the field type
// vocabulary used for column rendering and editability.
func normalizeSQLType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	switch {
	case t == "":
		return "string"
	case t == "bool" || t == "boolean":
		return "boolean"
	case strings.Contains(t, "int"):
		return "integer"
	case strings.Contains(t, "real"), strings.Contains(t, "double"), strings.Contains(t, "float"),
		strings.Contains(t, "numeric"), strings.Contains(t, "decimal"):
		return "double"
	case t == "money":
		return "currency"
	case t == "date":
		return "date"
	case strings.Contains(t, "timestamp"), strings.Contains(t, "datetime"), t == "time":
		return "datetime"
	case t == "json" || t == "jsonb":
		return "json"
	case strings.Contains(t, "blob"), t == "bytea", strings.Contains(t, "binary"):
		return "base64"
	case t == "longtext", t == "mediumtext", t == "clob":
		return "textarea"
	default:
		return "string"
	}
}
