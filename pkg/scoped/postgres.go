package scoped

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/corazawaf/libinjection-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/barockok/kalla-engine/pkg/apperrors"
	"github.com/barockok/kalla-engine/pkg/models"
	"github.com/barockok/kalla-engine/pkg/sources"
)

// tableNamePattern is the only shape a backing table name may take.
// Identifiers outside it never reach query construction.
var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresLoader loads scoped previews from postgres-backed sources.
// Filters become parameterized predicates; every column is read as text
// so both source kinds return the same row shape.
type PostgresLoader struct {
	mu     sync.Mutex
	pools  map[string]*pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLoader creates a loader with an empty pool cache.
func NewPostgresLoader(logger *zap.Logger) *PostgresLoader {
	return &PostgresLoader{
		pools:  make(map[string]*pgxpool.Pool),
		logger: logger.Named("scoped.postgres"),
	}
}

// LoadScoped implements Loader for postgres sources.
func (l *PostgresLoader) LoadScoped(ctx context.Context, src models.RegisteredSource, opts LoadOptions) (*models.ScopedResult, error) {
	connString, table, err := sources.ParsePostgresURI(src.URI)
	if err != nil {
		return nil, err
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", apperrors.ErrValidation, table)
	}

	pool, err := l.pool(ctx, connString)
	if err != nil {
		return nil, err
	}

	columns, err := fetchColumns(ctx, pool, table)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: table %q has no columns or does not exist", apperrors.ErrNotFound, table)
	}

	screenFilterValues(l.logger, src.Alias, opts.Filters)

	countSQL, selectSQL, whereArgs, err := buildScopedQueries(table, columns, opts.Filters, opts.Limit)
	if err != nil {
		return nil, err
	}

	var total int
	if err := pool.QueryRow(ctx, countSQL, whereArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count rows in %q: %w", table, err)
	}

	selectArgs := append(append([]any{}, whereArgs...), opts.Limit)
	rows, err := pool.Query(ctx, selectSQL, selectArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", table, err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		cells := make([]*string, len(columns))
		dest := make([]any, len(columns))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row from %q: %w", table, err)
		}
		row := make([]string, len(columns))
		for i, cell := range cells {
			if cell != nil {
				row[i] = *cell
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows from %q: %w", table, err)
	}

	return &models.ScopedResult{
		Alias:       src.Alias,
		Columns:     columns,
		Rows:        out,
		TotalRows:   total,
		PreviewRows: len(out),
	}, nil
}

// Close releases every cached pool.
func (l *PostgresLoader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, pool := range l.pools {
		pool.Close()
		delete(l.pools, key)
	}
}

func (l *PostgresLoader) pool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if pool, ok := l.pools[connString]; ok {
		return pool, nil
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to source database: %w", err)
	}
	l.pools[connString] = pool
	return pool, nil
}

func fetchColumns(ctx context.Context, pool *pgxpool.Pool, table string) ([]models.ColumnInfo, error) {
	rows, err := pool.Query(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_name = $1
		ORDER BY ordinal_position
	`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema for %q: %w", table, err)
	}
	defer rows.Close()

	var columns []models.ColumnInfo
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("failed to scan schema row for %q: %w", table, err)
		}
		columns = append(columns, models.ColumnInfo{
			Name:     name,
			DataType: dataType,
			Nullable: nullable == "YES",
		})
	}
	return columns, rows.Err()
}

// buildScopedQueries renders the count and preview statements for a
// table. Both share the same WHERE clause and argument list; the preview
// statement takes the limit as its final parameter. A filter naming a
// column the table does not have fails the whole load.
func buildScopedQueries(table string, columns []models.ColumnInfo, filters []models.FilterCondition, limit int) (countSQL, selectSQL string, args []any, err error) {
	known := make(map[string]bool, len(columns))
	selectList := make([]string, len(columns))
	for i, col := range columns {
		known[col.Name] = true
		selectList[i] = fmt.Sprintf(`%s::text`, quoteIdent(col.Name))
	}

	var clauses []string
	for _, cond := range filters {
		if !known[cond.Column] {
			return "", "", nil, fmt.Errorf("%w: unknown filter column %q for table %q", apperrors.ErrValidation, cond.Column, table)
		}

		ref := quoteIdent(cond.Column) + "::text"
		switch cond.Op {
		case models.OpEq:
			clauses = append(clauses, fmt.Sprintf("%s = $%d", ref, len(args)+1))
			args = append(args, cond.Value.AsString())
		case models.OpNeq:
			clauses = append(clauses, fmt.Sprintf("%s <> $%d", ref, len(args)+1))
			args = append(args, cond.Value.AsString())
		case models.OpGt:
			clauses = append(clauses, fmt.Sprintf("%s > $%d", ref, len(args)+1))
			args = append(args, cond.Value.AsString())
		case models.OpGte:
			clauses = append(clauses, fmt.Sprintf("%s >= $%d", ref, len(args)+1))
			args = append(args, cond.Value.AsString())
		case models.OpLt:
			clauses = append(clauses, fmt.Sprintf("%s < $%d", ref, len(args)+1))
			args = append(args, cond.Value.AsString())
		case models.OpLte:
			clauses = append(clauses, fmt.Sprintf("%s <= $%d", ref, len(args)+1))
			args = append(args, cond.Value.AsString())
		case models.OpBetween:
			clauses = append(clauses, fmt.Sprintf("%s BETWEEN $%d AND $%d", ref, len(args)+1, len(args)+2))
			args = append(args, cond.Value.List[0], cond.Value.List[1])
		case models.OpIn:
			placeholders := make([]string, len(cond.Value.List))
			for i, item := range cond.Value.List {
				placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
				args = append(args, item)
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", ref, strings.Join(placeholders, ", ")))
		case models.OpLike:
			clauses = append(clauses, fmt.Sprintf("%s ILIKE $%d", ref, len(args)+1))
			args = append(args, cond.Value.AsString())
		default:
			return "", "", nil, fmt.Errorf("%w: unknown filter operator %q", apperrors.ErrValidation, cond.Op)
		}
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	countSQL = fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, quoteIdent(table), where)
	selectSQL = fmt.Sprintf(`SELECT %s FROM %s%s LIMIT $%d`,
		strings.Join(selectList, ", "), quoteIdent(table), where, len(args)+1)
	return countSQL, selectSQL, args, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// screenFilterValues runs injection heuristics over user-influenced
// filter values. Parameterization already neutralizes the values, so a
// hit is logged for operators rather than rejected.
func screenFilterValues(logger *zap.Logger, alias string, filters []models.FilterCondition) {
	for _, cond := range filters {
		values := cond.Value.List
		if cond.Value.Kind != models.ValueList {
			values = []string{cond.Value.AsString()}
		}
		for _, value := range values {
			if hit, fingerprint := libinjection.IsSQLi(value); hit {
				logger.Warn("Filter value matched injection signature",
					zap.String("alias", alias),
					zap.String("column", cond.Column),
					zap.String("fingerprint", fingerprint))
			}
		}
	}
}

var _ Loader = (*PostgresLoader)(nil)
