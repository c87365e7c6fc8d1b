package scoped

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/barockok/kalla-engine/pkg/apperrors"
	"github.com/barockok/kalla-engine/pkg/models"
)

// ObjectStore fetches the raw bytes behind a flat-file source URI.
type ObjectStore interface {
	Fetch(ctx context.Context, uri string) (io.ReadCloser, error)
}

// FileObjectStore serves file:// URIs and plain paths from local disk.
type FileObjectStore struct{}

// Fetch implements ObjectStore.
func (FileObjectStore) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	path := uri
	if parsed, err := url.Parse(uri); err == nil && parsed.Scheme == "file" {
		path = parsed.Path
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrNotFound, uri)
		}
		return nil, fmt.Errorf("failed to open %s: %w", uri, err)
	}
	return f, nil
}

// FlatFileLoader loads scoped previews from CSV sources by scanning the
// whole file in memory. Every comparison is lexical over the raw cell
// text: "9" sorts after "500", and that is the contract of this path.
type FlatFileLoader struct {
	store  ObjectStore
	logger *zap.Logger
}

// NewFlatFileLoader creates a loader reading through the given store.
func NewFlatFileLoader(store ObjectStore, logger *zap.Logger) *FlatFileLoader {
	return &FlatFileLoader{
		store:  store,
		logger: logger.Named("scoped.flatfile"),
	}
}

// LoadScoped implements Loader for CSV sources.
func (l *FlatFileLoader) LoadScoped(ctx context.Context, src models.RegisteredSource, opts LoadOptions) (*models.ScopedResult, error) {
	reader, err := l.store.Fetch(ctx, src.URI)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	cr := csv.NewReader(reader)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: csv source %q is empty", apperrors.ErrValidation, src.Alias)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header for %q: %w", src.Alias, err)
	}

	columns := make([]models.ColumnInfo, len(header))
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		columns[i] = models.ColumnInfo{Name: name, DataType: "text", Nullable: true}
		index[name] = i
	}

	matchers, err := compileMatchers(opts.Filters, index)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	total := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row for %q: %w", src.Alias, err)
		}
		if !matchesAll(record, matchers) {
			continue
		}
		total++
		if len(rows) < opts.Limit {
			row := make([]string, len(columns))
			copy(row, record)
			rows = append(rows, row)
		}
	}

	if rows == nil {
		rows = [][]string{}
	}
	return &models.ScopedResult{
		Alias:       src.Alias,
		Columns:     columns,
		Rows:        rows,
		TotalRows:   total,
		PreviewRows: len(rows),
	}, nil
}

// rowMatcher evaluates one compiled condition against a record.
type rowMatcher struct {
	col   int
	match func(cell string) bool
}

// compileMatchers resolves filter columns against the header and builds
// one predicate per condition. A filter naming an absent column fails
// the whole load rather than being skipped.
func compileMatchers(filters []models.FilterCondition, index map[string]int) ([]rowMatcher, error) {
	matchers := make([]rowMatcher, 0, len(filters))
	for _, cond := range filters {
		col, ok := index[cond.Column]
		if !ok {
			return nil, fmt.Errorf("%w: unknown filter column %q", apperrors.ErrValidation, cond.Column)
		}

		var match func(cell string) bool
		switch cond.Op {
		case models.OpEq:
			want := cond.Value.AsString()
			match = func(cell string) bool { return cell == want }
		case models.OpNeq:
			want := cond.Value.AsString()
			match = func(cell string) bool { return cell != want }
		case models.OpGt:
			want := cond.Value.AsString()
			match = func(cell string) bool { return cell > want }
		case models.OpGte:
			want := cond.Value.AsString()
			match = func(cell string) bool { return cell >= want }
		case models.OpLt:
			want := cond.Value.AsString()
			match = func(cell string) bool { return cell < want }
		case models.OpLte:
			want := cond.Value.AsString()
			match = func(cell string) bool { return cell <= want }
		case models.OpBetween:
			low, high := cond.Value.List[0], cond.Value.List[1]
			match = func(cell string) bool { return cell >= low && cell <= high }
		case models.OpIn:
			set := make(map[string]bool, len(cond.Value.List))
			for _, item := range cond.Value.List {
				set[item] = true
			}
			match = func(cell string) bool { return set[cell] }
		case models.OpLike:
			pattern, err := compileLikePattern(cond.Value.AsString())
			if err != nil {
				return nil, err
			}
			match = pattern.MatchString
		default:
			return nil, fmt.Errorf("%w: unknown filter operator %q", apperrors.ErrValidation, cond.Op)
		}

		matchers = append(matchers, rowMatcher{col: col, match: match})
	}
	return matchers, nil
}

func matchesAll(record []string, matchers []rowMatcher) bool {
	for _, m := range matchers {
		if m.col >= len(record) {
			return false
		}
		if !m.match(record[m.col]) {
			return false
		}
	}
	return true
}

// compileLikePattern converts a SQL LIKE pattern into an anchored
// case-insensitive regexp: % matches any run, _ matches one character.
func compileLikePattern(like string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString(`(?is)\A`)
	for _, r := range like {
		switch r {
		case '%':
			sb.WriteString(`.*`)
		case '_':
			sb.WriteString(`.`)
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString(`\z`)

	pattern, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("%w: invalid like pattern %q", apperrors.ErrValidation, like)
	}
	return pattern, nil
}

var _ Loader = (*FlatFileLoader)(nil)
