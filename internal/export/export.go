// Package export flattens stored item records into a delimited table.
//
// The header is the union of record keys in first-seen order, so records of
// different group types can share one file. Keys ending in "_meta" and the
// per-item "raw" observations are dropped, the nested series object is reduced to its name, null becomes an
// empty cell, and lists are joined with the configured list delimiter.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"archivist/internal/catalog"
	"archivist/internal/config"
	"archivist/internal/fileutil"
	"archivist/internal/logging"
	"archivist/internal/services"
	"archivist/internal/store"
)

const (
	metaSuffix = "_meta"
	rawKey     = "raw"
	seriesKey  = "series"
	roleKey    = "role"
)

// Row is one record with its keys in document order.
type Row = *orderedmap.OrderedMap[string, any]

// Options controls table formatting.
type Options struct {
	Delimiter     rune
	ListDelimiter string
}

// OptionsFromConfig converts export settings.
func OptionsFromConfig(cfg config.Export) Options {
	r, _ := utf8.DecodeRuneInString(cfg.Delimiter)
	return Options{Delimiter: r, ListDelimiter: cfg.ListDelimiter}
}

func (o Options) withDefaults() Options {
	if o.Delimiter == 0 || o.Delimiter == utf8.RuneError {
		o.Delimiter = ','
	}
	if o.ListDelimiter == "" {
		o.ListDelimiter = "; "
	}
	return o
}

// Summary describes an export.
type Summary struct {
	Rows    int
	Columns []string
	Skipped []string
}

// LoadRecords reads every stored member record. Series-sample records are
// excluded; unreadable records are skipped and reported.
func LoadRecords(st *store.Store, logger *slog.Logger) ([]Row, []string, error) {
	logger = logging.NewComponentLogger(logger, "export")
	ids, err := st.List()
	if err != nil {
		return nil, nil, err
	}
	rows := make([]Row, 0, len(ids))
	var skipped []string
	for _, id := range ids {
		row, err := readRow(st, id)
		if err != nil {
			skipped = append(skipped, id)
			logging.WarnWithContext(logger, "record skipped in export",
				"export_record_skipped",
				logging.String(logging.FieldItemID, id),
				logging.Error(err),
				logging.String(logging.FieldImpact, "item missing from the exported table"),
				logging.String(logging.FieldErrorHint, "inspect or delete the record file and rerun"),
			)
			continue
		}
		if role, _ := row.Get(roleKey); role != string(catalog.RoleMember) {
			continue
		}
		rows = append(rows, row)
	}
	return rows, skipped, nil
}

func readRow(st *store.Store, id string) (Row, error) {
	data, err := st.ReadRaw(id)
	if err != nil {
		return nil, err
	}
	row := orderedmap.New[string, any]()
	if err := json.Unmarshal(data, row); err != nil {
		return nil, services.Wrap(services.ErrPersistence, "export", "decode", id, err)
	}
	return row, nil
}

// Exported reports whether a record key becomes a table column.
func Exported(key string) bool {
	return key != rawKey && !strings.HasSuffix(key, metaSuffix)
}

// Columns returns the union of exported keys across rows in first-seen order.
func Columns(rows []Row) []string {
	seen := orderedmap.New[string, struct{}]()
	for _, row := range rows {
		for pair := row.Oldest(); pair != nil; pair = pair.Next() {
			if !Exported(pair.Key) {
				continue
			}
			seen.Set(pair.Key, struct{}{})
		}
	}
	columns := make([]string, 0, seen.Len())
	for pair := seen.Oldest(); pair != nil; pair = pair.Next() {
		columns = append(columns, pair.Key)
	}
	return columns
}

// Export writes rows as a delimited table to w.
func Export(w io.Writer, rows []Row, opts Options) (Summary, error) {
	opts = opts.withDefaults()
	columns := Columns(rows)
	writer := csv.NewWriter(w)
	writer.Comma = opts.Delimiter
	if err := writer.Write(columns); err != nil {
		return Summary{}, fmt.Errorf("write header: %w", err)
	}
	cells := make([]string, len(columns))
	for _, row := range rows {
		for i, column := range columns {
			value, ok := row.Get(column)
			if !ok {
				cells[i] = ""
				continue
			}
			cells[i] = flatten(column, value, opts.ListDelimiter)
		}
		if err := writer.Write(cells); err != nil {
			return Summary{}, fmt.Errorf("write row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return Summary{}, fmt.Errorf("flush table: %w", err)
	}
	return Summary{Rows: len(rows), Columns: columns}, nil
}

// WriteFile exports rows to path atomically.
func WriteFile(path string, rows []Row, opts Options) (Summary, error) {
	var buf bytes.Buffer
	summary, err := Export(&buf, rows, opts)
	if err != nil {
		return Summary{}, err
	}
	if err := fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return Summary{}, services.Wrap(services.ErrPersistence, "export", "write", path, err)
	}
	return summary, nil
}

func flatten(column string, value any, listDelimiter string) string {
	if column == seriesKey {
		if series, ok := value.(map[string]any); ok {
			value = series["name"]
		}
	}
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s := flatten("", item, listDelimiter); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, listDelimiter)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}
