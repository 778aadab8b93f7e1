package export_test

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"archivist/internal/catalog"
	"archivist/internal/export"
	"archivist/internal/logging"
	"archivist/internal/store"
)

func seed(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "items"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	member := catalog.NewRecord(catalog.Item{ID: "B001-1", GroupID: "B001", GroupType: catalog.GroupTypeB, Role: catalog.RoleMember, Images: []string{"B001/B001-1.jpg"}})
	member.Title = catalog.Some("Sunlight, \"Soap\"\nCard")
	member.Series.Name = catalog.Some("Soap Series")
	member.ArtStyle = []string{"Art Deco", "Bauhaus"}
	member.Evidence = []string{"SUNLIGHT banner"}
	member.Observations().Manufacturer = catalog.Some("Lever Bros")
	member.ConsensusSource = []string{"B001-1", "B001-2"}
	member.SetMeta(catalog.StageFact, catalog.StageMeta{Status: catalog.MetaOK})
	member.Status = catalog.StatusFinalized

	prefix := catalog.NewRecord(catalog.Item{ID: "postcard", GroupID: "postcard", GroupType: catalog.GroupTypeC, Role: catalog.RoleMember, Images: []string{"postcard-1.jpg", "postcard-2.jpg"}})
	prefix.Year = catalog.Some("1931")

	sample := catalog.NewRecord(catalog.Item{ID: "A100.series.cover", GroupID: "A100", GroupType: catalog.GroupTypeA, Role: catalog.RoleSeriesSample})

	for _, rec := range []catalog.Record{member, prefix, sample} {
		if err := st.Write(rec.ID, rec); err != nil {
			t.Fatalf("Write %s: %v", rec.ID, err)
		}
	}
	return st
}

func TestExportFlattensRecords(t *testing.T) {
	st := seed(t)
	rows, skipped, err := export.LoadRecords(st, logging.NewNop())
	if err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	if len(rows) != 2 || len(skipped) != 0 {
		t.Fatalf("expected 2 member rows, got %d (skipped %v)", len(rows), skipped)
	}

	var buf bytes.Buffer
	summary, err := export.Export(&buf, rows, export.Options{Delimiter: ',', ListDelimiter: "; "})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	table, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("exported table does not parse: %v\n%s", err, buf.String())
	}
	if len(table) != 3 || summary.Rows != 2 {
		t.Fatalf("expected header plus 2 rows, got %d", len(table))
	}

	header := table[0]
	index := map[string]int{}
	for i, column := range header {
		index[column] = i
		if strings.HasSuffix(column, "_meta") || column == "raw" {
			t.Fatalf("internal column %q exported", column)
		}
	}
	for _, key := range []string{"id", "title", "series", "art_style", "consensus_source", "year"} {
		if _, ok := index[key]; !ok {
			t.Fatalf("header %v missing %q", header, key)
		}
	}
	if header[0] != "id" {
		t.Fatalf("columns should keep record order, got %v", header)
	}

	first := table[1]
	if first[index["title"]] != "Sunlight, \"Soap\"\nCard" {
		t.Fatalf("title cell = %q", first[index["title"]])
	}
	if first[index["series"]] != "Soap Series" {
		t.Fatalf("series cell = %q", first[index["series"]])
	}
	if first[index["art_style"]] != "Art Deco; Bauhaus" {
		t.Fatalf("art_style cell = %q", first[index["art_style"]])
	}
	if first[index["manufacturer"]] != "" {
		t.Fatalf("null should export empty, got %q", first[index["manufacturer"]])
	}
	if first[index["evidence"]] != "SUNLIGHT banner" {
		t.Fatalf("evidence cell = %q", first[index["evidence"]])
	}

	second := table[2]
	if second[index["consensus_source"]] != "" || second[index["images"]] != "postcard-1.jpg; postcard-2.jpg" {
		t.Fatalf("unexpected prefix row %v", second)
	}
}

func TestExportHeaderIsUnionOfKeys(t *testing.T) {
	st := seed(t)
	rows, _, err := export.LoadRecords(st, logging.NewNop())
	if err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	columns := export.Columns(rows)
	have := map[string]bool{}
	for _, c := range columns {
		have[c] = true
	}
	for _, row := range rows {
		for pair := row.Oldest(); pair != nil; pair = pair.Next() {
			if export.Exported(pair.Key) && !have[pair.Key] {
				t.Fatalf("key %q missing from header", pair.Key)
			}
		}
	}
}

func TestExportSkipsUnreadableRecordsAndWritesTSV(t *testing.T) {
	st := seed(t)
	if err := os.WriteFile(filepath.Join(st.Dir(), "broken.json"), []byte("{nope"), 0o644); err != nil {
		t.Fatalf("seed broken record: %v", err)
	}
	rows, skipped, err := export.LoadRecords(st, logging.NewNop())
	if err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	if len(skipped) != 1 || skipped[0] != "broken" {
		t.Fatalf("skipped = %v", skipped)
	}

	path := filepath.Join(t.TempDir(), "catalog.tsv")
	if _, err := export.WriteFile(path, rows, export.Options{Delimiter: '\t'}); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	header := strings.SplitN(string(data), "\n", 2)[0]
	if !strings.HasPrefix(header, "id\tgroup_id\t") {
		t.Fatalf("unexpected TSV header %q", header)
	}
}
