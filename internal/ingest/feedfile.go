package ingest

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ReadFeedFile loads raw records from a feed export on disk. The format is
// chosen by extension: .json (array of objects), .csv, or .xlsx. Tabular
// formats use the first row as field names.
func ReadFeedFile(path string) ([]RawRecord, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return readJSONFeed(path)
	case ".csv":
		return readCSVFeed(path)
	case ".xlsx":
		return readXLSXFeed(path)
	default:
		return nil, eris.Errorf("feedfile: unsupported extension %q", filepath.Ext(path))
	}
}

func readJSONFeed(path string) ([]RawRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "feedfile: read json")
	}

	var records []RawRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, eris.Wrap(err, "feedfile: parse json")
	}
	return records, nil
}

func readCSVFeed(path string) ([]RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "feedfile: open csv")
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "feedfile: parse csv")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rowsToRecords(rows[0], rows[1:]), nil
}

func readXLSXFeed(path string) ([]RawRecord, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "feedfile: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("feedfile: xlsx has no sheets")
	}

	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	header := cellStrings(sheet.Rows[0])
	rows := make([][]string, 0, len(sheet.Rows)-1)
	for _, row := range sheet.Rows[1:] {
		rows = append(rows, cellStrings(row))
	}
	return rowsToRecords(header, rows), nil
}

func cellStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		cells[i] = cell.String()
	}
	return cells
}

func rowsToRecords(header []string, rows [][]string) []RawRecord {
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.ToLower(h))
	}

	records := make([]RawRecord, 0, len(rows))
	for _, row := range rows {
		rec := make(RawRecord, len(header))
		for i, h := range header {
			if h == "" || i >= len(row) {
				continue
			}
			rec[h] = row[i]
		}
		if len(rec) > 0 {
			records = append(records, rec)
		}
	}
	return records
}
