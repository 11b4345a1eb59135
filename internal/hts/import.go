// Package hts imports tariff schedule workbooks into reference rate records.
package hts

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/tariff-cli/internal/model"
)

// Options configures the schedule importer.
type Options struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	SkipRows   int    // header rows to skip, default 1

	// Column indexes, defaulting to the published schedule layout:
	// code, description, MFN (column 1 general), USMCA (special).
	CodeCol  int
	DescCol  int
	MFNCol   int
	USMCACol int
}

func (o Options) withDefaults() Options {
	if o.SkipRows == 0 {
		o.SkipRows = 1
	}
	if o.DescCol == 0 {
		o.DescCol = 1
	}
	if o.MFNCol == 0 {
		o.MFNCol = 2
	}
	if o.USMCACol == 0 {
		o.USMCACol = 3
	}
	return o
}

// Report summarizes one import: rows that produced records, rows skipped,
// and notes about cells that could not be parsed into a simple ad-valorem
// rate and were recorded as unverified.
type Report struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Notes    []string `json:"notes,omitempty"`
}

// ImportXLSX reads a tariff schedule workbook and returns rate records ready
// for the reference store. Rows without a usable HS code are skipped and
// counted.
func ImportXLSX(path string, opts Options) ([]model.TariffRateRecord, *Report, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "hts: open workbook")
	}
	opts = opts.withDefaults()

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, nil, err
	}

	report := &Report{}
	var records []model.TariffRateRecord

	for i, row := range sheet.Rows {
		if i < opts.SkipRows {
			continue
		}
		cells := rowToStrings(row)

		code := strings.TrimSpace(cell(cells, opts.CodeCol))
		if len(model.NormalizeHSCode(code)) < 4 {
			report.Skipped++
			continue
		}

		rec := model.TariffRateRecord{
			HSCode:      code,
			Description: strings.TrimSpace(cell(cells, opts.DescCol)),
		}

		var note string
		rec.MFNRate, note = ParseRateCell(cell(cells, opts.MFNCol))
		if note != "" {
			report.Notes = append(report.Notes, code+" mfn: "+note)
		}
		rec.USMCARate, note = ParseRateCell(cell(cells, opts.USMCACol))
		if note != "" {
			report.Notes = append(report.Notes, code+" usmca: "+note)
		}

		records = append(records, rec)
		report.Imported++
	}

	return records, report, nil
}

// ParseRateCell converts one schedule rate cell to a Rate. "Free" is a
// verified zero, a plain percentage is a verified value, and a blank cell is
// Unknown. Compound and specific rates (cents per kg, value plus quantity
// duties) cannot be reduced to a single ad-valorem percentage, so they come
// back Unknown with a note rather than a guessed number.
func ParseRateCell(raw string) (model.Rate, string) {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "-", "--", "—", "n/a":
		return model.Unknown(), ""
	case "free":
		return model.Verified(0), ""
	}

	cleaned := strings.TrimSuffix(s, "%")
	if pct, err := strconv.ParseFloat(strings.TrimSpace(cleaned), 64); err == nil && pct >= 0 {
		return model.Verified(pct), ""
	}
	return model.Unknown(), "unparseable rate " + strconv.Quote(s)
}

func getSheet(f *xlsx.File, opts Options) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("hts: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("hts: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, c := range row.Cells {
		cells[j] = c.String()
	}
	return cells
}

func cell(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return cells[idx]
}
