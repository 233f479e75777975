// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package reference

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tomtom215/skyfence/internal/logging"
	"github.com/tomtom215/skyfence/internal/models"
)

// Column aliases accepted in the header row. Matching is case-insensitive.
var (
	aircraftColumns = map[string][]string{
		"hex":          {"icao24", "hex", "icao"},
		"registration": {"registration", "reg", "r"},
		"type":         {"typecode", "type", "t", "icaotype"},
		"manufacturer": {"manufacturername", "manufacturer", "manufacturericao"},
		"model":        {"model"},
		"category":     {"icaoaircrafttype", "category", "desc"},
	}
	airportColumns = map[string][]string{
		"icao":    {"ident", "icao", "gps_code", "icao_code"},
		"iata":    {"iata_code", "iata"},
		"name":    {"name"},
		"country": {"iso_country", "country"},
	}
)

// LoadAircraftFile replaces the aircraft table with the contents of path.
func (r *Registry) LoadAircraftFile(path string) error {
	f, err := os.Open(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return fmt.Errorf("open aircraft table: %w", err)
	}
	defer func() { _ = f.Close() }()
	return r.LoadAircraft(f)
}

// LoadAirportsFile replaces the airport table with the contents of path.
func (r *Registry) LoadAirportsFile(path string) error {
	f, err := os.Open(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return fmt.Errorf("open airport table: %w", err)
	}
	defer func() { _ = f.Close() }()
	return r.LoadAirports(f)
}

// LoadAircraft parses a delimited aircraft table and swaps it in. The current
// table stays in place if parsing fails.
func (r *Registry) LoadAircraft(src io.Reader) error {
	rows, cols, err := readTable(src, aircraftColumns, "hex")
	if err != nil {
		return fmt.Errorf("aircraft table: %w", err)
	}

	aircraft := make(map[string]Aircraft, len(rows))
	for _, row := range rows {
		hex := models.NormalizeHex(cell(row, cols, "hex"))
		if hex == "" {
			continue
		}
		aircraft[hex] = Aircraft{
			Hex:          hex,
			Registration: cell(row, cols, "registration"),
			TypeCode:     cell(row, cols, "type"),
			Manufacturer: cell(row, cols, "manufacturer"),
			Model:        cell(row, cols, "model"),
			Category:     cell(row, cols, "category"),
		}
	}

	for {
		old := r.current.Load()
		next := &tables{aircraft: aircraft, byICAO: old.byICAO, byIATA: old.byIATA}
		if r.current.CompareAndSwap(old, next) {
			break
		}
	}
	logging.Info().Int("rows", len(aircraft)).Msg("aircraft table loaded")
	return nil
}

// LoadAirports parses a delimited airport table and swaps it in.
func (r *Registry) LoadAirports(src io.Reader) error {
	rows, cols, err := readTable(src, airportColumns, "icao")
	if err != nil {
		return fmt.Errorf("airport table: %w", err)
	}

	byICAO := make(map[string]Airport, len(rows))
	byIATA := make(map[string]Airport, len(rows))
	for _, row := range rows {
		a := Airport{
			ICAO:    strings.ToUpper(cell(row, cols, "icao")),
			IATA:    strings.ToUpper(cell(row, cols, "iata")),
			Name:    cell(row, cols, "name"),
			Country: cell(row, cols, "country"),
		}
		if a.ICAO == "" {
			continue
		}
		byICAO[a.ICAO] = a
		if a.IATA != "" {
			byIATA[a.IATA] = a
		}
	}

	for {
		old := r.current.Load()
		next := &tables{aircraft: old.aircraft, byICAO: byICAO, byIATA: byIATA}
		if r.current.CompareAndSwap(old, next) {
			break
		}
	}
	logging.Info().Int("rows", len(byICAO)).Msg("airport table loaded")
	return nil
}

// readTable reads all records and maps logical column names to indexes using
// the header row. The delimiter is sniffed from the header: ';' or tab when
// present, else ','.
func readTable(src io.Reader, aliases map[string][]string, required string) ([][]string, map[string]int, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, nil, err
	}

	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.Comma = sniffDelimiter(string(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New("empty table")
		}
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int)
	for i, h := range header {
		h = strings.ToLower(strings.Trim(strings.TrimSpace(h), "'\""))
		for name, names := range aliases {
			if _, done := cols[name]; done {
				continue
			}
			for _, alias := range names {
				if h == alias {
					cols[name] = i
					break
				}
			}
		}
	}
	if _, ok := cols[required]; !ok {
		return nil, nil, fmt.Errorf("missing %s column in header %v", required, header)
	}

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read rows: %w", err)
	}
	return rows, cols, nil
}

func sniffDelimiter(data string) rune {
	line := data
	if i := strings.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	switch {
	case strings.Count(line, ";") > strings.Count(line, ","):
		return ';'
	case strings.Contains(line, "\t") && !strings.Contains(line, ","):
		return '\t'
	default:
		return ','
	}
}

func cell(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.Trim(strings.TrimSpace(row[i]), "'\"")
}
