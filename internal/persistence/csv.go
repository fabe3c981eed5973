package persistence

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mmuslimabdulj/goat-space/internal/domain"
)

var csvHeader = []string{"id", "displayName", "description", "tx", "ty", "tz", "afk", "textStream", "listeningTo"}

// CSVFile stores snapshots as a header row followed by one record per line
type CSVFile struct {
	path string
}

// NewCSVFile creates a CSV snapshot store at path
func NewCSVFile(path string) *CSVFile {
	if path == "" {
		path = filepath.Join("data", "users.csv")
	}
	return &CSVFile{path: path}
}

// Save writes every record to a temp file in the same directory, then renames it
// over the previous snapshot so a crash never leaves a truncated file.
func (f *CSVFile) Save(records []domain.PresenceRecord) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if err := writeCSV(tmp, records); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return nil
}

func writeCSV(w io.Writer, records []domain.PresenceRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write snapshot header: %w", err)
	}
	for _, rec := range records {
		listening, err := encodeListening(rec.ListeningTo)
		if err != nil {
			return fmt.Errorf("failed to encode listeningTo for %s: %w", rec.ID, err)
		}
		row := []string{
			rec.ID,
			rec.DisplayName,
			rec.Description,
			strconv.FormatFloat(rec.Position.TX, 'g', -1, 64),
			strconv.FormatFloat(rec.Position.TY, 'g', -1, 64),
			strconv.FormatFloat(rec.Position.TZ, 'g', -1, 64),
			strconv.FormatBool(rec.AFK),
			rec.TextStream,
			listening,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write snapshot row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot. A missing or empty file yields no records and no error.
func (f *CSVFile) Load() ([]domain.PresenceRecord, error) {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer file.Close()

	return readCSV(file)
}

func readCSV(r io.Reader) ([]domain.PresenceRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}
	for _, name := range csvHeader {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("snapshot header missing column %q", name)
		}
	}

	var records []domain.PresenceRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot line %d: %w", line, err)
		}
		rec, err := parseRow(row, cols)
		if err != nil {
			return nil, fmt.Errorf("snapshot line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRow(row []string, cols map[string]int) (domain.PresenceRecord, error) {
	field := func(name string) (string, error) {
		i := cols[name]
		if i >= len(row) {
			return "", fmt.Errorf("missing field %q", name)
		}
		return row[i], nil
	}
	num := func(name string) (float64, error) {
		s, err := field(name)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		return v, nil
	}

	var rec domain.PresenceRecord
	var err error
	if rec.ID, err = field("id"); err != nil {
		return rec, err
	}
	if rec.ID == "" {
		return rec, errors.New("empty id")
	}
	if rec.DisplayName, err = field("displayName"); err != nil {
		return rec, err
	}
	if rec.Description, err = field("description"); err != nil {
		return rec, err
	}
	if rec.Position.TX, err = num("tx"); err != nil {
		return rec, err
	}
	if rec.Position.TY, err = num("ty"); err != nil {
		return rec, err
	}
	if rec.Position.TZ, err = num("tz"); err != nil {
		return rec, err
	}
	afk, err := field("afk")
	if err != nil {
		return rec, err
	}
	if rec.AFK, err = strconv.ParseBool(afk); err != nil {
		return rec, fmt.Errorf("afk: %w", err)
	}
	if rec.TextStream, err = field("textStream"); err != nil {
		return rec, err
	}
	listening, err := field("listeningTo")
	if err != nil {
		return rec, err
	}
	if rec.ListeningTo, err = decodeListening(listening); err != nil {
		return rec, err
	}
	return rec, nil
}

// Close is a no-op; the file is only open during Save and Load
func (f *CSVFile) Close() error {
	return nil
}
