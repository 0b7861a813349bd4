// Package report writes a finished result set to disk and to the terminal.
package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"credsweep/internal/model"
)

const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
	FormatJSON = "json"

	filePrefix = "credsweep_"
	// timestampLayout keeps file names sortable and free of characters Windows rejects.
	timestampLayout = "20060102_150405"
)

var ErrUnknownFormat = errors.New("unknown report format")

// Columns is the fixed column order of every tabular output.
var Columns = []string{
	"IP Address",
	"Reachable",
	"Session Status",
	"Identifier",
	"Device Class",
	"Remediation",
	"Failed Step",
	"Old Username",
	"New Username",
	"Probe RTT (ms)",
	"Error",
	"Observed At",
}

// Filename is the report name for a run started at t.
func Filename(t time.Time, format string) string {
	return filePrefix + t.Format(timestampLayout) + "." + format
}

// Render writes one file per format into dir and returns their paths. Writing stops at the first
// failing format; the paths written so far are still returned.
func Render(dir string, rs *model.ResultSet, formats []string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}

	var paths []string

	for _, format := range formats {
		path := filepath.Join(dir, Filename(rs.StartedAt, format))

		var err error

		switch format {
		case FormatXLSX:
			err = WriteXLSX(path, rs)
		case FormatCSV:
			err = writeFile(path, func(f *os.File) error { return WriteCSV(f, rs.All()) })
		case FormatJSON:
			err = writeFile(path, func(f *os.File) error { return WriteJSON(f, rs) })
		default:
			err = fmt.Errorf("%w: %q", ErrUnknownFormat, format)
		}

		if err != nil {
			return paths, fmt.Errorf("write %s report: %w", format, err)
		}

		paths = append(paths, path)
	}

	return paths, nil
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

// row renders a record in Columns order.
func row(rec *model.DeviceRecord) []string {
	rtt := ""
	if rec.ProbeRTT > 0 {
		rtt = strconv.FormatFloat(float64(rec.ProbeRTT)/float64(time.Millisecond), 'f', 3, 64)
	}

	observed := ""
	if !rec.ObservedAt.IsZero() {
		observed = rec.ObservedAt.UTC().Format(time.RFC3339)
	}

	return []string{
		rec.Address.String(),
		rec.Reachable.String(),
		rec.SessionStatus.String(),
		rec.Identifier,
		rec.DeviceClass.String(),
		rec.Remediation.String(),
		rec.FailedStep,
		rec.OldUsername,
		rec.NewUsername,
		rtt,
		rec.ErrorDetail,
		observed,
	}
}
