package report

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"relaycheck/internal/model"
)

// ResultsFileName is written to the output directory after every run.
const ResultsFileName = "results.csv"

var csvHeader = []string{
	"name",
	"address",
	"country",
	"classification",
	"egress",
	"egress_country",
	"reachable",
	"duration_ms",
	"detail",
}

// WriteCSV writes one row per trial outcome with a fixed column order.
func WriteCSV(w io.Writer, items []model.TrialOutcome) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, o := range items {
		row := []string{
			o.Candidate,
			o.Address,
			o.CountryCode,
			o.Classification.String(),
			o.EgressAddress,
			o.EgressCountry,
			strconv.FormatBool(o.Reachable),
			strconv.FormatInt(o.Duration.Milliseconds(), 10),
			o.Detail,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// SaveCSV replaces path with the outcomes of this run.
func SaveCSV(path string, items []model.TrialOutcome) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := WriteCSV(tmp, items); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
