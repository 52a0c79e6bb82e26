package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/wilskk/statify-sub002/internal/glm"
	"github.com/wilskk/statify-sub002/internal/hypothesis"
)

// WriteTestsCSV writes one record per source of the effects table.
func WriteTestsCSV(w io.Writer, rep *glm.Report) error {
	writer := csv.NewWriter(w)

	header := []string{"Source", "SS", "DF", "MS", "F", "PValue", "PartialEtaSq", "Noncentrality", "Power", "Note"}
	if err := writer.Write(header); err != nil {
		return err
	}

	tests := append([]hypothesis.Test{rep.Summary.CorrectedModel}, rep.Tests...)
	for _, t := range tests {
		record := []string{
			t.Term,
			formatFloat(t.SS),
			strconv.Itoa(t.DF),
			formatFloat(t.MS),
			formatFloat(t.F),
			formatFloat(t.P),
			formatFloat(t.PartialEtaSq),
			formatFloat(t.NCP),
			formatFloat(t.Power),
			t.Note,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	for _, s := range []glm.Source{rep.Summary.Error, rep.Summary.Total, rep.Summary.CorrectedTotal} {
		record := []string{s.Name, formatFloat(s.SS), strconv.Itoa(s.DF), formatFloat(s.MS), "", "", "", "", "", ""}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteEstimatesCSV writes one record per parameter.
func WriteEstimatesCSV(w io.Writer, rep *glm.Report) error {
	writer := csv.NewWriter(w)

	header := []string{"Parameter", "B", "SE", "T", "PValue", "Lower", "Upper", "PartialEtaSq", "Aliased", "RobustSE", "RobustT", "RobustPValue"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, e := range rep.Estimates {
		record := []string{
			e.Name,
			formatFloat(e.B),
			formatFloat(e.SE),
			formatFloat(e.T),
			formatFloat(e.P),
			formatFloat(e.Lower),
			formatFloat(e.Upper),
			formatFloat(e.EtaSq),
			strconv.FormatBool(e.Aliased),
			formatFloat(e.RobustSE),
			formatFloat(e.RobustT),
			formatFloat(e.RobustP),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// OutputTestsToCSV writes the effects table to a file.
func OutputTestsToCSV(path string, rep *glm.Report) error {
	return writeFile(path, func(w io.Writer) error { return WriteTestsCSV(w, rep) })
}

// OutputEstimatesToCSV writes the parameter estimates to a file.
func OutputEstimatesToCSV(path string, rep *glm.Report) error {
	return writeFile(path, func(w io.Writer) error { return WriteEstimatesCSV(w, rep) })
}

func writeFile(path string, write func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return file.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
