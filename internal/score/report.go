package score

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"harnesseval/internal/core"
)

// Header returns the report columns for a given number of curve marks.
func Header(curveMarks int) []string {
	h := []string{
		"participant", "variant", "status", "reason",
		"train_mean", "train_time_s", "eval", "eval_time_s", "eval_score",
	}
	for _, p := range Percentiles {
		h = append(h, fmt.Sprintf("p%d_raw", p))
	}
	for _, p := range Percentiles {
		h = append(h, fmt.Sprintf("p%d", p))
	}
	for i := 1; i <= curveMarks; i++ {
		h = append(h, fmt.Sprintf("curve_%d", i))
	}
	return h
}

// Row renders one record. Undefined metrics are empty cells.
func (r Record) Row(curveMarks int) []string {
	row := []string{
		r.Participant, r.Variant, string(r.Status), r.Reason,
		num(r.TrainMean), seconds(r.TrainTime), num(r.Eval), seconds(r.EvalTime),
		metric(r.EvalScore),
	}
	for k := range Percentiles {
		v := Sentinel
		if k < len(r.ConvergenceRaw) {
			v = r.ConvergenceRaw[k]
		}
		row = append(row, num(v))
	}
	for k := range Percentiles {
		m := undefined()
		if k < len(r.Convergence) {
			m = r.Convergence[k]
		}
		row = append(row, metric(m))
	}
	for i := 0; i < curveMarks; i++ {
		v := math.NaN()
		if i < len(r.Curve) {
			v = r.Curve[i]
		}
		row = append(row, num(v))
	}
	return row
}

// WriteCSV writes the header and one row per record.
func WriteCSV(w io.Writer, records []Record, curveMarks int) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header(curveMarks)); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(r.Row(curveMarks)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteReport writes the CSV report to path atomically.
func WriteReport(path string, records []Record, curveMarks int) error {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, records, curveMarks); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	if err := core.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func num(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

func metric(m Metric) string {
	if !m.Defined {
		return ""
	}
	return num(m.Value)
}
