package table

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Report is a markdown-friendly profile of a frame.
type Report struct {
	Name    string
	Rows    int
	Cols    []ColumnSummary
	Samples [][]string
}

// ColumnSummary captures inferred kind and statistics per column.
type ColumnSummary struct {
	Name    string
	Kind    string // numeric|categorical|text|empty
	NonNull int
	Missing int
	Unique  int
	// Numeric stats
	Min  float64
	Max  float64
	Mean float64
	Std  float64
	// Categorical top values
	TopValues []CategoryCount
}

type CategoryCount struct {
	Value string
	Count int
}

// Summarize profiles every column of f, keeping up to sampleRows example rows.
func Summarize(f *Frame, sampleRows int) *Report {
	rep := &Report{Name: f.Name, Rows: f.Len()}
	for j, name := range f.columns {
		s := ColumnSummary{Name: name, Min: math.Inf(1), Max: math.Inf(-1)}
		cats := map[string]int{}
		var n int
		var mean, m2 float64
		numeric := true
		for _, r := range f.rows {
			v := r[j]
			if v == "" {
				s.Missing++
				continue
			}
			s.NonNull++
			cats[v]++
			x, err := strconv.ParseFloat(v, 64)
			if err != nil {
				numeric = false
				continue
			}
			n++
			delta := x - mean
			mean += delta / float64(n)
			m2 += delta * (x - mean)
			s.Min = math.Min(s.Min, x)
			s.Max = math.Max(s.Max, x)
		}
		s.Unique = len(cats)
		switch {
		case s.NonNull == 0:
			s.Kind = "empty"
		case numeric:
			s.Kind = "numeric"
			s.Mean = mean
			if n > 1 {
				s.Std = math.Sqrt(m2 / float64(n-1))
			}
		case len(cats) <= s.NonNull/2 || len(cats) <= 8:
			s.Kind = "categorical"
			s.TopValues = topValues(cats, 8)
		default:
			s.Kind = "text"
		}
		if s.Kind != "numeric" {
			s.Min, s.Max = 0, 0
		}
		rep.Cols = append(rep.Cols, s)
	}
	for i := 0; i < f.Len() && i < sampleRows; i++ {
		rep.Samples = append(rep.Samples, f.Row(i))
	}
	return rep
}

func topValues(cats map[string]int, limit int) []CategoryCount {
	tops := make([]CategoryCount, 0, len(cats))
	for k, v := range cats {
		tops = append(tops, CategoryCount{Value: k, Count: v})
	}
	sort.Slice(tops, func(i, j int) bool {
		if tops[i].Count == tops[j].Count {
			return tops[i].Value < tops[j].Value
		}
		return tops[i].Count > tops[j].Count
	})
	if len(tops) > limit {
		tops = tops[:limit]
	}
	return tops
}

// Markdown renders a compact report.
func (r *Report) Markdown() string {
	var b strings.Builder
	b.WriteString("[TABLE SUMMARY]\n")
	if r.Name != "" {
		b.WriteString(fmt.Sprintf("Table: %s\n", r.Name))
	}
	b.WriteString(fmt.Sprintf("Rows: %d\n", r.Rows))
	b.WriteString(fmt.Sprintf("Columns: %d\n\n", len(r.Cols)))

	b.WriteString("[SCHEMA]\n")
	for _, c := range r.Cols {
		total := c.NonNull + c.Missing
		missPct := 0.0
		if total > 0 {
			missPct = float64(c.Missing) * 100.0 / float64(total)
		}
		b.WriteString(fmt.Sprintf("- %s: %s (non-null %d, missing %.1f%%)", c.Name, c.Kind, c.NonNull, missPct))
		switch c.Kind {
		case "numeric":
			b.WriteString(fmt.Sprintf(", min %.4g, max %.4g, mean %.4g, std %.4g", c.Min, c.Max, c.Mean, c.Std))
		case "categorical":
			if len(c.TopValues) > 0 {
				b.WriteString(", top: ")
				for i, kv := range c.TopValues {
					if i > 0 {
						b.WriteString(", ")
					}
					b.WriteString(fmt.Sprintf("%s(%d)", safeVal(kv.Value), kv.Count))
				}
				if c.Unique > len(c.TopValues) {
					b.WriteString(fmt.Sprintf("; unique=%d", c.Unique))
				}
			}
		case "text":
			b.WriteString(fmt.Sprintf(", unique=%d", c.Unique))
		}
		b.WriteString("\n")
	}
	if len(r.Samples) > 0 {
		b.WriteString("\n[HEAD]\n| ")
		for i, c := range r.Cols {
			if i > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(c.Name)
		}
		b.WriteString(" |\n|")
		for range r.Cols {
			b.WriteString(" --- |")
		}
		b.WriteString("\n")
		for _, row := range r.Samples {
			b.WriteString("| ")
			for i, val := range row {
				if i > 0 {
					b.WriteString(" | ")
				}
				if len(val) > 80 {
					val = val[:77] + "..."
				}
				b.WriteString(safeVal(val))
			}
			b.WriteString(" |\n")
		}
	}
	return b.String()
}

func safeVal(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }
