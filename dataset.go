package qsvm

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrMalformedRow is returned for CSV rows that are not wine records.
	ErrMalformedRow = errors.New("qsvm: malformed dataset row")
	// ErrUnknownFeature is returned when selecting a column that does not exist.
	ErrUnknownFeature = errors.New("qsvm: unknown feature")
	// ErrEmptyDataset is returned when a selection or file leaves no samples.
	ErrEmptyDataset = errors.New("qsvm: empty dataset")
)

// wineColumns are the feature columns of the UCI wine table, after the
// leading class column.
var wineColumns = []string{
	"alcohol",
	"malic_acid",
	"ash",
	"alcalinity_of_ash",
	"magnesium",
	"total_phenols",
	"flavanoids",
	"nonflavanoid_phenols",
	"proanthocyanins",
	"color_intensity",
	"hue",
	"od280_od315",
	"proline",
}

// wineClasses is the number of cultivars in the wine table.
const wineClasses = 3

//go:embed data/wine.csv
var builtinWine []byte

// Sample is one labelled feature vector.
type Sample struct {
	Features []float64
	Label    int
}

// Dataset is a labelled table. Classes lists the zero-based labels it was
// selected for, in ascending order, even if a split leaves one out.
type Dataset struct {
	Samples      []Sample
	FeatureNames []string
	Classes      []int
}

func (ds *Dataset) Len() int {
	return len(ds.Samples)
}

// X returns the feature vectors.
func (ds *Dataset) X() [][]float64 {
	out := make([][]float64, len(ds.Samples))
	for i, s := range ds.Samples {
		out[i] = s.Features
	}
	return out
}

// Y returns the labels.
func (ds *Dataset) Y() []int {
	out := make([]int, len(ds.Samples))
	for i, s := range ds.Samples {
		out[i] = s.Label
	}
	return out
}

// Column returns feature j of every sample.
func (ds *Dataset) Column(j int) []float64 {
	out := make([]float64, len(ds.Samples))
	for i, s := range ds.Samples {
		out[i] = s.Features[j]
	}
	return out
}

// ByClass groups sample indices by label.
func (ds *Dataset) ByClass() map[int][]int {
	out := make(map[int][]int, len(ds.Classes))
	for i, s := range ds.Samples {
		out[s.Label] = append(out[s.Label], i)
	}
	return out
}

// subset copies the samples at idx, keeping names and classes.
func (ds *Dataset) subset(idx []int) *Dataset {
	out := &Dataset{
		Samples:      make([]Sample, len(idx)),
		FeatureNames: ds.FeatureNames,
		Classes:      ds.Classes,
	}
	for i, k := range idx {
		out.Samples[i] = ds.Samples[k]
	}
	return out
}

// LoadWine parses UCI wine records: a 1-based class followed by the
// thirteen measurements. A header line is skipped when present.
func LoadWine(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	ds := &Dataset{
		FeatureNames: slices.Clone(wineColumns),
		Classes:      []int{0, 1, 2},
	}

	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedRow, line, err)
		}

		if line == 1 && record[0] == "class" {
			continue
		}
		if len(record) != len(wineColumns)+1 {
			return nil, fmt.Errorf("%w: line %d: %d fields, want %d", ErrMalformedRow, line, len(record), len(wineColumns)+1)
		}

		class, err := strconv.Atoi(record[0])
		if err != nil || class < 1 || class > wineClasses {
			return nil, fmt.Errorf("%w: line %d: class %q", ErrMalformedRow, line, record[0])
		}

		features := make([]float64, len(wineColumns))
		for j, field := range record[1:] {
			if features[j], err = strconv.ParseFloat(field, 64); err != nil {
				return nil, fmt.Errorf("%w: line %d: %s: %w", ErrMalformedRow, line, wineColumns[j], err)
			}
		}

		ds.Samples = append(ds.Samples, Sample{Features: features, Label: class - 1})
	}

	if len(ds.Samples) == 0 {
		return nil, ErrEmptyDataset
	}

	return ds, nil
}

// BuiltinWine returns the bundled excerpt of the wine table, fifteen
// samples per cultivar.
func BuiltinWine() (*Dataset, error) {
	return LoadWine(bytes.NewReader(builtinWine))
}

// OpenWine reads path, or the bundled table when path is empty.
func OpenWine(path string) (*Dataset, error) {
	if path == "" {
		return BuiltinWine()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return LoadWine(f)
}

// Select keeps the named feature columns, in the given order, and the
// samples whose label is in classes.
func (ds *Dataset) Select(features []string, classes []int) (*Dataset, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("%w: no features selected", ErrUnknownFeature)
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("%w: no classes selected", ErrEmptyDataset)
	}

	cols := make([]int, len(features))
	for i, name := range features {
		cols[i] = slices.Index(ds.FeatureNames, name)
		if cols[i] < 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, name)
		}
	}

	keep := slices.Clone(classes)
	slices.Sort(keep)
	keep = slices.Compact(keep)

	out := &Dataset{
		FeatureNames: slices.Clone(features),
		Classes:      keep,
	}

	for _, s := range ds.Samples {
		if !slices.Contains(keep, s.Label) {
			continue
		}
		row := make([]float64, len(cols))
		for i, c := range cols {
			row[i] = s.Features[c]
		}
		out.Samples = append(out.Samples, Sample{Features: row, Label: s.Label})
	}

	if len(out.Samples) == 0 {
		return nil, fmt.Errorf("%w: classes %v", ErrEmptyDataset, keep)
	}

	return out, nil
}

// Scale min-max rescales every feature into [low, high). The range is
// shrunk by a relative 1e-6 so the column maximum stays below high and an
// angle of 2π never aliases 0. Constant columns map to low.
func Scale(ds *Dataset, low, high float64) *Dataset {
	out := &Dataset{
		Samples:      make([]Sample, len(ds.Samples)),
		FeatureNames: ds.FeatureNames,
		Classes:      ds.Classes,
	}
	for i, s := range ds.Samples {
		out.Samples[i] = Sample{Features: make([]float64, len(s.Features)), Label: s.Label}
	}
	if len(ds.Samples) == 0 {
		return out
	}

	span := (high - low) * (1 - 1e-6)

	for j := range ds.FeatureNames {
		col := ds.Column(j)
		lo, hi := floats.Min(col), floats.Max(col)

		for i, v := range col {
			if hi == lo {
				out.Samples[i].Features[j] = low
				continue
			}
			out.Samples[i].Features[j] = low + (v-lo)/(hi-lo)*span
		}
	}

	return out
}
