package qsvm

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).MarginTop(1)
	labelStyle = lipgloss.NewStyle().Faint(true)
	cellStyle  = lipgloss.NewStyle().Padding(0, 1)
	axisStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	classColors = []lipgloss.Color{"9", "10", "11", "13", "14"}
	trainMarks  = []rune{'o', 'x', '+', '#', '%'}
)

func classStyle(class int) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(classColors[class%len(classColors)])
}

// RenderScatter plots the first two features of train and test on a
// width×height character grid. Training points use a per-class mark; test
// points are drawn as '*' in their class colour.
func RenderScatter(train, test *Dataset, width, height int) string {
	width, height = max(width, 10), max(height, 5)

	var xs, ys []float64
	for _, ds := range []*Dataset{train, test} {
		if ds == nil {
			continue
		}
		for _, s := range ds.Samples {
			if len(s.Features) < 2 {
				continue
			}
			xs = append(xs, s.Features[0])
			ys = append(ys, s.Features[1])
		}
	}
	if len(xs) == 0 {
		return ""
	}

	xMin, xMax := floats.Min(xs), floats.Max(xs)
	yMin, yMax := floats.Min(ys), floats.Max(ys)

	grid := make([][]string, height)
	for r := range grid {
		grid[r] = make([]string, width)
		for c := range grid[r] {
			grid[r][c] = " "
		}
	}

	place := func(s Sample, mark rune) {
		if len(s.Features) < 2 {
			return
		}
		c := cell(s.Features[0], xMin, xMax, width)
		r := height - 1 - cell(s.Features[1], yMin, yMax, height)
		grid[r][c] = classStyle(s.Label).Render(string(mark))
	}

	if train != nil {
		for _, s := range train.Samples {
			place(s, trainMarks[s.Label%len(trainMarks)])
		}
	}
	if test != nil {
		for _, s := range test.Samples {
			place(s, '*')
		}
	}

	var b strings.Builder
	names := [2]string{"x", "y"}
	if train != nil && len(train.FeatureNames) >= 2 {
		names = [2]string{train.FeatureNames[0], train.FeatureNames[1]}
	}

	b.WriteString(axisStyle.Render(fmt.Sprintf("%s %.2f", names[1], yMax)) + "\n")
	for _, row := range grid {
		b.WriteString(axisStyle.Render("│") + strings.Join(row, "") + "\n")
	}
	b.WriteString(axisStyle.Render("└"+strings.Repeat("─", width)) + "\n")
	b.WriteString(axisStyle.Render(fmt.Sprintf("%.2f  %s  %.2f", xMin, names[0], xMax)) + "\n")

	return b.String()
}

func cell(v, lo, hi float64, n int) int {
	if hi == lo {
		return 0
	}
	return min(n-1, max(0, int((v-lo)/(hi-lo)*float64(n-1)+0.5)))
}

// RenderMatrix draws m as a table with row and column indices.
func RenderMatrix(m mat.Matrix) string {
	r, c := m.Dims()

	headers := make([]string, c+1)
	for j := 0; j < c; j++ {
		headers[j+1] = fmt.Sprint(j)
	}

	rows := make([][]string, r)
	for i := 0; i < r; i++ {
		rows[i] = make([]string, c+1)
		rows[i][0] = fmt.Sprint(i)
		for j := 0; j < c; j++ {
			rows[i][j+1] = fmt.Sprintf("%.3f", m.At(i, j))
		}
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(axisStyle).
		StyleFunc(func(row, col int) lipgloss.Style { return cellStyle }).
		Headers(headers...).
		Rows(rows...).
		Render()
}

// GramSummary describes a kernel matrix in one line.
func GramSummary(m mat.Matrix) string {
	r, c := m.Dims()
	values := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			values = append(values, m.At(i, j))
		}
	}
	if len(values) == 0 {
		return fmt.Sprintf("%dx%d (empty)", r, c)
	}

	summary := fmt.Sprintf("%dx%d  min %.3f  max %.3f  mean %.3f",
		r, c, floats.Min(values), floats.Max(values), floats.Sum(values)/float64(len(values)))
	if r == c {
		summary += fmt.Sprintf("  symmetric %t", IsSymmetric(m, 0.1))
	}
	return summary
}

// RenderConfusion draws the confusion matrix with true classes as rows.
func RenderConfusion(cm *ConfusionMatrix) string {
	headers := make([]string, len(cm.Labels)+1)
	headers[0] = "true \\ pred"
	for j, label := range cm.Labels {
		headers[j+1] = fmt.Sprint(label)
	}

	rows := make([][]string, len(cm.Labels))
	for i, label := range cm.Labels {
		rows[i] = make([]string, len(cm.Labels)+1)
		rows[i][0] = fmt.Sprint(label)
		for j, v := range cm.Counts[i] {
			rows[i][j+1] = fmt.Sprint(v)
		}
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(axisStyle).
		StyleFunc(func(row, col int) lipgloss.Style { return cellStyle }).
		Headers(headers...).
		Rows(rows...).
		Render()
}

// Render writes the full pipeline report.
func Render(w io.Writer, res *PipelineResult) error {
	sections := []string{
		titleStyle.Render("Samples"),
		RenderScatter(res.Train, res.Test, 48, 16),
		titleStyle.Render("Training kernel") + "  " + labelStyle.Render(GramSummary(res.TrainGram)),
		RenderMatrix(res.TrainGram),
		titleStyle.Render("Test kernel") + "  " + labelStyle.Render(GramSummary(res.TestGram)),
		RenderMatrix(res.TestGram),
		titleStyle.Render("Confusion matrix"),
		RenderConfusion(res.Confusion),
		labelStyle.Render(fmt.Sprintf(
			"accuracy %.2f  support vectors %d  kernel evaluations %d  elapsed %s",
			res.Confusion.Accuracy(), res.Support, res.Evaluations, res.Elapsed.Round(time.Millisecond),
		)),
	}

	_, err := io.WriteString(w, lipgloss.JoinVertical(lipgloss.Left, sections...)+"\n")
	return err
}
