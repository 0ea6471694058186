package export

import (
	"bytes"
	"fmt"

	"github.com/fogleman/gg"
)

const (
	chartWidth  = 640
	chartHeight = 320
)

// BarChart renders a simple labelled bar chart to PNG bytes. Used to embed a
// severity distribution into PDF reports; relies on gg's built-in font so no
// font assets are required at runtime.
func BarChart(title string, labels []string, values []float64) ([]byte, error) {
	if len(labels) == 0 || len(labels) != len(values) {
		return nil, fmt.Errorf("chart requires matching labels and values")
	}

	maxValue := 1.0
	for _, v := range values {
		if v > maxValue {
			maxValue = v
		}
	}

	dc := gg.NewContext(chartWidth, chartHeight)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	dc.SetRGB(0.15, 0.17, 0.22)
	dc.DrawStringAnchored(title, chartWidth/2, 20, 0.5, 0.5)

	const (
		marginX    = 40.0
		topY       = 45.0
		baseY      = chartHeight - 40.0
		barSpacing = 20.0
	)
	plotHeight := baseY - topY
	barWidth := (chartWidth - 2*marginX - barSpacing*float64(len(values)-1)) / float64(len(values))

	dc.SetLineWidth(1)
	dc.DrawLine(marginX, baseY, chartWidth-marginX, baseY)
	dc.Stroke()

	for i, v := range values {
		x := marginX + float64(i)*(barWidth+barSpacing)
		h := plotHeight * (v / maxValue)
		if v > 0 && h < 2 {
			h = 2
		}

		dc.SetRGB(0.23, 0.45, 0.78)
		dc.DrawRectangle(x, baseY-h, barWidth, h)
		dc.Fill()

		dc.SetRGB(0.15, 0.17, 0.22)
		dc.DrawStringAnchored(fmt.Sprintf("%.0f", v), x+barWidth/2, baseY-h-10, 0.5, 0.5)
		dc.DrawStringAnchored(labels[i], x+barWidth/2, baseY+14, 0.5, 0.5)
	}

	buf := &bytes.Buffer{}
	if err := dc.EncodePNG(buf); err != nil {
		return nil, fmt.Errorf("encode chart png: %w", err)
	}
	return buf.Bytes(), nil
}
