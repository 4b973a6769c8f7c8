package fusion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/models"
)

// Point is one slot of a fused series: either a real observation or a
// forecast quantile row. The zero Point means "no data".
type Point struct {
	Value *float64
	Row   *models.Quantiles
}

// RealPoint wraps an observed value.
func RealPoint(v float64) Point { return Point{Value: &v} }

// ForecastPoint wraps a forecast row.
func ForecastPoint(q models.Quantiles) Point { return Point{Row: &q} }

// IsForecast reports whether p holds a quantile row.
func (p Point) IsForecast() bool { return p.Row != nil }

// At reduces p to a single value: the observation itself, or the row entry
// at the given quantile position. It returns nil for empty points.
func (p Point) At(level int) *float64 {
	if p.Row != nil {
		v := p.Row[level]
		return &v
	}
	return p.Value
}

// MarshalJSON writes a number, a 5-element array or null.
func (p Point) MarshalJSON() ([]byte, error) {
	if p.Row != nil {
		var b bytes.Buffer
		b.WriteByte('[')
		for i, v := range p.Row {
			if i > 0 {
				b.WriteByte(',')
			}
			writeNumber(&b, v)
		}
		b.WriteByte(']')
		return b.Bytes(), nil
	}
	if p.Value == nil {
		return []byte("null"), nil
	}
	var b bytes.Buffer
	writeNumber(&b, *p.Value)
	return b.Bytes(), nil
}

// UnmarshalJSON accepts the forms written by MarshalJSON.
func (p *Point) UnmarshalJSON(data []byte) error {
	*p = Point{}
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		return nil
	case len(data) > 0 && data[0] == '[':
		var row []*float64
		if err := json.Unmarshal(data, &row); err != nil {
			return err
		}
		if len(row) != len(models.Quantiles{}) {
			return fmt.Errorf("quantile row has %d entries, want 5", len(row))
		}
		var q models.Quantiles
		for i, v := range row {
			if v != nil {
				q[i] = *v
			} else {
				q[i] = math.NaN()
			}
		}
		p.Row = &q
		return nil
	default:
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		p.Value = &v
		return nil
	}
}

func writeNumber(b *bytes.Buffer, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		b.WriteString("null")
		return
	}
	b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
}
