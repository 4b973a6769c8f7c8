package fusion

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/models"
)

var levelQuantiles = [...]float64{0, 0.25, 0.5, 0.75, 1}

// ParseLevel maps a representative quantile to its position in a forecast
// row. It accepts p-notation (p0, p25, p50, p75, p100), decimal notation
// (0, 0.25, 0.5, 0.75, 1) and the names min, median and max. An empty
// string selects the median.
func ParseLevel(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	switch s {
	case "", "median":
		return models.Median, nil
	case "min":
		return models.Min, nil
	case "max":
		return models.Max, nil
	}

	var q float64
	if strings.HasPrefix(s, "p") {
		percentile, err := strconv.ParseFloat(s[1:], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid p-notation %q: %w", s, err)
		}
		q = percentile / 100
	} else {
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid quantile %q: %w", s, err)
		}
		q = parsed
	}

	for i, level := range levelQuantiles {
		if q == level {
			return i, nil
		}
	}
	return 0, fmt.Errorf("quantile %v is not produced by the model (want 0, 0.25, 0.5, 0.75 or 1)", q)
}

// FormatLevel formats a row position as p-notation for display.
func FormatLevel(level int) string {
	if level < 0 || level >= len(levelQuantiles) {
		return "invalid"
	}
	return fmt.Sprintf("p%d", int(levelQuantiles[level]*100))
}
