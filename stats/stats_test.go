package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAverage(t *testing.T) {
	var avg Average
	for _, x := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		avg.Add(x)
	}
	t.Log(avg.String())
	assert.Equal(t, 8.0, avg.Count)
	assert.InDelta(t, 5.0, avg.Mean, 1e-9)
	assert.InDelta(t, 2.138, avg.StdDev, 1e-3)
	assert.Equal(t, "5.00±2.14", avg.String())
}

func TestEMA(t *testing.T) {
	var e EMA
	v := e.Add(0.5, 9)
	assert.Equal(t, 0.5, v)
	v = EMA(v).Add(1.0, 9)
	assert.InDelta(t, 0.6, v, 1e-9)
}
