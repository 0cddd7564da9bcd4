package monitor

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epmm-lab/pvtrack/mppt"
)

func get(t *testing.T, m *Monitor, path string) (int, []byte) {
	t.Helper()
	srv := httptest.NewServer(m.Mux())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestSeriesCarriesRecordedSamples(t *testing.T) {
	m := New(16)
	m.Sample(mppt.Sample{Elapsed: 1.5, Voltage: 0.62, CurrentDensity: 18.5, Efficiency: 11.47})

	code, body := get(t, m, "/series")
	require.Equal(t, 200, code)

	var s struct {
		Time           []float64 `json:"elapsed"`
		Efficiency     []float64 `json:"efficiency"`
		Voltage        []float64 `json:"voltage"`
		CurrentDensity []float64 `json:"currentDensity"`
	}
	require.NoError(t, json.Unmarshal(body, &s))
	require.Len(t, s.Time, 1)
	assert.Equal(t, 1.5, s.Time[0])
	assert.Equal(t, 0.62, s.Voltage[0])
	assert.Equal(t, 18.5, s.CurrentDensity[0])
	assert.Equal(t, 11.47, s.Efficiency[0])
}

func TestSeriesRetentionIsPaced(t *testing.T) {
	m := New(16)
	// a burst far above the refresh rate; only the paced points survive
	for k := 0; k < 100; k++ {
		m.Sample(mppt.Sample{Elapsed: float64(k)})
	}
	code, body := get(t, m, "/series")
	require.Equal(t, 200, code)
	var s struct {
		Time []float64 `json:"elapsed"`
	}
	require.NoError(t, json.Unmarshal(body, &s))
	assert.Less(t, len(s.Time), 100)
	assert.NotEmpty(t, s.Time)
}

func TestSweepReportsCurveAndDevice(t *testing.T) {
	m := New(16)
	m.SetSweep(mppt.SweepResult{
		Voltages: []float64{0.65, 0.4, 0},
		Currents: []float64{0, -0.018, -0.02},
		Powers:   []float64{0, 0.0072, 0},
		MaxIndex: 1,
	}, mppt.Device{Voc: 0.65, Isc: -0.02})

	code, body := get(t, m, "/sweep")
	require.Equal(t, 200, code)

	var s struct {
		Voltages []float64 `json:"voltages"`
		MaxIndex int       `json:"maxIndex"`
		Voc      float64   `json:"voc"`
		Isc      float64   `json:"isc"`
	}
	require.NoError(t, json.Unmarshal(body, &s))
	assert.Equal(t, 1, s.MaxIndex)
	assert.Equal(t, 0.65, s.Voc)
	assert.Equal(t, -0.02, s.Isc)
	assert.Len(t, s.Voltages, 3)
}

func TestMetricsTrackNewestSample(t *testing.T) {
	m := New(16)
	m.Sample(mppt.Sample{Voltage: 0.62, CurrentDensity: 18.5, Efficiency: 11.47})
	m.Sample(mppt.Sample{Voltage: 0.61, CurrentDensity: 18.9, Efficiency: 11.53})

	code, body := get(t, m, "/metrics")
	require.Equal(t, 200, code)
	text := string(body)
	assert.True(t, strings.Contains(text, "pvtrack_efficiency_percent 11.53"), text)
	assert.True(t, strings.Contains(text, "pvtrack_voltage_volts 0.61"), text)
	assert.True(t, strings.Contains(text, "pvtrack_current_density_ma_cm2 18.9"), text)
}
