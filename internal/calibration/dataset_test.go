package calibration

import (
	"bytes"
	"encoding/json"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestReadSamplesCSV(t *testing.T) {
	in := `p_none,p_start,p_end,label
# validation split 2
0.9,0.05,0.05,0
0.1, 0.85, 0.05, 1
0.1,0.05,0.85,2
`
	samples, err := ReadSamplesCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, 0.85, samples[1].Prediction.PStart)
	assert.Equal(t, LabelEnd, samples[2].Label)
}

func TestReadSamplesCSV_Errors(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"bad header":   "a,b,c,d\n",
		"short row":    "p_none,p_start,p_end,label\n0.1,0.2,1\n",
		"not a number": "p_none,p_start,p_end,label\n0.1,x,0.2,1\n",
		"bad label":    "p_none,p_start,p_end,label\n0.1,0.2,0.7,7\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadSamplesCSV(strings.NewReader(in))
			assert.Error(t, err)
		})
	}
}

func TestReadSamplesCSV_LineNumberInError(t *testing.T) {
	in := "p_none,p_start,p_end,label\n0.1,0.2,0.7,2\n0.1,0.2,oops,2\n"
	_, err := ReadSamplesCSV(strings.NewReader(in))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
	assert.Contains(t, err.Error(), "p_end")
}

func TestParseGrid(t *testing.T) {
	grid, err := ParseGrid(" 0.1, 0.25 ,0.5,")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.25, 0.5}, grid)

	grid, err = ParseGrid("")
	require.NoError(t, err)
	assert.Nil(t, grid)

	_, err = ParseGrid("0.1,abc")
	assert.Error(t, err)
	_, err = ParseGrid("1.0")
	assert.Error(t, err)
}

func TestValidateGrid(t *testing.T) {
	assert.NoError(t, ValidateGrid(nil))
	assert.NoError(t, ValidateGrid([]float64{0.01, 0.99}))
	for _, bad := range []float64{0, 1, -0.1, math.NaN()} {
		assert.Error(t, ValidateGrid([]float64{0.1, bad}), "%v", bad)
	}
}

func TestWriteJSON(t *testing.T) {
	r := Report{
		BestThreshold: 0.1,
		BestScore:     1,
		Results:       []CandidateResult{{Threshold: 0.1, StartF1: 1, EndF1: 1, OverallF1: 1}},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, r))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 0.1, decoded["best_threshold"])
	results := decoded["results"].([]interface{})
	assert.Equal(t, 1.0, results[0].(map[string]interface{})["overall_f1"])
}

func TestWriteXLSX(t *testing.T) {
	r := Report{
		BestThreshold: 0.2,
		BestScore:     0.75,
		Results: []CandidateResult{
			{Threshold: 0.1, StartF1: 0.5, EndF1: 0.5, OverallF1: 0.5},
			{Threshold: 0.2, StartF1: 1, EndF1: 0.5, OverallF1: 0.75},
		},
	}
	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, WriteXLSX(path, r))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(resultsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"threshold", "start_f1", "end_f1", "overall_f1"}, rows[0])
	assert.Equal(t, "0.2", rows[2][0])
	assert.Equal(t, "0.75", rows[2][3])

	best, err := f.GetCellValue(summarySheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, "0.2", best)
}
