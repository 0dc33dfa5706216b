package sources

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usageexport/internal/etl"
)

func TestDecodeRecords_Array(t *testing.T) {
	records, err := decodeRecords([]byte(`[
		{"date":"2024-01-01","usage_hours":7.50,"AHI":null,"pressure_settings":{"min":4,"max":10}},
		{"date":"2024-01-02","flags":[1,2]}
	]`), "")
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0].Data
	assert.Equal(t, json.Number("7.50"), first["usage_hours"])
	v, ok := first["AHI"]
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.Equal(t, `{"max":10,"min":4}`, first["pressure_settings"])
	assert.Equal(t, "[1,2]", records[1].Data["flags"])
}

func TestDecodeRecords_DataPathAndSingleObject(t *testing.T) {
	records, err := decodeRecords([]byte(`{"data":{"items":[{"date":"a"},{"date":"b"}]}}`), "data.items")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = decodeRecords([]byte(`{"date":"a"}`), "")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestDecodeRecords_Errors(t *testing.T) {
	_, err := decodeRecords([]byte(`[{"date":`), "")
	assert.ErrorContains(t, err, "parse json")

	_, err = decodeRecords([]byte(`{"data":[]}`), "items")
	assert.ErrorContains(t, err, "invalid data path")

	_, err = decodeRecords([]byte(`[{"date":"a"}, 3]`), "")
	assert.ErrorContains(t, err, "record 1 is not an object")

	_, err = decodeRecords([]byte(`"text"`), "")
	assert.ErrorContains(t, err, "got a string")
}

func TestDecodeRecords_EmptyArray(t *testing.T) {
	records, err := decodeRecords([]byte(`[]`), "")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDecodedRecords_CellText(t *testing.T) {
	records, err := decodeRecords([]byte(`[{"date":"2024-01-01","usage_hours":1e1,"AHI":true,"mask_leak_rate":{"a":1}}]`), "")
	require.NoError(t, err)

	for _, mode := range []etl.StrategyMode{etl.ModeFrame, etl.ModeStream} {
		t.Run(string(mode), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "u.csv")
			_, err := etl.ExportUsageToCSV(context.Background(), records, path, nil, etl.WithStrategy(mode))
			require.NoError(t, err)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t,
				"date,usage_hours,AHI,mask_leak_rate,pressure_settings\n"+
					"2024-01-01,10.0,True,\"{\"\"a\"\":1}\",\n",
				string(data))
		})
	}
}
