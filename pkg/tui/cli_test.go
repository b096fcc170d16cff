package tui

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/tabprep/internal/model"
	"github.com/logflow/tabprep/pkg/logging"
	"github.com/logflow/tabprep/pkg/preprocess"
)

func processed(t *testing.T) *preprocess.Result {
	t.Helper()
	tbl := model.NewTable(
		model.StringColumn("region", "north", "south", "north", "east"),
		model.StringColumn("price", "$10.00", "$12.50", "", "$9.99"),
	)
	res := preprocess.New(preprocess.WithLogger(logging.Discard())).
		Process(context.Background(), tbl, model.FileMetadata{Name: "prices.csv"})
	require.True(t, res.OK(), res.Error)
	return res
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	PrintResult(&buf, processed(t), Options{Transformations: 1, Verbose: true})
	out := buf.String()

	for _, want := range []string{"PROCESSED", "prices.csv", "QUALITY", "completeness", "COLUMNS", "price", "currency", "STAGES", "data_cleaning", "Audit:"} {
		assert.Contains(t, out, want)
	}
}

func TestPrintFailedResult(t *testing.T) {
	res := preprocess.New(preprocess.WithLogger(logging.Discard())).
		Process(context.Background(), nil, model.FileMetadata{Name: "gone.csv"})

	var buf bytes.Buffer
	PrintResult(&buf, res, Options{})
	assert.Contains(t, buf.String(), "FAILED")
	assert.Contains(t, buf.String(), "gone.csv")
}

func TestPrintBatch(t *testing.T) {
	good := processed(t)
	bad := preprocess.New(preprocess.WithLogger(logging.Discard())).
		Process(context.Background(), nil, model.FileMetadata{Name: "bad.csv"})

	var buf bytes.Buffer
	PrintBatch(&buf, []BatchEntry{
		{Path: "in/prices.csv", Result: good, Elapsed: 40 * time.Millisecond},
		{Path: "in/bad.csv", Result: bad},
	})
	out := buf.String()
	assert.Less(t, strings.Index(out, "in/bad.csv"), strings.Index(out, "in/prices.csv"))
	assert.Contains(t, out, "1 succeeded")
	assert.Contains(t, out, "1 failed")
}

func TestShowProgress(t *testing.T) {
	var buf bytes.Buffer
	bar := ShowProgress(&buf, 2, "processing")
	require.NoError(t, bar.Add(1))
	require.NoError(t, bar.Add(1))
	assert.True(t, bar.IsFinished())
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "2m5s", formatDuration(125*time.Second))
	assert.Equal(t, "12.3K", formatNumber(12345))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
	assert.Equal(t, "10×2", shape(preprocess.Shape{Rows: 10, Columns: 2}))
}
