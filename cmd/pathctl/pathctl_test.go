package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pathdesk/internal/score"
	"github.com/local/pathdesk/internal/slidetest"
	"github.com/local/pathdesk/internal/summarizer"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestScoreCommand(t *testing.T) {
	out, err := run(t, "score", "--lvi", "1", "--sm2", "positive")
	require.NoError(t, err)
	assert.Contains(t, out, "PLNM Score: 5 / 13")
	assert.Contains(t, out, "LVI")

	out, err = run(t, "score", "--lvi", "1", "--tumor-budding", "1", "--pdcs-level", "1", "--histologic-grade2", "1", "--sm2", "1", "--json")
	require.NoError(t, err)
	var res struct {
		Score    int `json:"score"`
		MaxScore int `json:"max_score"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 13, res.Score)
	assert.Equal(t, 13, res.MaxScore)

	_, err = run(t, "score", "--lvi", "2")
	var vErr *score.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "lvi", vErr.Field)
}

func TestSummarizeCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "CMU-1.svs")
	require.NoError(t, slidetest.WritePyramid(path, slidetest.StandardPyramid, slidetest.Options{}))
	preview := filepath.Join(dir, "preview.jpg")

	out, err := run(t, "summarize", path, "--pixel-budget", "1000000", "--preview-out", preview, "--json")
	require.NoError(t, err)
	var sum summarizer.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.True(t, sum.Success)
	assert.Equal(t, 1, sum.ChosenLevel)
	assert.Equal(t, 4, sum.LevelCount)
	assert.FileExists(t, preview)

	out, err = run(t, "summarize", path, "--pixel-budget", "100")
	require.NoError(t, err)
	assert.Contains(t, out, "Chosen:      level 3")
	assert.Contains(t, out, "Preview:     250x250")
	assert.Contains(t, out, "Downsamples: 1, 2, 4, 8")

	out, err = run(t, "summarize", path, "--pixel-budget", "100", "--preview-max-side", "100")
	require.NoError(t, err)
	assert.Contains(t, out, "Preview:     100x100")
}

func TestSummarizeCommandFailures(t *testing.T) {
	out, err := run(t, "summarize", "/nonexistent/slide.svs")
	assert.ErrorIs(t, err, errSummaryFailed)
	assert.Contains(t, out, string(summarizer.KindNotFound))

	_, err = run(t, "summarize", "x.svs", "--preview-max-side", "0")
	assert.ErrorContains(t, err, "--preview-max-side must be positive")

	_, err = run(t, "summarize", "x.svs", "--backend", "openslide")
	assert.ErrorContains(t, err, "unknown backend")

	_, err = run(t, "summarize")
	assert.Error(t, err)
}
