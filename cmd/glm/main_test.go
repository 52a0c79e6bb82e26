package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `Group,X,Y
1,1.0,3.1
1,2.0,4.2
1,3.0,4.8
1,4.0,6.1
2,1.5,5.0
2,2.5,6.3
2,3.5,NA
2,4.5,8.2
3,2.0,7.9
3,3.0,8.8
3,4.0,10.1
3,5.0,11.2
`

const sampleRequest = `dependent: Y
factors:
  - name: Group
    reference: first
covariates: [X]
robust: true
`

func writeInputs(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(data, []byte(sampleCSV), 0o644))
	req := filepath.Join(dir, "request.yaml")
	require.NoError(t, os.WriteFile(req, []byte(sampleRequest), 0o644))
	return data, req
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestFitCommand(t *testing.T) {
	data, req := writeInputs(t)
	dir := t.TempDir()
	testsPath := filepath.Join(dir, "tests.csv")
	paramsPath := filepath.Join(dir, "params.csv")

	out, err := execute(t, "fit", "--data", data, "--config", req,
		"--out", testsPath, "--params-out", paramsPath, "--lmatrix")
	require.NoError(t, err)

	assert.Contains(t, out, "Tests of Between-Subjects Effects (Type III)")
	assert.Contains(t, out, "[Group=2]")
	assert.Contains(t, out, "Robust standard errors: HC3")
	assert.Contains(t, out, "Estimable Functions")
	assert.FileExists(t, testsPath)
	assert.FileExists(t, paramsPath)
}

func TestDesignCommand(t *testing.T) {
	data, req := writeInputs(t)
	out, err := execute(t, "design", "--data", data, "--config", req)
	require.NoError(t, err)

	assert.Contains(t, out, "Cases (N):      11")
	assert.Contains(t, out, "Group")
	assert.Contains(t, out, "columns 2..3")
}

func TestFitCommandErrors(t *testing.T) {
	data, _ := writeInputs(t)
	bad := filepath.Join(t.TempDir(), "request.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("covariates: [X]\n"), 0o644))

	_, err := execute(t, "fit", "--data", data, "--config", bad)
	assert.Error(t, err)

	_, err = execute(t, "fit", "--data", filepath.Join(t.TempDir(), "none.csv"), "--config", bad)
	assert.Error(t, err)
}
