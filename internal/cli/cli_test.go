package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
)

func testConfig(t *testing.T) config.EmbeddedConfig {
	t.Helper()
	dir := t.TempDir()
	return config.EmbeddedConfig(fmt.Sprintf(`
chunkbatch:
  system:
    logging:
      level: ERROR
  batch:
    item_retry:
      initial_interval: 1ms
      max_interval: 1ms
  infrastructure:
    job_repository_type: sql
    job_repository_db_ref: metadata
    auto_migrate: true
  database:
    metadata:
      type: sqlite
      database: %s
  storage:
    local:
      type: local
      base_dir: %s
`, filepath.Join(dir, "batch.db"), filepath.Join(dir, "out")))
}

func execute(t *testing.T, embedded config.EmbeddedConfig, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(&Options{Embedded: embedded})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

var runLine = regexp.MustCompile(`Run:\s+(\S+)`)

func runID(t *testing.T, out string) string {
	t.Helper()
	m := runLine.FindStringSubmatch(out)
	require.Len(t, m, 2, "no run ID in output:\n%s", out)
	return m[1]
}

func TestRun_PrintsCompletedRun(t *testing.T) {
	cfg := testConfig(t)

	out, err := execute(t, cfg, "run", "taskletJob")
	require.NoError(t, err)
	assert.Contains(t, out, "Status:      COMPLETED")
	assert.Contains(t, out, "taskletStep")
	id := runID(t, out)

	status, err := execute(t, cfg, "status", id)
	require.NoError(t, err)
	assert.Contains(t, status, id)
	assert.Contains(t, status, "taskletJob")

	jobs, err := execute(t, cfg, "jobs")
	require.NoError(t, err)
	assert.Regexp(t, `taskletJob\s+`+regexp.QuoteMeta(id)+`\s+COMPLETED`, jobs)
	assert.Regexp(t, `firstJob\s+-\s+-`, jobs)
}

func TestRun_UnknownJob(t *testing.T) {
	_, err := execute(t, testConfig(t), "run", "noSuchJob")
	require.Error(t, err)
}

func TestRun_InvalidParameter(t *testing.T) {
	_, err := execute(t, testConfig(t), "run", "taskletJob", "-p", "novalue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected key=value")
}

func TestRun_FailedRunCanBeRestartedThenAbandoned(t *testing.T) {
	cfg := testConfig(t)

	out, err := execute(t, cfg, "run", "retryJob", "-p", "failures=3:long")
	require.ErrorIs(t, err, ErrRunUnsuccessful)
	assert.Contains(t, out, "Status:      FAILED")
	first := runID(t, out)

	out, err = execute(t, cfg, "restart", first)
	require.ErrorIs(t, err, ErrRunUnsuccessful)
	second := runID(t, out)
	assert.NotEqual(t, first, second)
	assert.Contains(t, out, "Restarts:    1")

	out, err = execute(t, cfg, "abandon", second)
	require.NoError(t, err)
	assert.Contains(t, out, "abandoned")

	_, err = execute(t, cfg, "restart", second)
	require.Error(t, err)
}

func TestRun_ConfigFileOverridesEmbedded(t *testing.T) {
	o := &Options{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")}
	_, err := o.appOptions()
	require.Error(t, err)
}
