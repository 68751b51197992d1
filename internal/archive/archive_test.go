package archive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"research-assistant/internal/config"
)

func TestLocalSinkWritesReport(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(context.Background(), config.Config{ReportOutputDir: filepath.Join(dir, "reports")})
	require.NoError(t, err)
	require.IsType(t, &LocalSink{}, sink)

	path, err := sink.Store(context.Background(), "job-1", "# Report\n...")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "reports", "job-1.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Report\n...", string(data))
}

func TestLocalSinkRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	sink := &LocalSink{BaseDir: dir}

	path, err := sink.Store(context.Background(), "../../etc/passwd", "x")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "passwd.md"), path)

	_, err = sink.Store(context.Background(), "..", "x")
	require.Error(t, err)
}

func TestNewWithoutDestination(t *testing.T) {
	sink, err := New(context.Background(), config.Config{})
	require.NoError(t, err)
	assert.Nil(t, sink)
}

func TestS3SinkPutsObject(t *testing.T) {
	var gotPath, gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	sink, err := New(context.Background(), config.Config{
		ReportS3Bucket:    "research",
		ReportS3Region:    "us-east-1",
		ReportS3Endpoint:  srv.URL,
		ReportS3PathStyle: true,
	})
	require.NoError(t, err)

	loc, err := sink.Store(context.Background(), "job-9", "# Report")
	require.NoError(t, err)
	assert.Equal(t, "s3://research/reports/job-9.md", loc)
	assert.Equal(t, "/research/reports/job-9.md", gotPath)
	assert.Equal(t, reportContentType, gotType)
	assert.Contains(t, gotBody, "# Report")
}
