package cli

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilupskalvis/wikimirror/internal/config"
	"github.com/kilupskalvis/wikimirror/internal/models"
	"github.com/kilupskalvis/wikimirror/internal/store"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCmdContext(t *testing.T) *cmdContext {
	t.Helper()
	cfg, err := config.Initialize(t.TempDir(), "https://wiki.example.org/api.php")
	require.NoError(t, err)
	st, err := store.New(cfg.DatabasePath())
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	t.Cleanup(func() { st.Close() })
	return &cmdContext{Config: cfg, Store: st, Logger: discardLogger()}
}

func newScopeCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	addScopeFlags(cmd)
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

// ==================== Scope Tests ====================

func TestBuildScope_Fresh(t *testing.T) {
	c := newTestCmdContext(t)
	c.Config.Namespaces = []int{0, 6}
	c.Config.Start = "2024-01-01T00:00:00Z"

	scope := buildScope(c, newScopeCmd(t, "--older"), contentRevisions)
	assert.Equal(t, contentRevisions, scope.ContentType)
	assert.Equal(t, models.DirectionOlder, scope.Direction)
	assert.Equal(t, []int{0, 6}, scope.Namespaces)
	assert.True(t, scope.Start.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Empty(t, scope.Continue)
}

func TestBuildScope_ResumeUsesSavedScope(t *testing.T) {
	c := newTestCmdContext(t)
	saved := &models.SyncCursor{
		ContentType: contentFiles,
		Continue:    map[string]string{"aicontinue": "B.png"},
		Namespaces:  []int{6},
	}
	require.NoError(t, c.Store.SaveCursor(saved))
	c.Config.Namespaces = []int{0}

	scope := buildScope(c, newScopeCmd(t, "--resume"), contentFiles)
	assert.Equal(t, "B.png", scope.Continue["aicontinue"])
	assert.Equal(t, []int{6}, scope.Namespaces)

	// Nothing saved for another content type: a fresh scope.
	fresh := buildScope(c, newScopeCmd(t, "--resume"), contentTags)
	assert.Empty(t, fresh.Continue)
	assert.Equal(t, []int{0}, fresh.Namespaces)
}

func TestBuildScope_ExplicitCursor(t *testing.T) {
	c := newTestCmdContext(t)
	token, err := (&models.SyncCursor{ContentType: contentVerify, Continue: map[string]string{"arvcontinue": "x"}}).Encode()
	require.NoError(t, err)

	scope := buildScope(c, newScopeCmd(t, "--cursor", token), contentVerify)
	assert.Equal(t, "x", scope.Continue["arvcontinue"])
}

// ==================== Command Tests ====================

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"init"}, {"sync", "revisions"}, {"sync", "deleted"}, {"sync", "files"},
		{"sync", "restrictions"}, {"sync", "tags"}, {"sync", "logs"}, {"verify"},
		{"cursor", "show"}, {"cursor", "clear"}, {"fetch-file"}, {"completion"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	for _, name := range []string{"resume", "cursor", "dry-run", "namespace", "start", "end", "metrics-file"} {
		assert.NotNil(t, verifyCmd.Flags().Lookup(name), name)
		assert.NotNil(t, syncRevisionsCmd.Flags().Lookup(name), name)
	}
	assert.NotNil(t, verifyCmd.Flags().Lookup("report"))
	assert.NotNil(t, syncFilesCmd.Flags().Lookup("history"))
}

func TestSyncTags_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("tgcontinue") {
		case "":
			io.WriteString(w, `{"continue":{"tgcontinue":"b","continue":"-||"},"query":{"tags":[{"name":"mw-rollback","defined":true,"description":"Rollback"}]}}`)
		case "b":
			io.WriteString(w, `{"continue":{"tgcontinue":"c","continue":"-||"},"query":{"tags":[]}}`)
		default:
			io.WriteString(w, `{"batchcomplete":true,"query":{"tags":[{"name":"legacy"}]}}`)
		}
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	_, err := config.Initialize(dir, srv.URL+"/api.php")
	require.NoError(t, err)
	t.Chdir(dir)

	metricsFile := filepath.Join(dir, "wikimirror.prom")
	rootCmd.SetArgs([]string{"sync", "tags", "--metrics-file", metricsFile})
	require.NoError(t, Execute())

	st, err := store.New(filepath.Join(dir, config.MirrorDir, config.DatabaseFile))
	require.NoError(t, err)
	defer st.Close()

	tag, err := st.GetTag("mw-rollback")
	require.NoError(t, err)
	require.NotNil(t, tag)
	assert.True(t, tag.Defined)
	legacy, err := st.GetTag("legacy")
	require.NoError(t, err)
	assert.NotNil(t, legacy)

	cur, err := st.LoadCursor(contentTags)
	require.NoError(t, err)
	assert.Nil(t, cur, "a finished run leaves no cursor")
	assert.FileExists(t, metricsFile)
}

func TestClose_ClosesReport(t *testing.T) {
	c := newTestCmdContext(t)
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().Bool("report", false, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--report"}))

	sink, rep := openReport(c, cmd)
	require.NotNil(t, sink)
	require.NotNil(t, rep)
	assert.Same(t, rep, c.report)

	c.Close()
	assert.Nil(t, c.report)
	_, err := rep.CountByKind(context.Background(), "any")
	assert.Error(t, err, "report is closed with the context")

	// No report without the flag.
	c = newTestCmdContext(t)
	sink, rep = openReport(c, newScopeCmd(t))
	assert.Nil(t, sink)
	assert.Nil(t, rep)
}

func TestSyncLogs_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("list") == "users":
			io.WriteString(w, `{"batchcomplete":true,"query":{"users":[{"userid":7,"name":"Alice"}]}}`)
		case q.Get("lecontinue") == "":
			io.WriteString(w, `{"continue":{"lecontinue":"20240301|56","continue":"-||"},"query":{"logevents":[
				{"logid":55,"type":"move","action":"move","pageid":3,"title":"A","user":"Alice","userid":7,
				 "timestamp":"2024-03-01T10:00:00Z","tags":["mw-new-redirect"]}]}}`)
		default:
			io.WriteString(w, `{"batchcomplete":true,"query":{"logevents":[
				{"logid":56,"type":"delete","action":"delete","title":"B","userhidden":true,"timestamp":"2024-03-02T10:00:00Z"}]}}`)
		}
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	_, err := config.Initialize(dir, srv.URL+"/api.php")
	require.NoError(t, err)
	t.Chdir(dir)

	rootCmd.SetArgs([]string{"sync", "logs"})
	require.NoError(t, Execute())

	st, err := store.New(filepath.Join(dir, config.MirrorDir, config.DatabaseFile))
	require.NoError(t, err)
	defer st.Close()

	for _, id := range []int64{55, 56} {
		e, err := st.GetLogEntry(id)
		require.NoError(t, err)
		assert.NotNil(t, e, "log %d", id)
	}
	tag, err := st.GetTag("mw-new-redirect")
	require.NoError(t, err)
	require.NotNil(t, tag)
	assert.Equal(t, int64(1), tag.Count)

	cur, err := st.LoadCursor(contentLogs)
	require.NoError(t, err)
	assert.Nil(t, cur)
}
