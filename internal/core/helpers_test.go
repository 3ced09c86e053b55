package core

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/kilupskalvis/wikimirror/internal/models"
	"github.com/kilupskalvis/wikimirror/internal/remote"
	"github.com/kilupskalvis/wikimirror/internal/store"
	"github.com/stretchr/testify/require"
)

// newTestStore creates a new bbolt store in a temp directory for testing.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	t.Cleanup(func() { st.Close() })
	return st
}

// sha1Hex returns the hex SHA-1 of data.
func sha1Hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// mockSource implements remote.SourceClient for testing.
type mockSource struct {
	pages     []*remote.QueryResponse
	queryErr  error
	requests  []map[string]string
	revisions map[int64]*models.RemoteRevision
	users     map[int64]*remote.UserInfo
	fetches   int
	userCalls map[int64]int
	files     map[string][][]byte // url path -> body per attempt
	fileCalls map[string]int
	fileErr   error
	gets      []*http.Request
}

func newMockSource() *mockSource {
	return &mockSource{
		revisions: make(map[int64]*models.RemoteRevision),
		users:     make(map[int64]*remote.UserInfo),
		userCalls: make(map[int64]int),
		files:     make(map[string][][]byte),
		fileCalls: make(map[string]int),
	}
}

func (m *mockSource) Query(_ context.Context, params map[string]string) (*remote.QueryResponse, error) {
	cp := make(map[string]string, len(params))
	for k, v := range params {
		cp[k] = v
	}
	m.requests = append(m.requests, cp)
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	i := len(m.requests) - 1
	if i >= len(m.pages) {
		return nil, fmt.Errorf("unexpected request %d", i+1)
	}
	return m.pages[i], nil
}

func (m *mockSource) FetchRevision(_ context.Context, revID int64) (*models.RemoteRevision, error) {
	m.fetches++
	rev, ok := m.revisions[revID]
	if !ok {
		return nil, remote.ErrNotFound
	}
	cp := *rev
	return &cp, nil
}

func (m *mockSource) UserByID(_ context.Context, userID int64) (*remote.UserInfo, error) {
	m.userCalls[userID]++
	u, ok := m.users[userID]
	if !ok {
		return &remote.UserInfo{ID: userID, Missing: true}, nil
	}
	cp := *u
	return &cp, nil
}

func (m *mockSource) Download(_ context.Context, rawURL string, header http.Header) (io.ReadCloser, error) {
	req, _ := http.NewRequest(http.MethodGet, rawURL, nil)
	req.Header = header
	m.gets = append(m.gets, req)
	if m.fileErr != nil {
		return nil, m.fileErr
	}
	bodies := m.files[req.URL.Path]
	if len(bodies) == 0 {
		return nil, &remote.RemoteError{Code: "http_404", Message: "not found", Status: 404}
	}
	m.fileCalls[req.URL.Path]++
	attempt := min(m.fileCalls[req.URL.Path], len(bodies)) - 1
	return io.NopCloser(bytes.NewReader(bodies[attempt])), nil
}

// page builds a query response carrying revision digests under allrevisions.
func page(cont map[string]string, body string) *remote.QueryResponse {
	return &remote.QueryResponse{
		Continue: cont,
		Query:    map[string]json.RawMessage{"allrevisions": json.RawMessage(body)},
	}
}

// memSink collects findings.
type memSink struct {
	findings []models.Finding
}

func (s *memSink) Record(_ context.Context, f models.Finding) error {
	s.findings = append(s.findings, f)
	return nil
}

func (s *memSink) count(kind models.FindingKind) int {
	n := 0
	for _, f := range s.findings {
		if f.Kind == kind {
			n++
		}
	}
	return n
}
