package deploys

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	got map[string]Counts
}

func (s *recordingSink) PublishDeployments(app string, success, failure int) {
	if s.got == nil {
		s.got = map[string]Counts{}
	}
	s.got[app] = Counts{Success: success, Failure: failure}
}

var now = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func newMockCollector(t *testing.T, apps ...string) (*Collector, sqlmock.Sqlmock, *recordingSink) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sink := &recordingSink{}
	c := New(db, apps, "insights-production", 30*24*time.Hour, sink)
	c.now = func() time.Time { return now }
	return c, mock, sink
}

func TestCollect_CountsAndZeroFills(t *testing.T) {
	c, mock, sink := newMockCollector(t, "frontend", "api", "worker")
	mock.ExpectQuery(countSQL).
		WithArgs(now.Add(-30*24*time.Hour), "insights-production").
		WillReturnRows(sqlmock.NewRows([]string{"app_name", "succeeded", "count"}).
			AddRow("frontend", true, 12).
			AddRow("frontend", false, 2).
			AddRow("api", true, 4).
			AddRow("api", nil, 1).
			AddRow("unlisted", true, 99))

	require.NoError(t, c.Collect(context.Background()))
	assert.Equal(t, map[string]Counts{
		"frontend": {Success: 12, Failure: 2},
		"api":      {Success: 4, Failure: 1},
		"worker":   {},
	}, sink.got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCollect_QueryErrorPublishesNothing(t *testing.T) {
	c, mock, sink := newMockCollector(t, "frontend")
	mock.ExpectQuery(countSQL).WillReturnError(errors.New("relation \"deployments\" does not exist"))

	err := c.Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deploys: query")
	assert.Nil(t, sink.got)
}

func TestName(t *testing.T) {
	c, _, _ := newMockCollector(t, "a")
	assert.Equal(t, "deployments", c.Name())
}

func TestLoadApps(t *testing.T) {
	write := func(t *testing.T, content string) string {
		path := filepath.Join(t.TempDir(), "deployment_config.json")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}

	apps, err := LoadApps(write(t, `{"apps": ["frontend", "api", "frontend"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"frontend", "api"}, apps)

	tests := []struct {
		name    string
		content string
	}{
		{"empty list", `{"apps": []}`},
		{"missing key", `{}`},
		{"blank name", `{"apps": ["a", " "]}`},
		{"bad json", `{"apps": [`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadApps(write(t, tc.content))
			assert.Error(t, err)
		})
	}

	_, err = LoadApps(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
