package db

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nixie-Tech-LLC/playout/internal/catalog"
	"github.com/Nixie-Tech-LLC/playout/internal/model"
	"github.com/Nixie-Tech-LLC/playout/internal/shunt"
)

var eventCols = []string{"id", "type", "trigger", "device", "devicetype", "action", "duration",
	"parent", "processed", "lastupdate", "callback", "description"}

func newMockStore(t *testing.T) (*pgStore, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &pgStore{db: sqlx.NewDb(conn, "sqlmock")}, mock
}

func expectScheduleLock(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(scheduleLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestCreateTreeInsertsNodesAndExtradata(t *testing.T) {
	s, mock := newMockStore(t)

	root := &model.PlaylistEntry{Device: "promo", DeviceType: catalog.Processor, Action: catalog.ProcessorProcess,
		Duration: 60, Processed: model.StateReady}
	root.SetTrigger(1000)
	child := root.NewChild()
	child.Device = "vt1"
	child.DeviceType = catalog.Video
	child.Action = catalog.VideoPlay
	child.Duration = 60
	child.SetTrigger(1000)
	child.SetData("filename", "a.mp4")
	child.SetData("description", "A")

	expectScheduleLock(mock)
	mock.ExpectQuery(`SELECT id FROM events`).WithArgs(0, int64(1000), int64(1060)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`INSERT INTO events`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))
	mock.ExpectQuery(`INSERT INTO events`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectExec(`INSERT INTO extradata`).WithArgs(11, "description", "A").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO extradata`).WithArgs(11, "filename", "a.mp4").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, s.CreateTree(context.Background(), root))
	assert.Equal(t, 10, root.ID)
	assert.Equal(t, 11, child.ID)
	require.NotNil(t, child.Parent)
	assert.Equal(t, 10, *child.Parent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTreeRejectsOverlap(t *testing.T) {
	s, mock := newMockStore(t)

	root := &model.PlaylistEntry{Device: "vt1", DeviceType: catalog.Video, Action: catalog.VideoPlay, Duration: 30}
	root.SetTrigger(500)

	expectScheduleLock(mock)
	mock.ExpectQuery(`SELECT id FROM events`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectRollback()

	err := s.CreateTree(context.Background(), root)
	assert.ErrorIs(t, err, shunt.ErrSchedulingConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTreeAssemblesChildren(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows(eventCols).
		AddRow(5, 0, 100, "show", catalog.Processor, catalog.ProcessorProcess, 90, nil, 1, 0, nil, "Show").
		AddRow(6, 1, 100, "fill", catalog.Processor, catalog.ProcessorProcess, 30, 5, 1, 0, nil, "").
		AddRow(7, 1, 100, "vt1", catalog.Video, catalog.VideoPlay, 30, 6, 1, 0, nil, "")
	mock.ExpectQuery(`WITH RECURSIVE tree`).WithArgs(5).WillReturnRows(rows)
	mock.ExpectQuery(`FROM extradata WHERE eventid = ANY`).WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"eventid", "key", "value"}).AddRow(7, "filename", "clip.mp4"))

	tree, err := s.GetTree(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 3, tree.Count())
	require.Len(t, tree.Children, 1)
	require.Len(t, tree.Children[0].Children, 1)
	leaf := tree.Children[0].Children[0]
	assert.Equal(t, 7, leaf.ID)
	v, ok := leaf.Data("filename")
	assert.True(t, ok)
	assert.Equal(t, "clip.mp4", v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTreeNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`WITH RECURSIVE tree`).WithArgs(99).WillReturnRows(sqlmock.NewRows(eventCols))

	_, err := s.GetTree(context.Background(), 99)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdateEventNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	expectScheduleLock(mock)
	mock.ExpectQuery(`SELECT parent FROM events`).WithArgs(42).WillReturnRows(sqlmock.NewRows([]string{"parent"}))
	mock.ExpectRollback()

	err := s.UpdateEvent(context.Background(), &model.PlaylistEntry{ID: 42})
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateEventKeepsParentAndReplacesData(t *testing.T) {
	s, mock := newMockStore(t)

	e := &model.PlaylistEntry{ID: 8, DeviceType: catalog.Video, Action: catalog.VideoPlay, Duration: 20}
	e.SetTrigger(300)
	e.SetData("filename", "b.mp4")

	expectScheduleLock(mock)
	mock.ExpectQuery(`SELECT parent FROM events`).WithArgs(8).
		WillReturnRows(sqlmock.NewRows([]string{"parent"}).AddRow(4))
	mock.ExpectExec(`UPDATE events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM extradata WHERE eventid`).WithArgs(8).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO extradata`).WithArgs(8, "filename", "b.mp4").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, s.UpdateEvent(context.Background(), e))
	require.NotNil(t, e.Parent)
	assert.Equal(t, 4, *e.Parent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTree(t *testing.T) {
	s, mock := newMockStore(t)

	expectScheduleLock(mock)
	mock.ExpectExec(`DELETE FROM extradata`).WithArgs(5).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM events`).WithArgs(5).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	n, err := s.DeleteTree(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTreeNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	expectScheduleLock(mock)
	mock.ExpectExec(`DELETE FROM extradata`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM events`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.DeleteTree(context.Background(), 5)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShiftTreesInScheduleTx(t *testing.T) {
	s, mock := newMockStore(t)

	expectScheduleLock(mock)
	mock.ExpectExec(`UPDATE events SET trigger = trigger \+ \$2`).WithArgs(7, int64(50), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	err := s.InScheduleTx(context.Background(), func(tx shunt.Tx) error {
		return tx.ShiftTrees(context.Background(), []shunt.Move{{ID: 7, Offset: 50}})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPluginNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM plugins WHERE instancename`).WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"instancename", "pluginname", "type", "status"}))

	_, err := s.GetPlugin(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpsertPlugin(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO plugins`).WithArgs("promo", "fill", "fill", "active").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpsertPlugin(context.Background(),
		model.Plugin{InstanceName: "promo", PluginName: "fill", Type: "fill", Status: "active"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
