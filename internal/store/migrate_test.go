// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/botcmd/pkg/errutil"
)

type mockMigrate struct {
	upErr          error
	downErr        error
	stepsErr       error
	steps          int
	versionVal     uint
	versionErr     error
	dirty          bool
	forceErr       error
	forced         int
	closeSourceErr error
	closeDbErr     error
}

func (m *mockMigrate) Up() error   { return m.upErr }
func (m *mockMigrate) Down() error { return m.downErr }
func (m *mockMigrate) Steps(n int) error {
	m.steps = n
	return m.stepsErr
}
func (m *mockMigrate) Version() (uint, bool, error) { return m.versionVal, m.dirty, m.versionErr }
func (m *mockMigrate) Force(v int) error {
	m.forced = v
	return m.forceErr
}
func (m *mockMigrate) Close() (error, error) { return m.closeSourceErr, m.closeDbErr }

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@localhost:5432/bot", "pgx5://u:p@localhost:5432/bot"},
		{"postgresql://localhost/bot?sslmode=disable", "pgx5://localhost/bot?sslmode=disable"},
		{"pgx5://localhost/bot", "pgx5://localhost/bot"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, migrateURL(tt.in))
		})
	}
}

func TestNewMigrator_InvalidURL(t *testing.T) {
	_, err := NewMigrator("badscheme://localhost:5432/bot")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeMigrationInit)
}

func TestMigrator_Up(t *testing.T) {
	t.Run("applies migrations", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{}}
		require.NoError(t, m.Up())
	})

	t.Run("no change is success", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{upErr: migrate.ErrNoChange}}
		require.NoError(t, m.Up())
	})

	t.Run("failure carries operation", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{upErr: errors.New("database locked")}}
		err := m.Up()
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, CodeMigrationFailed)
		errutil.AssertErrorContext(t, err, "operation", "up")
	})
}

func TestMigrator_Down(t *testing.T) {
	m := &Migrator{m: &mockMigrate{downErr: migrate.ErrNoChange}}
	require.NoError(t, m.Down())

	m = &Migrator{m: &mockMigrate{downErr: errors.New("constraint violation")}}
	err := m.Down()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeMigrationFailed)
}

func TestMigrator_Steps(t *testing.T) {
	mock := &mockMigrate{}
	m := &Migrator{m: mock}
	require.NoError(t, m.Steps(-1))
	assert.Equal(t, -1, mock.steps)
}

func TestMigrator_Version(t *testing.T) {
	t.Run("fresh database is zero", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionErr: migrate.ErrNilVersion}}
		v, dirty, err := m.Version()
		require.NoError(t, err)
		assert.Zero(t, v)
		assert.False(t, dirty)
	})

	t.Run("reports dirty state", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionVal: 1, dirty: true}}
		v, dirty, err := m.Version()
		require.NoError(t, err)
		assert.Equal(t, uint(1), v)
		assert.True(t, dirty)
	})

	t.Run("error", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionErr: errors.New("no connection")}}
		_, _, err := m.Version()
		errutil.AssertErrorCode(t, err, CodeMigrationFailed)
	})
}

func TestMigrator_Force(t *testing.T) {
	mock := &mockMigrate{}
	m := &Migrator{m: mock}

	err := m.Force(-1)
	errutil.AssertErrorCode(t, err, CodeMigrationVersion)

	require.NoError(t, m.Force(1))
	assert.Equal(t, 1, mock.forced)
}

func TestMigrator_Pending(t *testing.T) {
	m := &Migrator{m: &mockMigrate{versionErr: migrate.ErrNilVersion}}
	pending, err := m.Pending()
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, pending)

	m = &Migrator{m: &mockMigrate{versionVal: 1}}
	pending, err = m.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMigrator_Close(t *testing.T) {
	m := &Migrator{m: &mockMigrate{}}
	require.NoError(t, m.Close())

	m = &Migrator{m: &mockMigrate{closeSourceErr: errors.New("src"), closeDbErr: errors.New("db")}}
	err := m.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "src")
	assert.Contains(t, err.Error(), "db")
}
