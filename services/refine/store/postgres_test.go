// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exact(sql string) string { return regexp.QuoteMeta(sql) }

func TestPostgresStore_EnsureSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(exact(sqlCreateAssessments)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(exact(sqlCreatePlans)).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, NewPostgresStore(mock, nil).EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveAndLoadAssessment(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := NewPostgresStore(mock, nil)

	a := sampleAssessment("demo", "a1")
	mock.ExpectExec(exact(sqlUpsertAssessment)).
		WithArgs("demo", "a1", pgxmock.AnyArg(), created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.SaveAssessment(ctx, a))

	data, err := json.Marshal(a)
	require.NoError(t, err)
	mock.ExpectQuery(exact(sqlSelectAssessment)).
		WithArgs("demo").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(data))
	got, err := s.Assessment(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MissingRowIsNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(exact(sqlSelectPlan)).
		WithArgs("demo").
		WillReturnRows(pgxmock.NewRows([]string{"data"}))

	_, err = NewPostgresStore(mock, nil).Plan(context.Background(), "demo")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SavePlan(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(exact(sqlUpsertPlan)).
		WithArgs("demo", "p1", "a1", pgxmock.AnyArg(), created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewPostgresStore(mock, nil).SavePlan(context.Background(), samplePlan("demo", "p1", "a1")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Delete(t *testing.T) {
	t.Run("commits both deletes", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec(exact(sqlDeleteAssessment)).WithArgs("demo").WillReturnResult(pgxmock.NewResult("DELETE", 1))
		mock.ExpectExec(exact(sqlDeletePlan)).WithArgs("demo").WillReturnResult(pgxmock.NewResult("DELETE", 1))
		mock.ExpectCommit()

		require.NoError(t, NewPostgresStore(mock, nil).Delete(context.Background(), "demo"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		boom := errors.New("connection reset")
		mock.ExpectBegin()
		mock.ExpectExec(exact(sqlDeleteAssessment)).WithArgs("demo").WillReturnError(boom)
		mock.ExpectRollback()

		err = NewPostgresStore(mock, nil).Delete(context.Background(), "demo")
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_PropagatesExecError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	boom := errors.New("disk full")
	mock.ExpectExec(exact(sqlUpsertAssessment)).WillReturnError(boom)

	err = NewPostgresStore(mock, nil).SaveAssessment(context.Background(), sampleAssessment("demo", "a1"))
	assert.ErrorIs(t, err, boom)
}
