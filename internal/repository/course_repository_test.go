package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academix-api/internal/models"
)

var courseRowColumns = []string{"id", "title", "description", "category", "price_cents", "created_by", "rating", "created_at", "updated_at"}

func TestListCoursesAttachesRelations(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + courseColumns + " FROM courses WHERE category = $1 ORDER BY created_at DESC LIMIT 10 OFFSET 10")).
		WithArgs("programming").
		WillReturnRows(sqlmock.NewRows(courseRowColumns).
			AddRow("c1", "Intro to Go", "A practical introduction to Go.", "programming", 0, "u1", 4.5, now, now).
			AddRow("c2", "Advanced Go", "Concurrency patterns in practice.", "programming", 1999, nil, 0, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM courses WHERE category = $1")).
		WithArgs("programming").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(regexp.QuoteMeta("FROM course_instructors ci JOIN users u ON u.id = ci.user_id WHERE ci.course_id IN ($1, $2)")).
		WithArgs("c1", "c2").
		WillReturnRows(sqlmock.NewRows([]string{"course_id", "user_id", "name", "email"}).
			AddRow("c1", "u1", "ada", "ada@example.com"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, course_id, title, duration FROM lessons WHERE course_id IN ($1, $2) ORDER BY created_at")).
		WithArgs("c1", "c2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "course_id", "title", "duration"}).
			AddRow("l1", "c2", "Goroutines", 30))

	courses, total, err := repo.List(context.Background(), models.CourseFilter{Category: "programming", Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	require.Len(t, courses, 2)
	require.Len(t, courses[0].Instructors, 1)
	assert.Equal(t, "ada@example.com", courses[0].Instructors[0].Email)
	assert.Empty(t, courses[0].Lessons)
	assert.Empty(t, courses[1].Instructors)
	require.Len(t, courses[1].Lessons, 1)
	assert.Equal(t, 30, courses[1].Lessons[0].Duration)
	assert.Nil(t, courses[1].CreatedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCourseTxWritesInstructors(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	tx := beginTx(t, db, mock)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO courses")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM course_instructors WHERE course_id = $1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO course_instructors (course_id, user_id, name) VALUES ($1, $2, $3)")).
		WithArgs(sqlmock.AnyArg(), "u1", "ada").
		WillReturnResult(sqlmock.NewResult(0, 1))

	course := &models.Course{Title: "Intro to Go", Instructors: []models.CourseInstructor{{UserID: "u1", Name: "ada"}}}
	require.NoError(t, repo.CreateTx(context.Background(), tx, course))
	assert.NotEmpty(t, course.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRatingTx(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	tx := beginTx(t, db, mock)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET rating = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("c1", 3.5, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateRatingTx(context.Background(), tx, "c1", 3.5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCourseTxReportsExistence(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	tx := beginTx(t, db, mock)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM courses WHERE id = $1")).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	found, err := repo.DeleteTx(context.Background(), tx, "c1")
	require.NoError(t, err)
	assert.True(t, found)
}
