package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/academix-api/internal/models"
	"github.com/noah-isme/academix-api/internal/repository"
)

// fakeTransactor runs fn without a real transaction. Stores used with it
// snapshot nothing, so tests assert on rollback through the returned error.
type fakeTransactor struct {
	calls int
	err   error
}

func (f *fakeTransactor) WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

// memReviews is an in-memory review store.
type memReviews struct {
	mu      sync.Mutex
	reviews map[string]*models.Review
	err     error
}

func newMemReviews(reviews ...models.Review) *memReviews {
	m := &memReviews{reviews: map[string]*models.Review{}}
	for i := range reviews {
		r := reviews[i]
		m.reviews[r.ID] = &r
	}
	return m
}

func (m *memReviews) ListByCourse(ctx context.Context, courseID string) ([]models.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Review
	for _, r := range m.reviews {
		if r.CourseID == courseID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memReviews) FindByID(ctx context.Context, id string) (*models.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reviews[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *r
	return &cp, nil
}

func (m *memReviews) CreateTx(ctx context.Context, tx *sqlx.Tx, review *models.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reviews {
		if r.CourseID == review.CourseID && r.UserID == review.UserID {
			return &repository.DuplicateError{Op: "create review", Constraint: "reviews_user_id_course_id_key"}
		}
	}
	if review.ID == "" {
		review.ID = "r-" + review.UserID + "-" + review.CourseID
	}
	cp := *review
	m.reviews[review.ID] = &cp
	return nil
}

func (m *memReviews) UpdateTx(ctx context.Context, tx *sqlx.Tx, review *models.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reviews[review.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *review
	m.reviews[review.ID] = &cp
	return nil
}

func (m *memReviews) DeleteTx(ctx context.Context, tx *sqlx.Tx, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reviews[id]; !ok {
		return false, nil
	}
	delete(m.reviews, id)
	return true, nil
}

func (m *memReviews) RatingsByCourseTx(ctx context.Context, tx *sqlx.Tx, courseID, excludeID string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []int
	for _, r := range m.reviews {
		if r.CourseID == courseID && r.ID != excludeID {
			out = append(out, r.Rating)
		}
	}
	return out, nil
}

func (m *memReviews) DeleteByCourseTx(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.reviews {
		if r.CourseID == courseID {
			delete(m.reviews, id)
			n++
		}
	}
	return n, nil
}

func (m *memReviews) DeleteByUserTx(ctx context.Context, tx *sqlx.Tx, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var courses []string
	for id, r := range m.reviews {
		if r.UserID == userID {
			delete(m.reviews, id)
			if !seen[r.CourseID] {
				seen[r.CourseID] = true
				courses = append(courses, r.CourseID)
			}
		}
	}
	sort.Strings(courses)
	return courses, nil
}

func (m *memReviews) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reviews)
}

// memCourses is an in-memory course store.
type memCourses struct {
	mu      sync.Mutex
	courses map[string]*models.Course
	listed  int
}

func newMemCourses(courses ...models.Course) *memCourses {
	m := &memCourses{courses: map[string]*models.Course{}}
	for i := range courses {
		c := courses[i]
		m.courses[c.ID] = &c
	}
	return m
}

func (m *memCourses) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listed++
	var out []models.Course
	for _, c := range m.courses {
		if filter.Category == "" || c.Category == filter.Category {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memCourses) FindByID(ctx context.Context, id string) (*models.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (m *memCourses) CreateTx(ctx context.Context, tx *sqlx.Tx, course *models.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if course.ID == "" {
		course.ID = "c-new"
	}
	course.CreatedAt = time.Now().UTC()
	cp := *course
	m.courses[course.ID] = &cp
	return nil
}

func (m *memCourses) UpdateTx(ctx context.Context, tx *sqlx.Tx, course *models.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.courses[course.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *course
	m.courses[course.ID] = &cp
	return nil
}

func (m *memCourses) ReplaceInstructorsTx(ctx context.Context, tx *sqlx.Tx, courseID string, instructors []models.CourseInstructor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.courses[courseID]; ok {
		c.Instructors = instructors
	}
	return nil
}

func (m *memCourses) UpdateRatingTx(ctx context.Context, tx *sqlx.Tx, courseID string, rating float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.courses[courseID]; ok {
		c.Rating = rating
	}
	return nil
}

func (m *memCourses) DeleteTx(ctx context.Context, tx *sqlx.Tx, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.courses[id]; !ok {
		return false, nil
	}
	delete(m.courses, id)
	return true, nil
}

func (m *memCourses) Rating(id string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.courses[id]; ok {
		return c.Rating
	}
	return -1
}

// memEnrollments is an in-memory enrollment store.
type memEnrollments struct {
	mu          sync.Mutex
	enrollments map[string]*models.Enrollment
	lessonCount func(courseID string) int
	createErr   error
}

func newMemEnrollments(enrollments ...models.Enrollment) *memEnrollments {
	m := &memEnrollments{enrollments: map[string]*models.Enrollment{}}
	for i := range enrollments {
		e := enrollments[i]
		m.enrollments[e.ID] = &e
	}
	return m
}

func (m *memEnrollments) Create(ctx context.Context, enrollment *models.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, e := range m.enrollments {
		if e.StudentID == enrollment.StudentID && e.CourseID == enrollment.CourseID {
			return &repository.DuplicateError{Op: "create enrollment", Constraint: "enrollments_student_id_course_id_key"}
		}
	}
	if enrollment.ID == "" {
		enrollment.ID = "e-" + enrollment.StudentID + "-" + enrollment.CourseID
	}
	cp := *enrollment
	m.enrollments[enrollment.ID] = &cp
	return nil
}

func (m *memEnrollments) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (m *memEnrollments) FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.enrollments {
		if e.StudentID == studentID && e.CourseID == courseID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memEnrollments) Exists(ctx context.Context, studentID, courseID string) (bool, error) {
	_, err := m.FindByStudentAndCourse(ctx, studentID, courseID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (m *memEnrollments) ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Enrollment
	for _, e := range m.enrollments {
		if e.StudentID == studentID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memEnrollments) ListRoster(ctx context.Context, courseID string) ([]models.RosterEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RosterEntry
	for _, e := range m.enrollments {
		if e.CourseID == courseID {
			out = append(out, models.RosterEntry{
				EnrollmentID: e.ID,
				StudentID:    e.StudentID,
				StudentName:  "student " + e.StudentID,
				StudentEmail: e.StudentID + "@example.com",
				Progress:     e.Progress,
				Source:       e.Source,
				EnrolledAt:   e.EnrolledAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnrollmentID < out[j].EnrollmentID })
	return out, nil
}

func (m *memEnrollments) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.enrollments[id]; !ok {
		return false, nil
	}
	delete(m.enrollments, id)
	return true, nil
}

func (m *memEnrollments) AddCompletedLessonTx(ctx context.Context, tx *sqlx.Tx, enrollmentID, lessonID string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[enrollmentID]
	if !ok {
		return sql.ErrNoRows
	}
	for _, cl := range e.CompletedLessons {
		if cl.LessonID == lessonID {
			return &repository.DuplicateError{Op: "complete lesson", Constraint: "enrollment_lessons_pkey"}
		}
	}
	e.CompletedLessons = append(e.CompletedLessons, models.CompletedLesson{EnrollmentID: enrollmentID, LessonID: lessonID, CompletedAt: completedAt})
	return nil
}

func (m *memEnrollments) CountCompletedTx(ctx context.Context, tx *sqlx.Tx, enrollmentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[enrollmentID]
	if !ok {
		return 0, nil
	}
	return len(e.CompletedLessons), nil
}

func (m *memEnrollments) UpdateProgressTx(ctx context.Context, tx *sqlx.Tx, enrollmentID string, progress float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.enrollments[enrollmentID]; ok {
		e.Progress = progress
	}
	return nil
}

func (m *memEnrollments) RecomputeCourseProgressTx(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	if m.lessonCount != nil {
		total = m.lessonCount(courseID)
	}
	var n int64
	for _, e := range m.enrollments {
		if e.CourseID == courseID {
			e.Progress = enrollmentProgress(len(e.CompletedLessons), total)
			n++
		}
	}
	return n, nil
}

func (m *memEnrollments) DeleteByCourseTx(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.enrollments {
		if e.CourseID == courseID {
			delete(m.enrollments, id)
			n++
		}
	}
	return n, nil
}

func (m *memEnrollments) DeleteByStudentTx(ctx context.Context, tx *sqlx.Tx, studentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.enrollments {
		if e.StudentID == studentID {
			delete(m.enrollments, id)
			n++
		}
	}
	return n, nil
}

func (m *memEnrollments) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.enrollments)
}

// memLessons is an in-memory lesson store.
type memLessons struct {
	mu      sync.Mutex
	lessons map[string]*models.Lesson
	seq     int
}

func newMemLessons(lessons ...models.Lesson) *memLessons {
	m := &memLessons{lessons: map[string]*models.Lesson{}}
	for i := range lessons {
		l := lessons[i]
		m.lessons[l.ID] = &l
	}
	return m
}

func (m *memLessons) ListByCourse(ctx context.Context, courseID string) ([]models.Lesson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Lesson
	for _, l := range m.lessons {
		if l.CourseID == courseID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memLessons) FindByID(ctx context.Context, id string) (*models.Lesson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lessons[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *l
	return &cp, nil
}

func (m *memLessons) CreateTx(ctx context.Context, tx *sqlx.Tx, lesson *models.Lesson) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lesson.ID == "" {
		m.seq++
		lesson.ID = fmt.Sprintf("l-new-%d", m.seq)
	}
	cp := *lesson
	m.lessons[lesson.ID] = &cp
	return nil
}

func (m *memLessons) Update(ctx context.Context, lesson *models.Lesson) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lessons[lesson.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *lesson
	m.lessons[lesson.ID] = &cp
	return nil
}

func (m *memLessons) SetVideo(ctx context.Context, id string, key, url *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lessons[id]
	if !ok {
		return sql.ErrNoRows
	}
	l.VideoKey = key
	l.VideoURL = url
	return nil
}

func (m *memLessons) DeleteTx(ctx context.Context, tx *sqlx.Tx, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lessons[id]; !ok {
		return false, nil
	}
	delete(m.lessons, id)
	return true, nil
}

func (m *memLessons) VideoKeysByCourseTx(ctx context.Context, tx *sqlx.Tx, courseID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for _, l := range m.lessons {
		if l.CourseID == courseID && l.HasVideo() {
			keys = append(keys, *l.VideoKey)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memLessons) DeleteByCourseTx(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, l := range m.lessons {
		if l.CourseID == courseID {
			delete(m.lessons, id)
			n++
		}
	}
	return n, nil
}

func (m *memLessons) CountByCourseTx(ctx context.Context, tx *sqlx.Tx, courseID string) (int, error) {
	return m.countByCourse(courseID), nil
}

func (m *memLessons) countByCourse(courseID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.lessons {
		if l.CourseID == courseID {
			n++
		}
	}
	return n
}

// memUsers is a minimal user store for services that look users up by id.
type memUsers struct {
	mu      sync.Mutex
	users   map[string]*models.User
	audits  []*models.AuditLog
	findErr error
}

func newMemUsers(users ...*models.User) *memUsers {
	m := &memUsers{users: map[string]*models.User{}}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memUsers) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (m *memUsers) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, u := range m.users {
		if filter.Role == nil || u.Role == *filter.Role {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memUsers) Create(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return &repository.DuplicateError{Op: "create user", Constraint: "users_email_key"}
		}
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memUsers) Update(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return sql.ErrNoRows
	}
	for id, u := range m.users {
		if id != user.ID && u.Contact == user.Contact {
			return &repository.DuplicateError{Op: "update user", Constraint: "users_contact_key"}
		}
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memUsers) DeleteTx(ctx context.Context, tx *sqlx.Tx, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return false, nil
	}
	delete(m.users, id)
	return true, nil
}

func (m *memUsers) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, log)
	return nil
}

// fakeStore is an in-memory object store.
type fakeStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleted   []string
	deleteErr error
	putErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = body
	return "mem:///" + key, nil
}

func (f *fakeStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.objects, key)
	return nil
}

func (f *fakeStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	return "https://media.test/" + key + "?sig=abc", time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), nil
}

func (f *fakeStore) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}
