package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCourseRating(t *testing.T) {
	assert.Equal(t, 4.0, courseRating([]int{3, 4, 5}))
	assert.Equal(t, 3.5, courseRating([]int{3, 4}))
	assert.Equal(t, 0.0, courseRating(nil))
	assert.Equal(t, 4.3, courseRating([]int{4, 4, 5}))
	assert.Equal(t, 1.0, courseRating([]int{1}))
}

func TestEnrollmentProgress(t *testing.T) {
	assert.Equal(t, 25.0, enrollmentProgress(1, 4))
	assert.Equal(t, 0.0, enrollmentProgress(0, 0))
	assert.Equal(t, 100.0, enrollmentProgress(3, 3))
	assert.InDelta(t, 33.333, enrollmentProgress(1, 3), 0.001)
	assert.Equal(t, 100.0, enrollmentProgress(5, 4))
}
