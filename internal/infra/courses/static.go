package courses

import (
	"context"
	"sort"
	"sync"

	"quiz-session-service/internal/domain"
)

// StaticRegistry is an in-memory course registry (useful for tests/demos).
type StaticRegistry struct {
	mu          sync.RWMutex
	courses     map[string]domain.Course
	enrollments map[string]map[string]domain.StudentProfile
	down        bool
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{
		courses:     make(map[string]domain.Course),
		enrollments: make(map[string]map[string]domain.StudentProfile),
	}
}

func (s *StaticRegistry) AddCourse(course domain.Course) *StaticRegistry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[course.ID] = course
	return s
}

func (s *StaticRegistry) Enroll(courseID string, profile domain.StudentProfile) *StaticRegistry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enrollments[courseID] == nil {
		s.enrollments[courseID] = make(map[string]domain.StudentProfile)
	}
	s.enrollments[courseID][domain.NormalizeEmail(profile.Email)] = profile
	return s
}

// SetUnavailable makes every call fail as if the registry timed out.
func (s *StaticRegistry) SetUnavailable(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

func (s *StaticRegistry) ValidateEnrollment(_ context.Context, courseID, email string) (domain.StudentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.down {
		return domain.StudentProfile{}, domain.ErrCoursesUnavailable
	}
	profile, ok := s.enrollments[courseID][domain.NormalizeEmail(email)]
	if !ok {
		return domain.StudentProfile{}, domain.ErrNotEnrolled
	}
	return profile, nil
}

func (s *StaticRegistry) VerifyCourseOwnership(_ context.Context, courseID, teacherID string) (domain.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.down {
		return domain.Course{}, domain.ErrCoursesUnavailable
	}
	course, ok := s.courses[courseID]
	if !ok {
		return domain.Course{}, domain.ErrCourseNotFound
	}
	if course.TeacherID != teacherID {
		return domain.Course{}, domain.ErrNotCourseOwner
	}
	return course, nil
}

func (s *StaticRegistry) ListCourseIDs(_ context.Context, teacherID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.down {
		return nil, domain.ErrCoursesUnavailable
	}
	ids := []string{}
	for id, course := range s.courses {
		if course.TeacherID == teacherID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
