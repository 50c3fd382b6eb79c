package schedule

import (
	"errors"
	"time"
)

// Task identifies one of the recurring automation duties per property.
type Task uint8

const (
	TaskUnknown Task = iota
	TaskRentCollection
	TaskValuationUpdate
	TaskMaintenanceCheck
)

func (t Task) String() string {
	switch t {
	case TaskRentCollection:
		return "rent_collection"
	case TaskValuationUpdate:
		return "valuation_update"
	case TaskMaintenanceCheck:
		return "maintenance_check"
	default:
		return "unknown"
	}
}

// Default recurrence intervals.
const (
	DefaultRentInterval        = 30 * 24 * time.Hour
	DefaultValuationInterval   = 90 * 24 * time.Hour
	DefaultMaintenanceInterval = 180 * 24 * time.Hour
)

var errUnknownTask = errors.New("schedule: unknown task")

// Intervals configures how far each task advances once executed.
type Intervals struct {
	Rent        time.Duration
	Valuation   time.Duration
	Maintenance time.Duration
}

// Normalise fills non-positive intervals with the defaults.
func (i Intervals) Normalise() Intervals {
	if i.Rent <= 0 {
		i.Rent = DefaultRentInterval
	}
	if i.Valuation <= 0 {
		i.Valuation = DefaultValuationInterval
	}
	if i.Maintenance <= 0 {
		i.Maintenance = DefaultMaintenanceInterval
	}
	return i
}

func (i Intervals) forTask(task Task) (time.Duration, error) {
	switch task {
	case TaskRentCollection:
		return i.Rent, nil
	case TaskValuationUpdate:
		return i.Valuation, nil
	case TaskMaintenanceCheck:
		return i.Maintenance, nil
	default:
		return 0, errUnknownTask
	}
}

// Schedule holds the next due timestamp per task for one property. Timestamps
// are unix seconds; zero means the task is unscheduled and never reported due.
type Schedule struct {
	PropertyID           string `json:"propertyId"`
	NextRentCollection   int64  `json:"nextRentCollection"`
	NextValuationUpdate  int64  `json:"nextValuationUpdate"`
	NextMaintenanceCheck int64  `json:"nextMaintenanceCheck"`
}

// NewSchedule seeds a schedule for a property first seen at now, with every
// task immediately due.
func NewSchedule(propertyID string, now time.Time) *Schedule {
	moment := now.Unix()
	return &Schedule{
		PropertyID:           propertyID,
		NextRentCollection:   moment,
		NextValuationUpdate:  moment,
		NextMaintenanceCheck: moment,
	}
}

// Clone returns a copy of the schedule.
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

func (s *Schedule) next(task Task) int64 {
	switch task {
	case TaskRentCollection:
		return s.NextRentCollection
	case TaskValuationUpdate:
		return s.NextValuationUpdate
	case TaskMaintenanceCheck:
		return s.NextMaintenanceCheck
	default:
		return 0
	}
}

func (s *Schedule) setNext(task Task, at int64) {
	switch task {
	case TaskRentCollection:
		s.NextRentCollection = at
	case TaskValuationUpdate:
		s.NextValuationUpdate = at
	case TaskMaintenanceCheck:
		s.NextMaintenanceCheck = at
	}
}

// DueTasks returns the tasks whose next timestamp is non-zero and at or before
// now, in a fixed order. Zero timestamps are unscheduled and skipped. It never
// mutates the schedule; callers advance tasks they actually executed.
func DueTasks(s *Schedule, now time.Time) []Task {
	if s == nil {
		return nil
	}
	due := make([]Task, 0, 3)
	moment := now.Unix()
	for _, task := range []Task{TaskRentCollection, TaskValuationUpdate, TaskMaintenanceCheck} {
		if next := s.next(task); next != 0 && next <= moment {
			due = append(due, task)
		}
	}
	return due
}

// Advance moves a task's next timestamp forward by its interval, stepping
// repeatedly until the result is strictly after now. A schedule that slept
// through several periods therefore resumes on the future grid instead of
// firing back-to-back.
func Advance(s *Schedule, task Task, now time.Time, intervals Intervals) error {
	if s == nil {
		return errors.New("schedule: nil schedule")
	}
	interval, err := intervals.Normalise().forTask(task)
	if err != nil {
		return err
	}
	step := int64(interval / time.Second)
	next := s.next(task)
	if next == 0 {
		next = now.Unix()
	}
	for next <= now.Unix() {
		next += step
	}
	s.setNext(task, next)
	return nil
}
