package services

import (
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/effort/modules/effort/domain/term"
)

type EventType string

const (
	EventPhaseStarted EventType = "phase_started"
	EventProgress     EventType = "progress"
	EventCompleted    EventType = "completed"
	EventFailed       EventType = "failed"
)

// Counters track imported versus expected items; imported counts every
// candidate handled, whether or not it had to be written.
type Counters struct {
	InstructorsImported int `json:"instructors_imported"`
	InstructorsTotal    int `json:"instructors_total"`
	CoursesImported     int `json:"courses_imported"`
	CoursesTotal        int `json:"courses_total"`
	RecordsImported     int `json:"records_imported"`
	RecordsTotal        int `json:"records_total"`
}

func (c Counters) imported() int {
	return c.InstructorsImported + c.CoursesImported + c.RecordsImported
}

// ProgressEvent is emitted during execute. Only completed and failed are terminal.
type ProgressEvent struct {
	RunID    uuid.UUID `json:"run_id"`
	TermCode term.Code `json:"term_code"`
	Type     EventType `json:"type"`
	Phase    string    `json:"phase,omitempty"`
	Counters Counters  `json:"counters"`
	Summary  *Summary  `json:"summary,omitempty"`
	Error    string    `json:"error,omitempty"`
}

type ProgressFunc func(ProgressEvent)

type PhaseSummary struct {
	Name               string `json:"name"`
	InstructorsCreated int    `json:"instructors_created"`
	CoursesCreated     int    `json:"courses_created"`
	RecordsCreated     int    `json:"records_created"`
	RecordsMerged      int    `json:"records_merged"`
}

type Summary struct {
	RunID              uuid.UUID      `json:"run_id"`
	TermCode           term.Code      `json:"term_code"`
	Actor              uuid.UUID      `json:"actor"`
	InstructorsCreated int            `json:"instructors_created"`
	CoursesCreated     int            `json:"courses_created"`
	RecordsCreated     int            `json:"records_created"`
	RecordsMerged      int            `json:"records_merged"`
	Phases             []PhaseSummary `json:"phases"`
	Warnings           []string       `json:"warnings"`
	StartedAt          time.Time      `json:"started_at"`
	FinishedAt         time.Time      `json:"finished_at"`
}
