package models

import "fmt"

// Stage is the pipeline state of a document. Stages only move forward.
type Stage string

const (
	StageIngested           Stage = "ingested"
	StageChunked            Stage = "chunked"
	StageDomainTreeBuilt    Stage = "domain_tree_built"
	StageQuestionsGenerated Stage = "questions_generated"
	StageLabeled            Stage = "labeled"
	StageAnswersGenerated   Stage = "answers_generated"
	StageCotRefined         Stage = "cot_refined"
)

var stageOrder = map[Stage]int{
	StageIngested:           0,
	StageChunked:            1,
	StageDomainTreeBuilt:    2,
	StageQuestionsGenerated: 3,
	StageLabeled:            4,
	StageAnswersGenerated:   5,
	StageCotRefined:         6,
}

// ParseStage returns the stage named by s.
func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	if _, ok := stageOrder[st]; !ok {
		return "", fmt.Errorf("unknown stage %q", s)
	}
	return st, nil
}

// Before reports whether s comes strictly before other.
func (s Stage) Before(other Stage) bool {
	return stageOrder[s] < stageOrder[other]
}

// Advance returns next if it is later than s, otherwise s.
func (s Stage) Advance(next Stage) Stage {
	if _, ok := stageOrder[next]; !ok {
		return s
	}
	if s == "" || s.Before(next) {
		return next
	}
	return s
}
