package models

import "time"

// Question is generated from exactly one chunk. An empty label resolves to uncategorized.
type Question struct {
	ID        string    `json:"id" db:"id"`
	ProjectID string    `json:"project_id" db:"project_id"`
	ChunkID   string    `json:"chunk_id" db:"chunk_id"`
	Text      string    `json:"question" db:"text"`
	Label     string    `json:"label" db:"label"`
	Answered  bool      `json:"answered" db:"answered"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DatasetRecord is a question/answer pair with optional chain of thought.
// CotVersion is incremented on every write of Cot.
type DatasetRecord struct {
	ID         string    `json:"id" db:"id"`
	ProjectID  string    `json:"project_id" db:"project_id"`
	QuestionID string    `json:"question_id" db:"question_id"`
	ChunkID    string    `json:"chunk_id" db:"chunk_id"`
	Question   string    `json:"question" db:"question"`
	Answer     string    `json:"answer" db:"answer"`
	Cot        string    `json:"cot" db:"cot"`
	CotVersion int64     `json:"cot_version" db:"cot_version"`
	Label      string    `json:"label" db:"label"`
	Model      string    `json:"model" db:"model"`
	Confirmed  bool      `json:"confirmed" db:"confirmed"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
