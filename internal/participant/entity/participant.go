package entity

// Participant is the slice of the participant directory attendance reads.
type Participant struct {
	ID         int64  `db:"id" json:"id"`
	Name       string `db:"name" json:"name"`
	Department string `db:"department" json:"department"`
	IsActive   bool   `db:"is_active" json:"-"`
}
