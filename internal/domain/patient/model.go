package patient

import "time"

// Patient maps to the patients table. BirthDate is YYYY-MM-DD.
type Patient struct {
	ID        int64     `json:"id"`
	FullName  string    `json:"full_name"`
	Gender    string    `json:"gender"`
	Age       int       `json:"age"`
	BirthDate string    `json:"birth_date"`
	Deleted   bool      `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is the immutable copy of the demographics a lab request keeps.
type Snapshot struct {
	ID        int64
	FullName  string
	Gender    string
	Age       int
	BirthDate string
}

func (p *Patient) Snapshot() Snapshot {
	return Snapshot{
		ID:        p.ID,
		FullName:  p.FullName,
		Gender:    p.Gender,
		Age:       p.Age,
		BirthDate: p.BirthDate,
	}
}
