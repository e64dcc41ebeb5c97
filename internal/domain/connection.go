package domain

// Connection is a directed edge between two items of the same canvas.
type Connection struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
}

// Touches reports whether id is either endpoint.
func (c Connection) Touches(id string) bool {
	return c.From == id || c.To == id
}

func (c Connection) SamePair(from, to string) bool {
	return c.From == from && c.To == to
}
