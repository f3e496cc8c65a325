package session

// participant is one connected player. It is owned by its Session and
// only touched while the session lock is held.
type participant struct {
	handle string
	name   string
	points map[int]int64
}

func newParticipant(handle, name string) *participant {
	return &participant{
		handle: handle,
		name:   name,
		points: make(map[int]int64),
	}
}

// record stores the points for a question. The first answer wins; a
// second submission for the same question is refused, not overwritten.
func (p *participant) record(questionID int, pts int64) bool {
	if _, ok := p.points[questionID]; ok {
		return false
	}
	p.points[questionID] = pts
	return true
}

func (p *participant) answered(questionID int) bool {
	_, ok := p.points[questionID]
	return ok
}

func (p *participant) wasCorrect(questionID int) bool {
	return p.points[questionID] > 0
}

func (p *participant) total() int64 {
	var sum int64
	for _, pts := range p.points {
		sum += pts
	}
	return sum
}
