package model

// TotalProgressID identifies the aggregate row of a progress table.
const TotalProgressID = 0

// WorkerStatus is an immutable snapshot of what one worker is doing.
type WorkerStatus struct {
	WorkerID      int
	CurrentEntry  string
	Status        string
	Active        bool
	Progress      float64
	BytesReceived int64
	TotalBytes    int64
	Speed         float64
}

// WithDownload returns a copy carrying download figures.
func (s WorkerStatus) WithDownload(received, total int64, speed float64) WorkerStatus {
	s.BytesReceived = received
	s.TotalBytes = total
	s.Speed = speed
	if total > 0 {
		s.Progress = float64(received) / float64(total) * 100
	}
	return s
}

// Reset returns a copy with a new status line and cleared download figures.
func (s WorkerStatus) Reset(status string) WorkerStatus {
	s.Status = status
	s.Progress = 0
	s.BytesReceived = 0
	s.TotalBytes = 0
	s.Speed = 0
	return s
}
