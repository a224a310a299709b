package assignment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"shift-engine/internal/models"
)

func BenchmarkScore(b *testing.B) {
	s := NewScorer(DefaultConfig())
	shift := shiftAt("s", base.Add(8*time.Hour), 8*time.Hour, "electric", "gas")
	e := executor("e", "electric", "plumbing")
	var load []*models.Shift
	for i := 0; i < 10; i++ {
		load = append(load, shiftAt(fmt.Sprintf("l%d", i), base.Add(time.Duration(i*20)*time.Hour), 8*time.Hour))
	}
	lc := LoadContext{Shifts: load, ActiveRequests: 3}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Score(shift, e, lc)
	}
}

// A full batch over 200 open shifts and 150 executors.
func BenchmarkAssignBatch_LargeRoster(b *testing.B) {
	var executors []*models.Executor
	for i := 0; i < 150; i++ {
		executors = append(executors, executor(fmt.Sprintf("e%03d", i), "electric"))
	}
	var shifts []*models.Shift
	for i := 0; i < 200; i++ {
		shifts = append(shifts, shiftAt(fmt.Sprintf("s%03d", i), base.Add(time.Duration(i)*time.Hour), 8*time.Hour, "electric"))
	}

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		h := setupEngine(b, DefaultConfig(), executors, shifts...)
		open := h.shifts(b)
		b.StartTimer()
		if _, err := h.engine.AssignBatch(context.Background(), open, false); err != nil {
			b.Fatal(err)
		}
	}
}
