package assignment

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"shift-engine/internal/models"
	"shift-engine/internal/store"
)

// Move is one shift handed from an over-loaded to an under-loaded executor.
type Move struct {
	ShiftID string `json:"shift_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

type BalanceResult struct {
	Date     time.Time      `json:"date"`
	Before   map[string]int `json:"before"`
	After    map[string]int `json:"after"`
	Moves    []Move         `json:"moves"`
	Balanced bool           `json:"balanced"`
	Variance float64        `json:"variance"`
}

// errNoMove rolls back a candidate move the receiver cannot take.
var errNoMove = errors.New("move rejected")

// Balance evens out per-executor shift counts on date. Every eligible
// executor counts, including those with no shifts. While the spread exceeds
// one, the busiest executor hands a planned shift to the least busy executor
// that has no overlapping shift or other blocking conflict with it. Each
// move commits on its own. Balance stops when the spread is at most one, when no move is
// possible, or after MaxBalanceMoves moves.
func (e *Engine) Balance(ctx context.Context, date time.Time) (*BalanceResult, error) {
	dayStart, dayEnd := dayBounds(date)
	executors, err := e.store.ListExecutors(ctx, store.ExecutorFilter{EligibleOnly: true})
	if err != nil {
		return nil, err
	}
	shifts, err := e.store.ListShifts(ctx, store.ShiftFilter{
		From: dayStart,
		To:   dayEnd,
		Statuses: []models.ShiftStatus{
			models.ShiftPlanned, models.ShiftActive, models.ShiftCompleted,
		},
	})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(executors))
	for _, ex := range executors {
		counts[ex.ID] = 0
	}
	owned := make(map[string][]*models.Shift)
	for _, s := range shifts {
		if s.ExecutorID == nil {
			continue
		}
		id := *s.ExecutorID
		if _, ok := counts[id]; !ok {
			continue
		}
		counts[id]++
		if s.Status == models.ShiftPlanned {
			owned[id] = append(owned[id], s)
		}
	}

	res := &BalanceResult{Date: dayStart, Before: copyCounts(counts)}
	maxMoves := e.scorer.Config().MaxBalanceMoves
	for len(res.Moves) < maxMoves {
		if err := ctx.Err(); err != nil {
			return e.finishBalance(res, counts), err
		}
		if spread(counts) <= 1 {
			break
		}
		mv, err := e.nextMove(ctx, counts, owned)
		if err != nil {
			return e.finishBalance(res, counts), err
		}
		if mv == nil {
			break
		}
		res.Moves = append(res.Moves, *mv)
	}
	e.metrics.RecordBalanceMoves(len(res.Moves))
	return e.finishBalance(res, counts), nil
}

func (e *Engine) finishBalance(res *BalanceResult, counts map[string]int) *BalanceResult {
	res.After = copyCounts(counts)
	res.Variance = variance(counts)
	res.Balanced = spread(counts) <= 1 && res.Variance < 1.0
	e.log.Info("workload balance finished",
		zap.Time("date", res.Date),
		zap.Int("moves", len(res.Moves)),
		zap.Bool("balanced", res.Balanced),
		zap.Float64("variance", res.Variance))
	return res
}

// nextMove tries donors from most to least loaded and receivers from least
// loaded up, committing the first feasible move. It returns nil when no move
// is possible.
func (e *Engine) nextMove(ctx context.Context, counts map[string]int, owned map[string][]*models.Shift) (*Move, error) {
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	byLoad := func(desc bool) []string {
		out := slices.Clone(ids)
		slices.SortFunc(out, func(a, b string) int {
			c := cmp.Compare(counts[a], counts[b])
			if desc {
				c = -c
			}
			if c != 0 {
				return c
			}
			return cmp.Compare(a, b)
		})
		return out
	}
	donors, receivers := byLoad(true), byLoad(false)

	for _, donor := range donors {
		for i, s := range owned[donor] {
			for _, recv := range receivers {
				if counts[recv] >= counts[donor]-1 {
					break
				}
				ok, err := e.tryMove(ctx, s.ID, donor, recv)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
				counts[donor]--
				counts[recv]++
				owned[donor] = slices.Delete(owned[donor], i, i+1)
				owned[recv] = append(owned[recv], s)
				return &Move{ShiftID: s.ID, From: donor, To: recv}, nil
			}
		}
	}
	return nil, nil
}

// tryMove reassigns shiftID from donor to recv in one unit of work. It
// reports false when the shift changed underneath or recv has a conflict.
func (e *Engine) tryMove(ctx context.Context, shiftID, donor, recv string) (bool, error) {
	var moved *ShiftAssignment
	var conflicts int
	err := e.store.Within(ctx, func(ctx context.Context, r store.Repository) error {
		s, err := r.GetShift(ctx, shiftID)
		if err != nil {
			return err
		}
		if s.Status != models.ShiftPlanned || !s.OwnedBy(donor) {
			return errNoMove
		}
		found, warnings, err := e.checkCandidate(ctx, r, s, recv)
		if err != nil {
			return err
		}
		if models.HasBlocking(found) {
			return errNoMove
		}
		found = append(found, warnings...)
		ex, err := r.GetExecutor(ctx, recv)
		if err != nil {
			return err
		}
		sc, err := e.rank(ctx, r, s, []*models.Executor{ex}, nil)
		if err != nil {
			return err
		}
		if len(sc) == 0 {
			return errNoMove
		}
		moved, err = e.commit(ctx, r, s, sc[0], len(found), models.StrategyRebalance)
		conflicts = len(found)
		return err
	})
	if errors.Is(err, errNoMove) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("move shift %s: %w", shiftID, err)
	}
	e.announce(ctx, moved, models.StrategyRebalance, conflicts)
	return true, nil
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func spread(counts map[string]int) int {
	if len(counts) == 0 {
		return 0
	}
	lo, hi := -1, 0
	for _, c := range counts {
		if lo < 0 || c < lo {
			lo = c
		}
		if c > hi {
			hi = c
		}
	}
	return hi - lo
}

func variance(counts map[string]int) float64 {
	if len(counts) == 0 {
		return 0
	}
	var sum float64
	for _, c := range counts {
		sum += float64(c)
	}
	mean := sum / float64(len(counts))
	var v float64
	for _, c := range counts {
		d := float64(c) - mean
		v += d * d
	}
	return v / float64(len(counts))
}
