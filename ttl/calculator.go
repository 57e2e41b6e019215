package ttl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/danthegoodman1/icetree/block"
	"github.com/danthegoodman1/icetree/part"
	"github.com/rs/zerolog"
)

var (
	ErrBadRule      = errors.New("invalid TTL rule")
	ErrFinalized    = errors.New("TTL calculator already finalized")
	ErrBadTTLColumn = errors.New("TTL column has a non time type")
)

const (
	stateIdle state = iota
	stateAccumulating
	stateFinalized
)

type (
	state int

	// Result is what one consumed block produced. Expired lists the rows that
	// rows and rows_where TTLs want removed, in ascending order. The
	// calculator never removes them itself.
	Result struct {
		Expired []int
	}

	// Calculator recomputes the TTL bounds of a part while its rows stream by
	Calculator struct {
		part  *part.Part
		rules []*ruleState
		now   int64
		force bool
		// keepExpired records the bounds of expired rows too, for callers that write them anyway
		keepExpired bool
		state       state
		logger      zerolog.Logger
	}

	ruleState struct {
		rule Rule
		info part.TTLInfo
	}
)

// NewCalculator tracks rules for p. Bounds start from each rule's Previous
// info unless force asks for a clean recomputation.
func NewCalculator(p *part.Part, rules []Rule, now time.Time, force bool, logger zerolog.Logger) *Calculator {
	c := &Calculator{
		part:   p,
		now:    now.Unix(),
		force:  force,
		logger: logger,
	}
	for _, r := range rules {
		rs := &ruleState{rule: r}
		if !force {
			rs.info = r.Previous
		}
		c.rules = append(c.rules, rs)
	}
	return c
}

// NewInsertCalculator is for parts written straight from an insert. Expired
// rows are still reported, but since the insert keeps them every rule
// records their bounds, so a later merge knows the part has rows to drop.
func NewInsertCalculator(p *part.Part, rules []Rule, now time.Time, logger zerolog.Logger) *Calculator {
	c := NewCalculator(p, rules, now, false, logger)
	c.keepExpired = true
	return c
}

// Consume updates every rule with the rows of b
func (c *Calculator) Consume(ctx context.Context, b block.Block) (Result, error) {
	if c.state == stateFinalized {
		return Result{}, ErrFinalized
	}
	c.state = stateAccumulating
	var res Result
	expired := map[int]struct{}{}
	for _, rs := range c.rules {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if err := rs.consume(b, c.now, c.keepExpired, expired); err != nil {
			return Result{}, fmt.Errorf("error in %s: %w", rs.rule, err)
		}
	}
	if len(expired) > 0 {
		res.Expired = make([]int, 0, len(expired))
		for row := range expired {
			res.Expired = append(res.Expired, row)
		}
		sort.Ints(res.Expired)
	}
	return res, nil
}

func (rs *ruleState) consume(b block.Block, now int64, keepExpired bool, expired map[int]struct{}) error {
	values, ok := b.ByName(rs.rule.ResultColumn)
	if !ok {
		return fmt.Errorf("%w: %s", block.ErrColumnNotFound, rs.rule.ResultColumn)
	}
	var where []bool
	if rs.rule.WhereColumn != "" {
		wc, ok := b.ByName(rs.rule.WhereColumn)
		if !ok {
			return fmt.Errorf("%w: %s", block.ErrColumnNotFound, rs.rule.WhereColumn)
		}
		if where, ok = wc.Data.([]bool); !ok {
			return fmt.Errorf("%w: where column %s is %s, not Bool", block.ErrTypeMismatch, wc.Name, wc.Type)
		}
	}
	for i := 0; i < values.Len(); i++ {
		if where != nil && !where[i] {
			continue
		}
		ts, err := timestampAt(values, i)
		if err != nil {
			return err
		}
		if rs.rule.Kind.filtering() && ts != 0 && ts <= now {
			expired[i] = struct{}{}
			if !keepExpired {
				continue
			}
		}
		rs.info.Update(ts)
	}
	return nil
}

func timestampAt(c block.Column, i int) (int64, error) {
	switch d := c.Data.(type) {
	case []uint32:
		return int64(d[i]), nil
	case []int64:
		return d[i], nil
	case []uint64:
		return int64(d[i]), nil
	}
	return 0, fmt.Errorf("%w: %s is %s", ErrBadTTLColumn, c.Name, c.Type)
}

// Finalize replaces the TTL infos of p with the recomputed bounds, nil means
// the part the calculator was created for
func (c *Calculator) Finalize(p *part.Part) error {
	if c.state == stateFinalized {
		return ErrFinalized
	}
	if p == nil {
		p = c.part
	}
	c.state = stateFinalized

	infos := part.NewTTLInfos()
	for _, rs := range c.rules {
		key := rs.rule.key()
		switch rs.rule.Kind {
		case RowsTTL:
			infos.Table = rs.info
		case RowsWhereTTL:
			infos.RowsWhere[key] = rs.info
		case GroupByTTL:
			infos.GroupBy[key] = rs.info
		case ColumnTTL:
			infos.Columns[key] = rs.info
		case MoveTTL:
			infos.Moves[key] = rs.info
		case RecompressionTTL:
			infos.Recompression[key] = rs.info
		}
		// moves and recompression never drop data
		if rs.rule.Kind != MoveTTL && rs.rule.Kind != RecompressionTTL {
			infos.UpdatePartMinMax(rs.info)
		}
	}
	p.TTLInfos = infos
	c.logger.Debug().Int("rules", len(c.rules)).Int64("part_min", infos.PartMin).Int64("part_max", infos.PartMax).Bool("force", c.force).Msg("finalized TTL infos")
	return nil
}
