package services

import (
	"context"
	"math/rand/v2"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/formrelay/formrelay/internal/repo"
)

// Pruner bounds the number of archived submissions per form.
type Pruner struct {
	DB    *gorm.DB
	Limit int
	// Probability is the chance that MaybePrune checks the archive at all.
	Probability float64
	// Roll returns a number in [0,1); defaults to math/rand.
	Roll func() float64
}

// MaybePrune trims formID's archive to Limit rows with probability
// Probability. The bound is amortized: between successful rolls a form may
// hold more than Limit submissions.
func (p *Pruner) MaybePrune(ctx context.Context, formID uint) (int64, error) {
	roll := p.Roll
	if roll == nil {
		roll = rand.Float64
	}
	if p.Limit <= 0 || roll() >= p.Probability {
		return 0, nil
	}
	n, err := repo.CountSubmissions(ctx, p.DB, formID)
	if err != nil || n <= int64(p.Limit) {
		return 0, err
	}
	removed, err := repo.PruneSubmissions(ctx, p.DB, formID, p.Limit)
	if err == nil && removed > 0 {
		zerolog.Ctx(ctx).Debug().Uint("form_id", formID).Int64("removed", removed).Msg("archive pruned")
	}
	return removed, err
}

// PruneAll trims every form that holds more than Limit submissions.
func (p *Pruner) PruneAll(ctx context.Context) (int64, error) {
	if p.Limit <= 0 {
		return 0, nil
	}
	ids, err := repo.FormsOverArchiveLimit(ctx, p.DB, p.Limit)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, id := range ids {
		n, err := repo.PruneSubmissions(ctx, p.DB, id, p.Limit)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
