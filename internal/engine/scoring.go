package engine

import (
	"github.com/deathlist/backend/internal/config"
	"github.com/deathlist/backend/internal/models"
)

// Scorer turns one deceased selection into points. The real formula is an
// organizer decision, so it stays a pluggable policy; a list's points are the
// sum over its deceased selections.
type Scorer interface {
	Score(selection models.Selection) int
}

// ConfigScorer awards a flat base per deceased selection, plus an optional
// bonus when the person died younger than YoungAgeLimit.
type ConfigScorer struct {
	Base          int
	YoungAgeLimit int
	YoungBonus    int
}

func NewScorer(cfg config.ScoringConfig) ConfigScorer {
	return ConfigScorer{
		Base:          cfg.BasePoints,
		YoungAgeLimit: cfg.YoungAgeLimit,
		YoungBonus:    cfg.YoungBonus,
	}
}

func (s ConfigScorer) Score(selection models.Selection) int {
	if selection.Status != models.SelectionStatusDeceased {
		return 0
	}
	points := s.Base
	if s.YoungAgeLimit > 0 && selection.Age != nil && *selection.Age < s.YoungAgeLimit {
		points += s.YoungBonus
	}
	return points
}
