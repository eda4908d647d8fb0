// internal/ledger/project.go
package ledger

import (
	"fmt"
	"math/big"
	"time"

	"github.com/rovshanmuradov/agro-ledger/internal/money"
)

// DefaultDateLayout formats deadlines and creation times for display.
const DefaultDateLayout = "02/01/2006"

// Projector turns raw ledger records into canonical values. It holds no
// mutable state, so Project is deterministic for a given input.
type Projector struct {
	conv   *money.Converter
	layout string
	loc    *time.Location
}

// NewProjector builds a projector; an empty layout selects DefaultDateLayout
// and a nil location selects UTC.
func NewProjector(conv *money.Converter, layout string, loc *time.Location) *Projector {
	if layout == "" {
		layout = DefaultDateLayout
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Projector{conv: conv, layout: layout, loc: loc}
}

// Project normalizes a raw token. Categories unknown to this client are
// kept as reported: the ledger is the authority on what exists.
func (p *Projector) Project(raw *RawToken) (CropToken, error) {
	if raw == nil {
		return CropToken{}, ErrTokenNotFound
	}

	unitBase := raw.UnitPrice
	if unitBase == nil {
		unitBase = new(big.Int)
	}
	if unitBase.Sign() < 0 {
		return CropToken{}, fmt.Errorf("%w: token %s has negative unit price %s", ErrInvalidAmount, raw.ID, unitBase)
	}

	base := money.NewBaseUnits(unitBase)
	unit, err := money.ToNative(base)
	if err != nil {
		return CropToken{}, err
	}
	fiat, err := p.conv.ToFiat(base)
	if err != nil {
		return CropToken{}, err
	}

	deadline := time.Unix(raw.Deadline, 0).In(p.loc)
	created := time.Unix(raw.CreatedAt, 0).In(p.loc)

	return CropToken{
		ID:            raw.ID,
		Issuer:        raw.Issuer,
		Category:      Category(raw.Category),
		Quantity:      raw.Quantity,
		UnitPrice:     unit,
		UnitPriceFiat: fiat,
		Deadline:      deadline,
		CreatedAt:     created,
		DeadlineText:  deadline.Format(p.layout),
		CreatedText:   created.Format(p.layout),
		Location:      raw.Location,
		State:         stateOf(raw),
		Counterparty:  raw.Counterparty,
		ContentRef:    raw.ContentRef,
	}, nil
}

func stateOf(raw *RawToken) State {
	switch {
	case raw.IsWithdrawn:
		return StateWithdrawn
	case raw.IsDelivered:
		return StateDelivered
	case raw.IsSold:
		return StateSold
	case raw.CreatedAt > 0:
		return StateAvailable
	default:
		return StateCreated
	}
}

// ProjectSnapshot derives the marketplace aggregate from the scalar tuple.
func ProjectSnapshot(raw *RawSnapshot) (Snapshot, error) {
	if raw == nil {
		return Snapshot{}, fmt.Errorf("%w: empty snapshot", ErrRejected)
	}
	volume := raw.TotalVolume
	if volume == nil {
		volume = new(big.Int)
	}
	v, err := money.ToNative(money.NewBaseUnits(volume))
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Total:     raw.Total,
		Available: raw.Available,
		Sold:      raw.Sold,
		Volume:    v,
	}, nil
}
