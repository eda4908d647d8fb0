// internal/ledger/client.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rovshanmuradov/agro-ledger/internal/money"
	"github.com/rovshanmuradov/agro-ledger/internal/transaction"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config tunes the client's pre-flight checks and write handling.
type Config struct {
	// FeeBuffer is added to the payment in the first acquire balance check, base units.
	FeeBuffer *big.Int
	// Cost multipliers applied to the estimated resource cost to derive the write's cost limit.
	IssueCostMultiplier   decimal.Decimal
	AcquireCostMultiplier decimal.Decimal
	// WriteTimeout bounds a write from submission to receipt.
	WriteTimeout time.Duration
	// MaxDeadlineHorizon caps how far ahead a delivery deadline may be.
	MaxDeadlineHorizon time.Duration
	// ReadConcurrency caps parallel token reads when listing collections.
	ReadConcurrency int
	DateLayout      string
	Location        *time.Location
	Now             func() time.Time
}

func DefaultConfig() Config {
	return Config{
		FeeBuffer:             big.NewInt(1_000_000_000_000_000), // 0.001 native
		IssueCostMultiplier:   decimal.RequireFromString("1.2"),
		AcquireCostMultiplier: decimal.RequireFromString("1.1"),
		WriteTimeout:          120 * time.Second,
		MaxDeadlineHorizon:    2 * 365 * 24 * time.Hour,
		ReadConcurrency:       8,
		DateLayout:            DefaultDateLayout,
		Location:              time.UTC,
		Now:                   time.Now,
	}
}

// Client mediates between callers and the external ledger. It never
// caches token state: every operation re-reads what it acts on.
type Client struct {
	ledger    Ledger
	account   AccountProvider
	conv      *money.Converter
	projector *Projector
	tracker   *transaction.Tracker
	monitor   *transaction.Monitor
	logger    *zap.Logger
	cfg       Config
}

func NewClient(
	l Ledger,
	account AccountProvider,
	conv *money.Converter,
	tracker *transaction.Tracker,
	monitor *transaction.Monitor,
	logger *zap.Logger,
	cfg Config,
) *Client {
	def := DefaultConfig()
	if cfg.FeeBuffer == nil {
		cfg.FeeBuffer = def.FeeBuffer
	}
	if !cfg.IssueCostMultiplier.IsPositive() {
		cfg.IssueCostMultiplier = def.IssueCostMultiplier
	}
	if !cfg.AcquireCostMultiplier.IsPositive() {
		cfg.AcquireCostMultiplier = def.AcquireCostMultiplier
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxDeadlineHorizon <= 0 {
		cfg.MaxDeadlineHorizon = def.MaxDeadlineHorizon
	}
	if cfg.ReadConcurrency <= 0 {
		cfg.ReadConcurrency = def.ReadConcurrency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Client{
		ledger:    l,
		account:   account,
		conv:      conv,
		projector: NewProjector(conv, cfg.DateLayout, cfg.Location),
		tracker:   tracker,
		monitor:   monitor,
		logger:    logger.Named("ledger"),
		cfg:       cfg,
	}
}

func (c *Client) Address() Address                         { return c.account.Address() }
func (c *Client) Converter() *money.Converter              { return c.conv }
func (c *Client) Tracker() *transaction.Tracker            { return c.tracker }
func (c *Client) Project(raw *RawToken) (CropToken, error) { return c.projector.Project(raw) }

// Token reads and projects one token from the ledger.
func (c *Client) Token(ctx context.Context, id TokenID) (CropToken, error) {
	raw, err := c.ledger.GetToken(ctx, id)
	if err != nil {
		return CropToken{}, fmt.Errorf("get token %s: %w", id, err)
	}
	return c.projector.Project(raw)
}

// MyTokens lists the tokens issued by the client's account.
func (c *Client) MyTokens(ctx context.Context) ([]CropToken, error) {
	ids, err := c.ledger.ListIssuerTokens(ctx, c.account.Address())
	if err != nil {
		return nil, fmt.Errorf("list issuer tokens: %w", err)
	}
	return c.tokens(ctx, ids)
}

// AvailableTokens lists the tokens currently offered on the ledger.
func (c *Client) AvailableTokens(ctx context.Context) ([]CropToken, error) {
	ids, err := c.ledger.ListAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("list available tokens: %w", err)
	}
	return c.tokens(ctx, ids)
}

// Snapshot reads the aggregate tuple and derives the snapshot from it.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	raw, err := c.ledger.GetSnapshot(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	return ProjectSnapshot(raw)
}

// NetProceeds is what the issuer receives for t after the platform fee.
func (c *Client) NetProceeds(ctx context.Context, t CropToken) (money.Amount, error) {
	bps, err := c.ledger.PlatformFeeBasisPoints(ctx)
	if err != nil {
		return money.Amount{}, fmt.Errorf("platform fee: %w", err)
	}
	if bps > 10_000 {
		return money.Amount{}, fmt.Errorf("%w: platform fee %d bps", ErrRejected, bps)
	}
	total := t.TotalBaseUnits().BaseUnits()
	net := new(big.Int).Mul(total, big.NewInt(int64(10_000-bps)))
	net.Quo(net, big.NewInt(10_000))
	return money.ToNative(money.NewBaseUnits(net))
}

// tokens fetches ids in parallel and keeps the ledger's order. Tokens that
// disappeared between the list and the read are skipped.
func (c *Client) tokens(ctx context.Context, ids []TokenID) ([]CropToken, error) {
	found := make([]*CropToken, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.ReadConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			t, err := c.Token(gctx, id)
			if errors.Is(err, ErrTokenNotFound) {
				c.logger.Debug("Listed token vanished before read", zap.Stringer("token_id", id))
				return nil
			}
			if err != nil {
				return err
			}
			found[i] = &t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]CropToken, 0, len(ids))
	for _, t := range found {
		if t != nil {
			out = append(out, *t)
		}
	}
	return out, nil
}

// IssueRequest carries the arguments of Issue. UnitPrice is a fiat amount.
type IssueRequest struct {
	Category   Category
	Quantity   uint64
	UnitPrice  money.Amount
	Deadline   time.Time
	Location   string
	ContentRef string
}

func (c *Client) validateIssue(req *IssueRequest) error {
	now := c.cfg.Now()
	switch {
	case !req.Category.Valid():
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown crop category %q", req.Category)}
	case req.Quantity == 0:
		return &ValidationError{Field: "quantity", Reason: "must be greater than zero"}
	case req.UnitPrice.Denomination() != money.Fiat:
		return &ValidationError{Field: "unit_price", Reason: "must be a fiat amount"}
	case !req.Deadline.After(now):
		return &ValidationError{Field: "deadline", Reason: "must be in the future"}
	case req.Deadline.After(now.Add(c.cfg.MaxDeadlineHorizon)):
		return &ValidationError{Field: "deadline", Reason: fmt.Sprintf("must be within %s", c.cfg.MaxDeadlineHorizon)}
	case strings.TrimSpace(req.Location) == "":
		return &ValidationError{Field: "location", Reason: "must not be empty"}
	}
	return nil
}

// Issue converts the fiat unit price to base units, submits the issuance and
// returns the id carried by the resulting token-issued notification.
// Malformed input fails before any ledger interaction.
func (c *Client) Issue(ctx context.Context, req IssueRequest) (TokenID, error) {
	if err := c.validateIssue(&req); err != nil {
		return 0, err
	}

	unitPrice, err := c.conv.ToBaseUnits(req.UnitPrice)
	if err != nil {
		return 0, fmt.Errorf("issue: unit price: %w", err)
	}
	if !c.conv.VerifyRoundTrip(req.UnitPrice, unitPrice) {
		return 0, fmt.Errorf("issue: %w: %s did not survive the base-unit round trip", ErrPrecisionLoss, req.UnitPrice)
	}

	contentRef := req.ContentRef
	if contentRef == "" {
		if contentRef, err = NewContentRef(); err != nil {
			return 0, err
		}
	}

	issuer := c.account.Address()
	log := c.logger.With(zap.String("operation", "issue"), zap.String("issuer", string(issuer)))

	verified, err := c.ledger.IsVerified(ctx, issuer)
	if err != nil {
		return 0, fmt.Errorf("issue: verification flag: %w", err)
	}
	if !verified {
		return 0, fmt.Errorf("issue: %w: issuer %s is not verified", ErrUnauthorized, issuer)
	}

	w := Write{
		Kind: WriteIssue,
		From: issuer,
		Issue: &IssueParams{
			Category:   req.Category,
			Quantity:   req.Quantity,
			UnitPrice:  unitPrice.BaseUnits(),
			Deadline:   req.Deadline.Unix(),
			Location:   strings.TrimSpace(req.Location),
			ContentRef: contentRef,
		},
	}

	cost, err := c.account.EstimateCost(ctx, w)
	if err != nil {
		return 0, fmt.Errorf("issue: estimate cost: %w", err)
	}
	w.CostLimit = applyMultiplier(cost, c.cfg.IssueCostMultiplier)

	balance, err := c.account.Balance(ctx)
	if err != nil {
		return 0, fmt.Errorf("issue: balance: %w", err)
	}
	if balance.Cmp(w.CostLimit) < 0 {
		return 0, newInsufficientBalance("cost", w.CostLimit, balance)
	}

	log.Info("Submitting issuance",
		zap.String("category", string(req.Category)),
		zap.Uint64("quantity", req.Quantity),
		zap.Stringer("unit_price_fiat", req.UnitPrice),
		zap.Stringer("unit_price_base", unitPrice))

	receipt, err := c.submit(ctx, w, "")
	if err != nil {
		return 0, err
	}

	for _, n := range receipt.Notifications {
		if n.Kind == TokenIssued && (n.Issuer == "" || n.Issuer == issuer) {
			log.Info("Token issued", zap.Stringer("token_id", n.TokenID), zap.String("hash", receipt.Hash))
			return n.TokenID, nil
		}
	}
	return 0, NewTransientError("issue", fmt.Errorf("%w (write %s)", ErrNotIssued, receipt.Hash))
}

// Acquire buys a token at the ledger's price. hint is the caller's expected
// total; it is logged when it disagrees and otherwise ignored.
func (c *Client) Acquire(ctx context.Context, id TokenID, hint money.Amount) (*Receipt, error) {
	buyer := c.account.Address()
	log := c.logger.With(
		zap.String("operation", "acquire"),
		zap.Stringer("token_id", id),
		zap.String("buyer", string(buyer)))

	token, err := c.Token(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("acquire: %w", err)
	}
	switch {
	case token.State == StateSold || token.State == StateDelivered:
		return nil, fmt.Errorf("acquire %s: %w", id, ErrAlreadySold)
	case token.State == StateWithdrawn:
		return nil, fmt.Errorf("acquire %s: %w", id, &RejectedError{Reason: "token withdrawn by issuer", Kind: ErrRejected})
	case token.State != StateAvailable:
		return nil, fmt.Errorf("acquire %s: %w", id, &RejectedError{Reason: "token not available", Kind: ErrRejected})
	case token.Expired(c.cfg.Now()):
		return nil, fmt.Errorf("acquire %s: %w", id, ErrExpired)
	}

	total := token.TotalPrice()
	payment := token.TotalBaseUnits().BaseUnits()
	if hint.Denomination() == money.Native && !hint.Equal(total) {
		log.Warn("Client price hint differs from ledger total, paying ledger total",
			zap.Stringer("hint", hint),
			zap.Stringer("ledger_total", total))
	}
	if payment.Sign() <= 0 {
		return nil, fmt.Errorf("acquire %s: %w: ledger total is %s", id, ErrAmountTooSmall, total)
	}

	balance, err := c.account.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire: balance: %w", err)
	}
	needed := new(big.Int).Add(payment, c.cfg.FeeBuffer)
	if balance.Cmp(needed) < 0 {
		return nil, newInsufficientBalance("preflight", needed, balance)
	}

	w := Write{Kind: WriteAcquire, From: buyer, TokenID: id, Payment: payment}
	cost, err := c.account.EstimateCost(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("acquire: estimate cost: %w", err)
	}
	w.CostLimit = applyMultiplier(cost, c.cfg.AcquireCostMultiplier)

	needed = new(big.Int).Add(payment, w.CostLimit)
	if balance.Cmp(needed) < 0 {
		return nil, newInsufficientBalance("cost", needed, balance)
	}

	log.Info("Submitting acquisition",
		zap.Stringer("total", total),
		zap.String("payment_base", payment.String()),
		zap.String("cost_limit", w.CostLimit.String()))
	return c.submit(ctx, w, id.String())
}

// ConfirmDelivery marks a sold token delivered. Only the issuer or the
// counterparty may confirm.
func (c *Client) ConfirmDelivery(ctx context.Context, id TokenID) (*Receipt, error) {
	caller := c.account.Address()
	token, err := c.Token(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("confirm delivery: %w", err)
	}
	switch {
	case !token.IsParty(caller):
		return nil, fmt.Errorf("confirm delivery %s: %w: %s is neither issuer nor counterparty", id, ErrUnauthorized, caller)
	case token.State == StateDelivered:
		return nil, fmt.Errorf("confirm delivery %s: %w", id, ErrAlreadyDelivered)
	case token.State != StateSold:
		return nil, fmt.Errorf("confirm delivery %s: %w", id, &RejectedError{Reason: "token not sold", Kind: ErrRejected})
	}

	w := Write{Kind: WriteConfirmDelivery, From: caller, TokenID: id}
	if err := c.withCostLimit(ctx, &w, c.cfg.IssueCostMultiplier); err != nil {
		return nil, fmt.Errorf("confirm delivery: %w", err)
	}
	return c.submit(ctx, w, id.String())
}

// Withdraw removes an unsold token. Only its issuer may withdraw it.
func (c *Client) Withdraw(ctx context.Context, id TokenID) (*Receipt, error) {
	caller := c.account.Address()
	token, err := c.Token(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("withdraw: %w", err)
	}
	switch {
	case token.Issuer != caller:
		return nil, fmt.Errorf("withdraw %s: %w: not the issuer", id, ErrUnauthorized)
	case token.State == StateSold || token.State == StateDelivered:
		return nil, fmt.Errorf("withdraw %s: %w", id, ErrAlreadySold)
	case token.State != StateAvailable:
		return nil, fmt.Errorf("withdraw %s: %w", id, &RejectedError{Reason: "token not available", Kind: ErrRejected})
	}

	w := Write{Kind: WriteWithdraw, From: caller, TokenID: id}
	if err := c.withCostLimit(ctx, &w, c.cfg.IssueCostMultiplier); err != nil {
		return nil, fmt.Errorf("withdraw: %w", err)
	}
	return c.submit(ctx, w, id.String())
}

// IssueAsync runs Issue in the background and exposes its status.
func (c *Client) IssueAsync(ctx context.Context, req IssueRequest) *transaction.Pending[TokenID] {
	return transaction.Go(ctx, func(ctx context.Context) (TokenID, error) {
		return c.Issue(ctx, req)
	})
}

// AcquireAsync runs Acquire in the background and exposes its status.
func (c *Client) AcquireAsync(ctx context.Context, id TokenID, hint money.Amount) *transaction.Pending[*Receipt] {
	return transaction.Go(ctx, func(ctx context.Context) (*Receipt, error) {
		return c.Acquire(ctx, id, hint)
	})
}

// ConfirmDeliveryAsync runs ConfirmDelivery in the background and exposes its status.
func (c *Client) ConfirmDeliveryAsync(ctx context.Context, id TokenID) *transaction.Pending[*Receipt] {
	return transaction.Go(ctx, func(ctx context.Context) (*Receipt, error) {
		return c.ConfirmDelivery(ctx, id)
	})
}

// WithdrawAsync runs Withdraw in the background and exposes its status.
func (c *Client) WithdrawAsync(ctx context.Context, id TokenID) *transaction.Pending[*Receipt] {
	return transaction.Go(ctx, func(ctx context.Context) (*Receipt, error) {
		return c.Withdraw(ctx, id)
	})
}

func (c *Client) withCostLimit(ctx context.Context, w *Write, multiplier decimal.Decimal) error {
	cost, err := c.account.EstimateCost(ctx, *w)
	if err != nil {
		return fmt.Errorf("estimate cost: %w", err)
	}
	w.CostLimit = applyMultiplier(cost, multiplier)
	return nil
}

// submit sends w once and waits for its receipt. It never retries: a send
// or wait that fails without a definite answer is reported as transient.
func (c *Client) submit(ctx context.Context, w Write, tokenID string) (*Receipt, error) {
	payment := ""
	if w.Payment != nil {
		payment = w.Payment.String()
	}
	writeID := c.tracker.Begin(ctx, transaction.Intent{
		Kind:    string(w.Kind),
		Account: string(w.From),
		TokenID: tokenID,
		Payment: payment,
	})
	log := c.logger.With(zap.String("write_id", writeID), zap.String("write_kind", string(w.Kind)))

	ctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()

	hash, err := c.account.Send(ctx, w)
	if err != nil {
		err = classifyWriteError(string(w.Kind), err)
		c.tracker.Fail(ctx, writeID, err, IsTransient(err))
		log.Warn("Write not accepted", zap.Error(err))
		return nil, err
	}
	c.tracker.MarkSubmitted(ctx, writeID, hash)
	log.Info("Write submitted", zap.String("hash", hash))

	var receipt *Receipt
	err = c.monitor.AwaitConfirmation(ctx, hash, func(ctx context.Context) (bool, error) {
		r, err := c.account.Receipt(ctx, hash)
		if err != nil {
			return false, err
		}
		receipt = r
		return r != nil, nil
	})
	if err != nil {
		err = NewTransientError(string(w.Kind), fmt.Errorf("awaiting %s: %w", hash, err))
		c.tracker.Fail(ctx, writeID, err, true)
		log.Warn("Write outcome unknown, re-query the ledger before retrying", zap.Error(err))
		return nil, err
	}

	if !receipt.Success {
		err = ClassifyRejection(receipt.RevertReason)
		c.tracker.Fail(ctx, writeID, err, false)
		log.Warn("Write reverted", zap.String("hash", hash), zap.Error(err))
		return nil, err
	}

	c.tracker.Settle(ctx, writeID, receipt.BlockRef)
	log.Info("Write settled",
		zap.String("hash", hash),
		zap.Uint64("block_ref", receipt.BlockRef),
		zap.Stringer("cost_used", receipt.CostUsed))
	return receipt, nil
}

// classifyWriteError keeps taxonomy errors and turns context expiry into a
// transient failure, since the write may already have reached the ledger.
func classifyWriteError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewTransientError(op, err)
	}
	return err
}

func applyMultiplier(cost *big.Int, multiplier decimal.Decimal) *big.Int {
	if cost == nil {
		return new(big.Int)
	}
	return decimal.NewFromBigInt(cost, 0).Mul(multiplier).Ceil().BigInt()
}
