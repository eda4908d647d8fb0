// internal/ledger/memledger/memledger.go
package memledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
)

// Revert reasons, worded as the deployed marketplace contract words them.
const (
	ReasonNotVerified      = "Farmer not verified"
	ReasonQuantity         = "Quantity must be greater than 0"
	ReasonPrice            = "Price must be greater than 0"
	ReasonDeadline         = "Delivery date must be in future"
	ReasonNotFound         = "Token does not exist"
	ReasonAlreadySold      = "Token already sold"
	ReasonDeadlinePassed   = "Delivery date passed"
	ReasonPayment          = "Insufficient payment"
	ReasonNotSold          = "Token not sold"
	ReasonNotAuthorized    = "Not authorized"
	ReasonAlreadyDelivered = "Already delivered"
	ReasonNotOwner         = "Not token owner"
	ReasonWithdrawn        = "Token withdrawn"
	ReasonCostLimit        = "out of gas: cost limit below required cost"
	ReasonFunds            = "insufficient funds for cost plus payment"
)

// MaxPlatformFee is the highest fee the ledger accepts, 10%.
const MaxPlatformFee = 1000

var ErrFeeTooHigh = errors.New("fee cannot exceed 10%")

// Costs are the flat resource costs charged per write kind, base units.
type Costs map[ledger.WriteKind]*big.Int

func DefaultCosts() Costs {
	return Costs{
		ledger.WriteIssue:           big.NewInt(300_000_000_000_000),
		ledger.WriteAcquire:         big.NewInt(100_000_000_000_000),
		ledger.WriteConfirmDelivery: big.NewInt(50_000_000_000_000),
		ledger.WriteWithdraw:        big.NewInt(50_000_000_000_000),
	}
}

type Option func(*Ledger)

// WithClock overrides the ledger's notion of now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithCosts(c Costs) Option {
	return func(l *Ledger) { l.costs = c }
}

// WithPlatformFee sets the fee in basis points.
func WithPlatformFee(bps uint64) Option {
	return func(l *Ledger) { l.feeBps = bps }
}

// Ledger is an in-process marketplace ledger. Writes are applied
// atomically under one lock, the way the contract applies them in one
// transaction. It serves the simulate command and tests.
type Ledger struct {
	mu       sync.Mutex
	tokens   map[ledger.TokenID]*ledger.RawToken
	order    []ledger.TokenID
	nextID   ledger.TokenID
	verified map[ledger.Address]bool
	balances map[ledger.Address]*big.Int
	receipts map[string]*ledger.Receipt
	volume   *big.Int
	fees     *big.Int
	feeBps   uint64
	costs    Costs
	block    uint64
	seq      uint64
	now      func() time.Time

	subs    map[int]*subscription
	nextSub int

	faults faults
}

type subscription struct {
	notes chan ledger.Notification
	errs  chan error
}

type faults struct {
	readErr      error
	sendErr      error
	sendErrOnce  bool
	withhold     bool
	withheldSeen map[string]*ledger.Receipt
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		tokens:   make(map[ledger.TokenID]*ledger.RawToken),
		verified: make(map[ledger.Address]bool),
		balances: make(map[ledger.Address]*big.Int),
		receipts: make(map[string]*ledger.Receipt),
		volume:   new(big.Int),
		fees:     new(big.Int),
		feeBps:   250,
		costs:    DefaultCosts(),
		now:      time.Now,
		subs:     make(map[int]*subscription),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Verify marks addr as a verified issuer.
func (l *Ledger) Verify(addr ledger.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verified[addr] = true
}

// Fund credits addr with amount base units.
func (l *Ledger) Fund(addr ledger.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balanceOf(addr).Add(l.balanceOf(addr), amount)
}

// SetPlatformFee changes the fee in basis points.
func (l *Ledger) SetPlatformFee(bps uint64) error {
	if bps > MaxPlatformFee {
		return ErrFeeTooHigh
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.feeBps = bps
	return nil
}

// CollectedFees returns the platform fees accumulated so far.
func (l *Ledger) CollectedFees() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.fees)
}

// BalanceOf returns a copy of addr's balance.
func (l *Ledger) BalanceOf(addr ledger.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceOf(addr))
}

// FailReads makes every read return err until called with nil.
func (l *Ledger) FailReads(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults.readErr = err
}

// FailNextSend makes the next Send return err without touching state.
func (l *Ledger) FailNextSend(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults.sendErr = err
	l.faults.sendErrOnce = true
}

// WithholdReceipts applies writes but hides their receipts, as a ledger
// that accepted a write the caller never hears back about.
func (l *Ledger) WithholdReceipts(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults.withhold = on
}

// DropSubscriptions fails every open subscription with err.
func (l *Ledger) DropSubscriptions(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, s := range l.subs {
		s.errs <- err
		close(s.notes)
		delete(l.subs, id)
	}
}

// Seed inserts a token directly, bypassing issuance rules. Used to build
// fixtures such as already-expired tokens.
func (l *Ledger) Seed(raw ledger.RawToken) ledger.TokenID {
	l.mu.Lock()
	defer l.mu.Unlock()
	raw.ID = l.nextID
	l.nextID++
	if raw.UnitPrice != nil {
		raw.UnitPrice = new(big.Int).Set(raw.UnitPrice)
	} else {
		raw.UnitPrice = new(big.Int)
	}
	if raw.CreatedAt == 0 {
		raw.CreatedAt = l.now().Unix()
	}
	l.tokens[raw.ID] = &raw
	l.order = append(l.order, raw.ID)
	return raw.ID
}

// Account returns an AccountProvider acting as addr.
func (l *Ledger) Account(addr ledger.Address) *Account {
	return &Account{ledger: l, addr: addr, changes: make(chan ledger.AccountChange, 4)}
}

func (l *Ledger) balanceOf(addr ledger.Address) *big.Int {
	b, ok := l.balances[addr]
	if !ok {
		b = new(big.Int)
		l.balances[addr] = b
	}
	return b
}

func (l *Ledger) readable() error {
	if l.faults.readErr != nil {
		return ledger.NewTransientError("read", l.faults.readErr)
	}
	return nil
}

func (l *Ledger) GetToken(ctx context.Context, id ledger.TokenID) (*ledger.RawToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.readable(); err != nil {
		return nil, err
	}

	t, ok := l.tokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrTokenNotFound, id)
	}
	cp := *t
	cp.UnitPrice = new(big.Int).Set(t.UnitPrice)
	return &cp, nil
}

func (l *Ledger) ListAvailable(ctx context.Context) ([]ledger.TokenID, error) {
	return l.list(ctx, func(t *ledger.RawToken) bool { return !t.IsSold && !t.IsWithdrawn })
}

func (l *Ledger) ListIssuerTokens(ctx context.Context, issuer ledger.Address) ([]ledger.TokenID, error) {
	return l.list(ctx, func(t *ledger.RawToken) bool { return t.Issuer == issuer })
}

func (l *Ledger) list(ctx context.Context, keep func(*ledger.RawToken) bool) ([]ledger.TokenID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.readable(); err != nil {
		return nil, err
	}

	ids := make([]ledger.TokenID, 0, len(l.order))
	for _, id := range l.order {
		if keep(l.tokens[id]) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (l *Ledger) GetSnapshot(ctx context.Context) (*ledger.RawSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.readable(); err != nil {
		return nil, err
	}

	snap := &ledger.RawSnapshot{Total: uint64(len(l.order)), TotalVolume: new(big.Int).Set(l.volume)}
	for _, t := range l.tokens {
		switch {
		case t.IsSold:
			snap.Sold++
		case !t.IsWithdrawn:
			snap.Available++
		}
	}
	return snap, nil
}

func (l *Ledger) IsVerified(ctx context.Context, addr ledger.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.readable(); err != nil {
		return false, err
	}
	return l.verified[addr], nil
}

func (l *Ledger) PlatformFeeBasisPoints(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.feeBps, nil
}

// Subscribe registers a notification stream that lives until ctx ends.
func (l *Ledger) Subscribe(ctx context.Context) (<-chan ledger.Notification, <-chan error, error) {
	l.mu.Lock()
	if err := l.readable(); err != nil {
		l.mu.Unlock()
		return nil, nil, err
	}
	id := l.nextSub
	l.nextSub++
	s := &subscription{notes: make(chan ledger.Notification, 64), errs: make(chan error, 1)}
	l.subs[id] = s
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, ok := l.subs[id]; ok {
			close(s.notes)
			delete(l.subs, id)
		}
	}()
	return s.notes, s.errs, nil
}

// broadcast delivers n to every subscriber without blocking; a full
// subscriber misses the notification. Callers hold l.mu.
func (l *Ledger) broadcast(n ledger.Notification) {
	for _, s := range l.subs {
		select {
		case s.notes <- n:
		default:
		}
	}
}

// apply executes w for from and returns the receipt. Callers hold l.mu.
func (l *Ledger) apply(w ledger.Write) (*ledger.Receipt, error) {
	cost := l.costs[w.Kind]
	if cost == nil {
		cost = new(big.Int)
	}
	payment := w.Payment
	if payment == nil {
		payment = new(big.Int)
	}

	balance := l.balanceOf(w.From)
	if new(big.Int).Add(cost, payment).Cmp(balance) > 0 {
		return nil, ledger.ClassifyRejection(ReasonFunds)
	}

	l.seq++
	l.block++
	receipt := &ledger.Receipt{
		Hash:     fmt.Sprintf("0x%064x", l.seq),
		BlockRef: l.block,
		CostUsed: new(big.Int).Set(cost),
	}

	if w.CostLimit != nil && w.CostLimit.Cmp(cost) < 0 {
		// out-of-cost writes consume the whole limit
		receipt.CostUsed.Set(w.CostLimit)
		balance.Sub(balance, w.CostLimit)
		receipt.RevertReason = ReasonCostLimit
		return receipt, nil
	}
	balance.Sub(balance, cost)

	var (
		note   ledger.Notification
		reason string
	)
	switch w.Kind {
	case ledger.WriteIssue:
		note, reason = l.issue(w)
	case ledger.WriteAcquire:
		note, reason = l.acquire(w, payment)
	case ledger.WriteConfirmDelivery:
		note, reason = l.confirm(w)
	case ledger.WriteWithdraw:
		note, reason = l.withdraw(w)
	default:
		reason = "unknown write " + string(w.Kind)
	}

	if reason != "" {
		receipt.RevertReason = reason
		return receipt, nil
	}
	note.BlockRef = receipt.BlockRef
	receipt.Success = true
	receipt.Notifications = []ledger.Notification{note}
	l.broadcast(note)
	return receipt, nil
}

func (l *Ledger) issue(w ledger.Write) (ledger.Notification, string) {
	p := w.Issue
	switch {
	case p == nil:
		return ledger.Notification{}, "missing issue parameters"
	case !l.verified[w.From]:
		return ledger.Notification{}, ReasonNotVerified
	case p.Quantity == 0:
		return ledger.Notification{}, ReasonQuantity
	case p.UnitPrice == nil || p.UnitPrice.Sign() <= 0:
		return ledger.Notification{}, ReasonPrice
	case p.Deadline <= l.now().Unix():
		return ledger.Notification{}, ReasonDeadline
	}

	id := l.nextID
	l.nextID++
	l.tokens[id] = &ledger.RawToken{
		ID:         id,
		Issuer:     w.From,
		Category:   string(p.Category),
		Quantity:   p.Quantity,
		UnitPrice:  new(big.Int).Set(p.UnitPrice),
		Deadline:   p.Deadline,
		CreatedAt:  l.now().Unix(),
		Location:   p.Location,
		ContentRef: p.ContentRef,
	}
	l.order = append(l.order, id)

	return ledger.Notification{
		Kind:      ledger.TokenIssued,
		TokenID:   id,
		Issuer:    w.From,
		Category:  string(p.Category),
		Quantity:  p.Quantity,
		UnitPrice: new(big.Int).Set(p.UnitPrice),
	}, ""
}

func (l *Ledger) acquire(w ledger.Write, payment *big.Int) (ledger.Notification, string) {
	t, ok := l.tokens[w.TokenID]
	switch {
	case !ok:
		return ledger.Notification{}, ReasonNotFound
	case t.IsWithdrawn:
		return ledger.Notification{}, ReasonWithdrawn
	case t.IsSold:
		return ledger.Notification{}, ReasonAlreadySold
	case t.Deadline <= l.now().Unix():
		return ledger.Notification{}, ReasonDeadlinePassed
	}

	total := new(big.Int).Mul(t.UnitPrice, new(big.Int).SetUint64(t.Quantity))
	if payment.Cmp(total) < 0 {
		return ledger.Notification{}, ReasonPayment
	}

	fee := new(big.Int).Mul(total, new(big.Int).SetUint64(l.feeBps))
	fee.Quo(fee, big.NewInt(10_000))

	buyer := l.balanceOf(w.From)
	buyer.Sub(buyer, total)
	issuer := l.balanceOf(t.Issuer)
	issuer.Add(issuer, new(big.Int).Sub(total, fee))
	l.fees.Add(l.fees, fee)
	l.volume.Add(l.volume, total)

	t.IsSold = true
	t.Counterparty = w.From

	return ledger.Notification{
		Kind:         ledger.TokenSold,
		TokenID:      t.ID,
		Issuer:       t.Issuer,
		Counterparty: w.From,
		TotalPrice:   total,
	}, ""
}

func (l *Ledger) confirm(w ledger.Write) (ledger.Notification, string) {
	t, ok := l.tokens[w.TokenID]
	switch {
	case !ok:
		return ledger.Notification{}, ReasonNotFound
	case !t.IsSold:
		return ledger.Notification{}, ReasonNotSold
	case w.From != t.Issuer && w.From != t.Counterparty:
		return ledger.Notification{}, ReasonNotAuthorized
	case t.IsDelivered:
		return ledger.Notification{}, ReasonAlreadyDelivered
	}
	t.IsDelivered = true
	return ledger.Notification{Kind: ledger.TokenDelivered, TokenID: t.ID, Issuer: t.Issuer, Counterparty: t.Counterparty}, ""
}

func (l *Ledger) withdraw(w ledger.Write) (ledger.Notification, string) {
	t, ok := l.tokens[w.TokenID]
	switch {
	case !ok || t.IsWithdrawn:
		return ledger.Notification{}, ReasonNotFound
	case t.Issuer != w.From:
		return ledger.Notification{}, ReasonNotOwner
	case t.IsSold:
		return ledger.Notification{}, ReasonAlreadySold
	}
	t.IsWithdrawn = true
	return ledger.Notification{Kind: ledger.TokenWithdrawn, TokenID: t.ID, Issuer: t.Issuer}, ""
}

// Account signs and submits writes as one address of a Ledger.
type Account struct {
	ledger  *Ledger
	addr    ledger.Address
	changes chan ledger.AccountChange
}

var _ ledger.AccountProvider = (*Account)(nil)
var _ ledger.Ledger = (*Ledger)(nil)

func (a *Account) Address() ledger.Address { return a.addr }

func (a *Account) Balance(ctx context.Context) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.ledger.BalanceOf(a.addr), nil
}

func (a *Account) EstimateCost(ctx context.Context, w ledger.Write) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.ledger.mu.Lock()
	defer a.ledger.mu.Unlock()
	if c := a.ledger.costs[w.Kind]; c != nil {
		return new(big.Int).Set(c), nil
	}
	return new(big.Int), nil
}

// Send applies w immediately; the receipt is available right away unless
// receipts are withheld.
func (a *Account) Send(ctx context.Context, w ledger.Write) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if w.From == "" {
		w.From = a.addr
	}
	if w.From != a.addr {
		return "", ledger.ClassifyRejection(ReasonNotAuthorized)
	}

	l := a.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.faults.sendErr; err != nil {
		if l.faults.sendErrOnce {
			l.faults.sendErr = nil
		}
		return "", err
	}

	receipt, err := l.apply(w)
	if err != nil {
		return "", err
	}
	if l.faults.withhold {
		if l.faults.withheldSeen == nil {
			l.faults.withheldSeen = make(map[string]*ledger.Receipt)
		}
		l.faults.withheldSeen[receipt.Hash] = receipt
		return receipt.Hash, nil
	}
	l.receipts[receipt.Hash] = receipt
	return receipt.Hash, nil
}

func (a *Account) Receipt(ctx context.Context, hash string) (*ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := a.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.receipts[hash]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

// ReleaseReceipts publishes receipts that were withheld.
func (l *Ledger) ReleaseReceipts() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for h, r := range l.faults.withheldSeen {
		l.receipts[h] = r
	}
	l.faults.withheldSeen = nil
}

func (a *Account) Changes() <-chan ledger.AccountChange { return a.changes }

// Switch reports that the wallet switched to another account or network.
func (a *Account) Switch(change ledger.AccountChange) {
	select {
	case a.changes <- change:
	default:
	}
}

// Tokens returns every token in issue order, for inspection.
func (l *Ledger) Tokens() []ledger.RawToken {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ledger.RawToken, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.tokens[id])
	}
	return out
}

// Addresses lists funded accounts, for the simulate command's report.
func (l *Ledger) Addresses() []ledger.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ledger.Address, 0, len(l.balances))
	for a := range l.balances {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return strings.Compare(string(out[i]), string(out[j])) < 0 })
	return out
}
