// internal/ledger/rpcledger/wire.go
package rpcledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
)

// Ledger RPC methods.
const (
	MethodGetToken      = "agro_getToken"
	MethodListAvailable = "agro_getAvailableTokens"
	MethodListIssuer    = "agro_getIssuerTokens"
	MethodGetStats      = "agro_getStats"
	MethodIsVerified    = "agro_isVerified"
	MethodPlatformFee   = "agro_platformFee"
	MethodGetBalance    = "agro_getBalance"
	MethodEstimateCost  = "agro_estimateCost"
	MethodSendWrite     = "agro_sendWrite"
	MethodGetReceipt    = "agro_getReceipt"
	MethodSubscribe     = "agro_subscribe"
	MethodNotification  = "agro_notification"
	MethodUnsubscribe   = "agro_unsubscribe"
	subscriptionTopic   = "tokens"
	jsonrpcVersion      = "2.0"
)

// Quantity is a base-unit integer carried as a decimal string, so that no
// JSON decoder along the way can round it through a float.
type Quantity struct {
	big.Int
}

func NewQuantity(v *big.Int) *Quantity {
	if v == nil {
		return nil
	}
	q := &Quantity{}
	q.Set(v)
	return q
}

// Big returns a copy, nil for a nil quantity.
func (q *Quantity) Big() *big.Int {
	if q == nil {
		return nil
	}
	return new(big.Int).Set(&q.Int)
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.String())
}

func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if _, ok := q.SetString(string(data), 10); !ok {
		return fmt.Errorf("%w: bad quantity %q", ErrInvalidResponse, data)
	}
	return nil
}

type wireToken struct {
	ID           uint64    `json:"id"`
	Issuer       string    `json:"issuer"`
	Category     string    `json:"category"`
	Quantity     uint64    `json:"quantity"`
	UnitPrice    *Quantity `json:"unitPrice"`
	Deadline     int64     `json:"deliveryDate"`
	CreatedAt    int64     `json:"createdAt"`
	IsSold       bool      `json:"isSold"`
	IsDelivered  bool      `json:"isDelivered"`
	IsWithdrawn  bool      `json:"isWithdrawn"`
	Counterparty string    `json:"buyer,omitempty"`
	Location     string    `json:"location"`
	ContentRef   string    `json:"contentRef"`
}

func toWireToken(t *ledger.RawToken) *wireToken {
	return &wireToken{
		ID:           uint64(t.ID),
		Issuer:       string(t.Issuer),
		Category:     t.Category,
		Quantity:     t.Quantity,
		UnitPrice:    NewQuantity(t.UnitPrice),
		Deadline:     t.Deadline,
		CreatedAt:    t.CreatedAt,
		IsSold:       t.IsSold,
		IsDelivered:  t.IsDelivered,
		IsWithdrawn:  t.IsWithdrawn,
		Counterparty: string(t.Counterparty),
		Location:     t.Location,
		ContentRef:   t.ContentRef,
	}
}

func (w *wireToken) raw() *ledger.RawToken {
	return &ledger.RawToken{
		ID:           ledger.TokenID(w.ID),
		Issuer:       ledger.Address(w.Issuer),
		Category:     w.Category,
		Quantity:     w.Quantity,
		UnitPrice:    w.UnitPrice.Big(),
		Deadline:     w.Deadline,
		CreatedAt:    w.CreatedAt,
		IsSold:       w.IsSold,
		IsDelivered:  w.IsDelivered,
		IsWithdrawn:  w.IsWithdrawn,
		Counterparty: ledger.Address(w.Counterparty),
		Location:     w.Location,
		ContentRef:   w.ContentRef,
	}
}

type wireSnapshot struct {
	Total       uint64    `json:"totalTokens"`
	Available   uint64    `json:"availableTokens"`
	Sold        uint64    `json:"soldTokens"`
	TotalVolume *Quantity `json:"totalVolume"`
}

type wireNotification struct {
	Kind         string    `json:"kind"`
	TokenID      uint64    `json:"tokenId"`
	Issuer       string    `json:"issuer,omitempty"`
	Counterparty string    `json:"counterparty,omitempty"`
	Category     string    `json:"category,omitempty"`
	Quantity     uint64    `json:"quantity,omitempty"`
	UnitPrice    *Quantity `json:"unitPrice,omitempty"`
	TotalPrice   *Quantity `json:"totalPrice,omitempty"`
	BlockRef     uint64    `json:"blockRef,omitempty"`
}

func toWireNotification(n ledger.Notification) wireNotification {
	return wireNotification{
		Kind:         string(n.Kind),
		TokenID:      uint64(n.TokenID),
		Issuer:       string(n.Issuer),
		Counterparty: string(n.Counterparty),
		Category:     n.Category,
		Quantity:     n.Quantity,
		UnitPrice:    NewQuantity(n.UnitPrice),
		TotalPrice:   NewQuantity(n.TotalPrice),
		BlockRef:     n.BlockRef,
	}
}

func (w wireNotification) notification() ledger.Notification {
	return ledger.Notification{
		Kind:         ledger.NotificationKind(w.Kind),
		TokenID:      ledger.TokenID(w.TokenID),
		Issuer:       ledger.Address(w.Issuer),
		Counterparty: ledger.Address(w.Counterparty),
		Category:     w.Category,
		Quantity:     w.Quantity,
		UnitPrice:    w.UnitPrice.Big(),
		TotalPrice:   w.TotalPrice.Big(),
		BlockRef:     w.BlockRef,
	}
}

type wireReceipt struct {
	Hash          string             `json:"hash"`
	BlockRef      uint64             `json:"blockRef"`
	CostUsed      *Quantity          `json:"costUsed"`
	Success       bool               `json:"success"`
	RevertReason  string             `json:"revertReason,omitempty"`
	Notifications []wireNotification `json:"notifications,omitempty"`
}

func toWireReceipt(r *ledger.Receipt) *wireReceipt {
	out := &wireReceipt{
		Hash:         r.Hash,
		BlockRef:     r.BlockRef,
		CostUsed:     NewQuantity(r.CostUsed),
		Success:      r.Success,
		RevertReason: r.RevertReason,
	}
	for _, n := range r.Notifications {
		out.Notifications = append(out.Notifications, toWireNotification(n))
	}
	return out
}

func (w *wireReceipt) receipt() *ledger.Receipt {
	out := &ledger.Receipt{
		Hash:         w.Hash,
		BlockRef:     w.BlockRef,
		CostUsed:     w.CostUsed.Big(),
		Success:      w.Success,
		RevertReason: w.RevertReason,
	}
	for _, n := range w.Notifications {
		out.Notifications = append(out.Notifications, n.notification())
	}
	return out
}

// wireMessage is a JSON-RPC 2.0 envelope as it travels over the websocket.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *wireError) Error() string {
	return fmt.Sprintf("(%d) %s", e.Code, e.Message)
}

type notificationParams struct {
	Subscription uint64           `json:"subscription"`
	Result       wireNotification `json:"result"`
}
