// internal/ledger/rpcledger/gateway.go
package rpcledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
	"github.com/rovshanmuradov/agro-ledger/internal/wallet"
	"go.uber.org/zap"
)

// AccountSource resolves the account provider acting for addr.
type AccountSource func(addr ledger.Address) ledger.AccountProvider

// Gateway serves a ledger over the same JSON-RPC and websocket protocol the
// Ledger client speaks. Writes must arrive signed by the account they act for.
type Gateway struct {
	backend  ledger.Ledger
	accounts AccountSource
	logger   *zap.Logger
	upgrader websocket.Upgrader
	handlers map[string]handlerFunc

	nextSub atomic.Uint64
}

type handlerFunc func(ctx context.Context, params []json.RawMessage) (interface{}, error)

// WSPath is where the gateway accepts notification subscriptions.
const WSPath = "/ws"

func NewGateway(backend ledger.Ledger, accounts AccountSource, logger *zap.Logger) *Gateway {
	g := &Gateway{
		backend:  backend,
		accounts: accounts,
		logger:   logger.Named("gateway"),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
	g.handlers = map[string]handlerFunc{
		MethodGetToken:      g.getToken,
		MethodListAvailable: g.listAvailable,
		MethodListIssuer:    g.listIssuer,
		MethodGetStats:      g.getStats,
		MethodIsVerified:    g.isVerified,
		MethodPlatformFee:   g.platformFee,
		MethodGetBalance:    g.getBalance,
		MethodEstimateCost:  g.estimateCost,
		MethodSendWrite:     g.sendWrite,
		MethodGetReceipt:    g.getReceipt,
	}
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == WSPath && websocket.IsWebSocketUpgrade(r) {
		g.serveWS(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req wireMessage
	resp := wireMessage{JSONRPC: jsonrpcVersion}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.Error = &wireError{Code: CodeInvalidRequest, Message: err.Error()}
	} else {
		resp.ID = req.ID
		result, rpcErr := g.dispatch(r.Context(), req)
		if rpcErr != nil {
			resp.Error = rpcErr
		} else if resp.Result, err = json.Marshal(result); err != nil {
			resp.Error = &wireError{Code: CodeInternal, Message: err.Error()}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		g.logger.Debug("Failed to write response", zap.Error(err))
	}
}

func (g *Gateway) dispatch(ctx context.Context, req wireMessage) (interface{}, *wireError) {
	h, ok := g.handlers[req.Method]
	if !ok {
		return nil, &wireError{Code: CodeMethodNotFound, Message: "method not found: " + req.Method}
	}
	var params []json.RawMessage
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, &wireError{Code: CodeInvalidParams, Message: err.Error()}
		}
	}
	result, err := h(ctx, params)
	if err != nil {
		return nil, toWireError(err)
	}
	return result, nil
}

// toWireError maps the ledger taxonomy onto JSON-RPC errors. Reverts carry
// the ledger's own reason text so the client can classify it again.
func toWireError(err error) *wireError {
	var (
		rejected *ledger.RejectedError
		invalid  *paramError
	)
	switch {
	case errors.As(err, &invalid):
		return &wireError{Code: CodeInvalidParams, Message: invalid.Error()}
	case errors.Is(err, wallet.ErrBadSignature):
		return &wireError{Code: CodeUnauthorized, Message: "Not authorized: " + err.Error()}
	case errors.As(err, &rejected):
		return &wireError{Code: CodeRevert, Message: rejected.Reason}
	case errors.Is(err, ledger.ErrTokenNotFound):
		return &wireError{Code: CodeRevert, Message: "Token does not exist"}
	case errors.Is(err, ledger.ErrValidation):
		return &wireError{Code: CodeInvalidParams, Message: err.Error()}
	default:
		return &wireError{Code: CodeInternal, Message: err.Error()}
	}
}

type paramError struct {
	index  int
	reason string
}

func (e *paramError) Error() string {
	return fmt.Sprintf("invalid params: #%d %s", e.index, e.reason)
}

func param[T any](params []json.RawMessage, i int) (T, error) {
	var out T
	if i >= len(params) {
		return out, &paramError{index: i, reason: "missing"}
	}
	if err := json.Unmarshal(params[i], &out); err != nil {
		return out, &paramError{index: i, reason: err.Error()}
	}
	return out, nil
}

func (g *Gateway) getToken(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	id, err := param[uint64](params, 0)
	if err != nil {
		return nil, err
	}
	raw, err := g.backend.GetToken(ctx, ledger.TokenID(id))
	if err != nil {
		return nil, err
	}
	return toWireToken(raw), nil
}

func (g *Gateway) listAvailable(ctx context.Context, _ []json.RawMessage) (interface{}, error) {
	ids, err := g.backend.ListAvailable(ctx)
	return fromIDs(ids), err
}

func (g *Gateway) listIssuer(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	addr, err := param[string](params, 0)
	if err != nil {
		return nil, err
	}
	ids, err := g.backend.ListIssuerTokens(ctx, ledger.Address(addr))
	return fromIDs(ids), err
}

func (g *Gateway) getStats(ctx context.Context, _ []json.RawMessage) (interface{}, error) {
	raw, err := g.backend.GetSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return wireSnapshot{
		Total:       raw.Total,
		Available:   raw.Available,
		Sold:        raw.Sold,
		TotalVolume: NewQuantity(raw.TotalVolume),
	}, nil
}

func (g *Gateway) isVerified(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	addr, err := param[string](params, 0)
	if err != nil {
		return nil, err
	}
	return g.backend.IsVerified(ctx, ledger.Address(addr))
}

func (g *Gateway) platformFee(ctx context.Context, _ []json.RawMessage) (interface{}, error) {
	return g.backend.PlatformFeeBasisPoints(ctx)
}

func (g *Gateway) getBalance(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	addr, err := param[string](params, 0)
	if err != nil {
		return nil, err
	}
	b, err := g.accounts(ledger.Address(addr)).Balance(ctx)
	if err != nil {
		return nil, err
	}
	return NewQuantity(b), nil
}

func (g *Gateway) estimateCost(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	w, err := param[ledger.Write](params, 0)
	if err != nil {
		return nil, err
	}
	c, err := g.accounts(w.From).EstimateCost(ctx, w)
	if err != nil {
		return nil, err
	}
	return NewQuantity(c), nil
}

func (g *Gateway) sendWrite(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	signed, err := param[wallet.SignedWrite](params, 0)
	if err != nil {
		return nil, err
	}
	w, err := signed.Verify()
	if err != nil {
		return nil, err
	}
	hash, err := g.accounts(w.From).Send(ctx, *w)
	if err != nil {
		return nil, err
	}
	g.logger.Info("Write accepted",
		zap.String("kind", string(w.Kind)),
		zap.String("from", string(w.From)),
		zap.String("hash", hash))
	return hash, nil
}

func (g *Gateway) getReceipt(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	hash, err := param[string](params, 0)
	if err != nil {
		return nil, err
	}
	addr, err := param[string](params, 1)
	if err != nil {
		return nil, err
	}
	r, err := g.accounts(ledger.Address(addr)).Receipt(ctx, hash)
	if err != nil || r == nil {
		return nil, err
	}
	return toWireReceipt(r), nil
}

func fromIDs(ids []ledger.TokenID) []uint64 {
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return out
}

// serveWS accepts one subscription per connection and relays backend
// notifications until either side goes away.
func (g *Gateway) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	var req wireMessage
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	if err := conn.ReadJSON(&req); err != nil {
		return
	}
	conn.SetReadDeadline(time.Time{})
	if req.Method != MethodSubscribe {
		conn.WriteJSON(wireMessage{JSONRPC: jsonrpcVersion, ID: req.ID,
			Error: &wireError{Code: CodeMethodNotFound, Message: "expected " + MethodSubscribe}})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	notes, errs, err := g.backend.Subscribe(ctx)
	if err != nil {
		conn.WriteJSON(wireMessage{JSONRPC: jsonrpcVersion, ID: req.ID, Error: toWireError(err)})
		return
	}

	subID := g.nextSub.Add(1)
	ack, _ := json.Marshal(subID)
	var writeMu sync.Mutex
	write := func(m wireMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(m)
	}
	if err := write(wireMessage{JSONRPC: jsonrpcVersion, ID: req.ID, Result: ack}); err != nil {
		return
	}
	g.logger.Debug("Subscription opened", zap.Uint64("subscription", subID))

	// drain client frames so pings and close frames are processed
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			g.logger.Warn("Backend stream failed, closing subscription", zap.Error(err))
			return
		case n, ok := <-notes:
			if !ok {
				return
			}
			params, _ := json.Marshal(notificationParams{Subscription: subID, Result: toWireNotification(n)})
			if err := write(wireMessage{JSONRPC: jsonrpcVersion, Method: MethodNotification, Params: params}); err != nil {
				return
			}
		}
	}
}
