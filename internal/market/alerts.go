// internal/market/alerts.go
package market

import (
	"fmt"
	"sync"
	"time"

	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
	"go.uber.org/zap"
)

// AlertType represents different types of alerts
type AlertType string

const (
	AlertDeliveryDue     AlertType = "delivery_due"
	AlertDeliveryOverdue AlertType = "delivery_overdue"
	AlertListingExpired  AlertType = "listing_expired"
	AlertTokenSold       AlertType = "token_sold"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert represents a triggered alert
type Alert struct {
	ID        string         `json:"id"`
	Type      AlertType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	TokenID   ledger.TokenID `json:"token_id"`
	Category  string         `json:"category"`
	Message   string         `json:"message"`
	Severity  Severity       `json:"severity"`
	DaysLeft  int            `json:"days_left"`
}

type AlertConfig struct {
	// DueWithin is how close a sold token's deadline must be before a
	// delivery_due alert fires.
	DueWithin time.Duration `json:"due_within"`

	// Alert cooldown per token and type
	Cooldown time.Duration `json:"cooldown"`
}

func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		DueWithin: 7 * 24 * time.Hour,
		Cooldown:  6 * time.Hour,
	}
}

// AlertHandler is called when an alert is triggered
type AlertHandler func(alert Alert)

// AlertManager checks the account's own tokens in each published View
// for delivery deadlines and state changes.
type AlertManager struct {
	mu     sync.RWMutex
	config AlertConfig
	logger *zap.Logger

	alerts    []Alert
	maxAlerts int
	history   map[string]time.Time // token/type -> last alert time
	states    map[ledger.TokenID]ledger.State
	seq       uint64

	handlers []AlertHandler
}

func NewAlertManager(config AlertConfig, logger *zap.Logger) *AlertManager {
	return &AlertManager{
		config:    config,
		logger:    logger.Named("alerts"),
		alerts:    make([]Alert, 0, 64),
		maxAlerts: 1000,
		history:   make(map[string]time.Time),
		states:    make(map[ledger.TokenID]ledger.State),
	}
}

func (am *AlertManager) AddHandler(handler AlertHandler) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.handlers = append(am.handlers, handler)
}

// CheckView evaluates every token in view.MyTokens and returns the alerts
// that fired. A nil or never-refreshed view triggers nothing.
func (am *AlertManager) CheckView(view *View, now time.Time) []Alert {
	if view == nil || view.Version == 0 {
		return nil
	}

	am.mu.Lock()
	defer am.mu.Unlock()

	var triggered []Alert
	seen := make(map[ledger.TokenID]ledger.State, len(view.MyTokens))
	for _, tok := range view.MyTokens {
		seen[tok.ID] = tok.State
		prev, known := am.states[tok.ID]

		if known && prev == ledger.StateAvailable && tok.State == ledger.StateSold {
			triggered = am.fire(triggered, tok, AlertTokenSold, SeverityInfo, now,
				fmt.Sprintf("Token %s (%s) was sold to %s", tok.ID, tok.Category, tok.Counterparty))
		}

		days := tok.DaysUntilDelivery(now)
		switch tok.State {
		case ledger.StateSold:
			left := tok.Deadline.Sub(now)
			if left <= 0 {
				triggered = am.fire(triggered, tok, AlertDeliveryOverdue, SeverityCritical, now,
					fmt.Sprintf("Delivery of token %s (%s) is overdue by %d days", tok.ID, tok.Category, -days))
			} else if left <= am.config.DueWithin {
				triggered = am.fire(triggered, tok, AlertDeliveryDue, SeverityWarning, now,
					fmt.Sprintf("Delivery of token %s (%s) is due in %d days", tok.ID, tok.Category, days))
			}
		case ledger.StateAvailable:
			if !tok.Deadline.After(now) {
				triggered = am.fire(triggered, tok, AlertListingExpired, SeverityInfo, now,
					fmt.Sprintf("Listing of token %s (%s) passed its delivery deadline unsold", tok.ID, tok.Category))
			}
		}
	}
	am.states = seen

	return triggered
}

// fire records the alert unless the token/type pair is cooling down.
func (am *AlertManager) fire(triggered []Alert, tok ledger.CropToken, typ AlertType, sev Severity, now time.Time, msg string) []Alert {
	key := fmt.Sprintf("%d/%s", tok.ID, typ)
	if last, ok := am.history[key]; ok && now.Sub(last) < am.config.Cooldown {
		return triggered
	}
	am.history[key] = now
	am.seq++

	alert := Alert{
		ID:        fmt.Sprintf("alert_%d_%d", now.UnixNano(), am.seq),
		Type:      typ,
		Timestamp: now,
		TokenID:   tok.ID,
		Category:  string(tok.Category),
		Message:   msg,
		Severity:  sev,
		DaysLeft:  tok.DaysUntilDelivery(now),
	}
	am.triggerAlert(alert)
	return append(triggered, alert)
}

func (am *AlertManager) triggerAlert(alert Alert) {
	if len(am.alerts) >= am.maxAlerts {
		am.alerts = am.alerts[1:]
	}
	am.alerts = append(am.alerts, alert)

	fields := []zap.Field{
		zap.String("type", string(alert.Type)),
		zap.Stringer("token", alert.TokenID),
		zap.String("message", alert.Message),
	}
	switch alert.Severity {
	case SeverityCritical:
		am.logger.Error("Alert triggered", fields...)
	case SeverityWarning:
		am.logger.Warn("Alert triggered", fields...)
	default:
		am.logger.Info("Alert triggered", fields...)
	}

	for _, handler := range am.handlers {
		go handler(alert)
	}
}

// RecentAlerts returns up to limit of the latest alerts, oldest first.
func (am *AlertManager) RecentAlerts(limit int) []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	if limit <= 0 || limit > len(am.alerts) {
		limit = len(am.alerts)
	}
	result := make([]Alert, limit)
	copy(result, am.alerts[len(am.alerts)-limit:])
	return result
}

func (am *AlertManager) AlertsByToken(id ledger.TokenID) []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	var result []Alert
	for _, alert := range am.alerts {
		if alert.TokenID == id {
			result = append(result, alert)
		}
	}
	return result
}

// ClearHistory resets cooldowns; remembered token states are kept.
func (am *AlertManager) ClearHistory() {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.history = make(map[string]time.Time)
}
