// ==================================
// File: internal/wallet/wallet.go
// ==================================
package wallet

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
)

var ErrBadSignature = errors.New("signature does not match signer")

// Wallet представляет ключ аккаунта в леджере (ed25519).
type Wallet struct {
	PrivateKey solana.PrivateKey
	PublicKey  solana.PublicKey
}

// NewWallet создаёт кошелёк из base58-encoded приватного ключа.
func NewWallet(privateKeyBase58 string) (*Wallet, error) {
	privateKeyBytes, err := base58.Decode(strings.TrimSpace(privateKeyBase58))
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(privateKeyBytes) != 64 {
		return nil, fmt.Errorf("invalid private key length: expected 64 bytes, got %d", len(privateKeyBytes))
	}
	privateKey := solana.PrivateKey(privateKeyBytes)
	return &Wallet{
		PrivateKey: privateKey,
		PublicKey:  privateKey.PublicKey(),
	}, nil
}

// Generate создаёт новый случайный кошелёк.
func Generate() (*Wallet, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &Wallet{PrivateKey: key, PublicKey: key.PublicKey()}, nil
}

// LoadWallets загружает кошельки из CSV-файла с колонками: [Name, PrivateKeyBase58].
// Строки с некорректным ключом пропускаются.
func LoadWallets(path string) (map[string]*Wallet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("CSV file is empty or missing data")
	}

	wallets := make(map[string]*Wallet)
	for _, record := range records[1:] {
		if len(record) != 2 {
			continue
		}
		w, err := NewWallet(record[1])
		if err != nil {
			continue
		}
		wallets[strings.TrimSpace(record[0])] = w
	}
	return wallets, nil
}

// Address возвращает адрес аккаунта в леджере (base58 публичного ключа).
func (w *Wallet) Address() ledger.Address {
	return ledger.Address(w.PublicKey.String())
}

// Sign подписывает произвольное сообщение.
func (w *Wallet) Sign(message []byte) (solana.Signature, error) {
	return w.PrivateKey.Sign(message)
}

// SignedWrite: подписанный конверт записи для отправки в леджер.
type SignedWrite struct {
	Signer    ledger.Address  `json:"signer"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// SignWrite сериализует запись и подписывает байты payload.
func (w *Wallet) SignWrite(write ledger.Write) (*SignedWrite, error) {
	if write.From != "" && write.From != w.Address() {
		return nil, fmt.Errorf("write from %s cannot be signed by %s", write.From, w.Address())
	}
	write.From = w.Address()

	payload, err := json.Marshal(write)
	if err != nil {
		return nil, fmt.Errorf("failed to encode write: %w", err)
	}
	sig, err := w.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to sign write: %w", err)
	}
	return &SignedWrite{
		Signer:    w.Address(),
		Payload:   payload,
		Signature: sig.String(),
	}, nil
}

// Verify проверяет подпись конверта и возвращает исходную запись.
func (s *SignedWrite) Verify() (*ledger.Write, error) {
	signer, err := solana.PublicKeyFromBase58(string(s.Signer))
	if err != nil {
		return nil, fmt.Errorf("invalid signer: %w", err)
	}
	sig, err := solana.SignatureFromBase58(s.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if !sig.Verify(signer, s.Payload) {
		return nil, ErrBadSignature
	}

	var write ledger.Write
	if err := json.Unmarshal(s.Payload, &write); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	if write.From != s.Signer {
		return nil, ErrBadSignature
	}
	return &write, nil
}

// String возвращает строковое представление кошелька (его публичный ключ).
func (w *Wallet) String() string {
	return w.PublicKey.String()
}
