// Package wallet provides a reference wallet connector backed by a local
// secp256k1 key. Browser or remote signers implement ports.Wallet themselves.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/slashauth/core"
)

// Approver decides whether a signature request is accepted
type Approver func(address, message string) bool

// KeyWallet signs personal_sign messages with in-memory keys
type KeyWallet struct {
	mu       sync.Mutex
	keys     map[common.Address]*ecdsa.PrivateKey
	active   common.Address
	approve  Approver
	listener func(core.WalletEvent)
}

// NewKeyWallet creates a wallet whose active account is key
func NewKeyWallet(key *ecdsa.PrivateKey) *KeyWallet {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	return &KeyWallet{
		keys:    map[common.Address]*ecdsa.PrivateKey{addr: key},
		active:  addr,
		approve: func(string, string) bool { return true },
	}
}

// NewKeyWalletFromHex parses a hex encoded private key
func NewKeyWalletFromHex(hexKey string) (*KeyWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return NewKeyWallet(key), nil
}

// SetApprover replaces the signature approval policy
func (w *KeyWallet) SetApprover(a Approver) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.approve = a
}

// OnEvent registers the callback that receives account and connection changes
func (w *KeyWallet) OnEvent(fn func(core.WalletEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listener = fn
}

// Connect returns the active account
func (w *KeyWallet) Connect(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active == (common.Address{}) {
		return "", fmt.Errorf("wallet disconnected")
	}
	return w.active.Hex(), nil
}

// SignMessage produces an EIP-191 personal_sign signature
func (w *KeyWallet) SignMessage(ctx context.Context, address, message string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", core.ErrInvalidAddress
	}

	w.mu.Lock()
	key, ok := w.keys[common.HexToAddress(address)]
	approve := w.approve
	w.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("no key for %s", address)
	}
	if !approve(address, message) {
		return "", core.ErrUserRejected
	}

	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27

	return hexutil.Encode(sig), nil
}

// SwitchAccount makes key the active account and notifies the listener
func (w *KeyWallet) SwitchAccount(key *ecdsa.PrivateKey) {
	addr := crypto.PubkeyToAddress(key.PublicKey)

	w.mu.Lock()
	w.keys[addr] = key
	w.active = addr
	listener := w.listener
	w.mu.Unlock()

	if listener != nil {
		listener(core.WalletEvent{Kind: core.WalletAccountChanged, Address: addr.Hex()})
	}
}

// Disconnect drops the active account and notifies the listener
func (w *KeyWallet) Disconnect() {
	w.mu.Lock()
	w.active = common.Address{}
	listener := w.listener
	w.mu.Unlock()

	if listener != nil {
		listener(core.WalletEvent{Kind: core.WalletDisconnected})
	}
}

// RecoverAddress returns the signer of a personal_sign signature
func RecoverAddress(message, signature string) (string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}
