package wallet

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
)

// FileVersion is the current wallet file format.
const FileVersion = 1

// ErrWalletExists is returned when creating over an existing wallet file.
var ErrWalletExists = errors.New("wallet file already exists")

// File is the on-disk wallet. Only the seed is encrypted; account
// metadata is readable without the password.
type File struct {
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	EncryptedSeed []byte          `json:"encrypted_seed"`
	Accounts      []AccountEntry  `json:"accounts"`
	MultiSig      []MultiSigEntry `json:"multisig,omitempty"`
}

// AccountEntry records one derived P2PKH account.
type AccountEntry struct {
	Index   uint32 `json:"index"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// MultiSigEntry records an m-of-n script the wallet holds at least one
// key for.
type MultiSigEntry struct {
	Name    string   `json:"name"`
	M       int      `json:"m"`
	PubKeys []string `json:"pubkeys"`
}

// Script decodes the entry into its locking script.
func (e MultiSigEntry) Script() (types.Script, error) {
	keys := make([][]byte, len(e.PubKeys))
	for i, h := range e.PubKeys {
		b, err := hex.DecodeString(h)
		if err != nil {
			return types.Script{}, fmt.Errorf("multisig %q key %d: %w", e.Name, i, err)
		}
		keys[i] = b
	}
	return types.MultiSigScript(e.M, keys)
}

// CreateFile writes a new wallet file at path holding seed encrypted under
// password, with accounts derived accounts.
func CreateFile(path string, seed, password []byte, params EncryptionParams, accounts uint32) (*File, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrWalletExists, path)
	}
	if accounts == 0 {
		accounts = 1
	}
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	enc, err := Encrypt(seed, password, params)
	if err != nil {
		return nil, fmt.Errorf("encrypt seed: %w", err)
	}

	f := &File{
		Version:       FileVersion,
		CreatedAt:     time.Now().UTC(),
		EncryptedSeed: enc,
	}
	for i := uint32(0); i < accounts; i++ {
		k, err := master.DeriveAccount(i)
		if err != nil {
			return nil, err
		}
		f.Accounts = append(f.Accounts, AccountEntry{
			Index:   i,
			Name:    fmt.Sprintf("account-%d", i),
			Address: k.Address().String(),
		})
	}
	if err := f.Save(path); err != nil {
		return nil, err
	}
	return f, nil
}

// AddMultiSig appends an m-of-n entry. The script is validated first.
func (f *File) AddMultiSig(name string, m int, pubKeys [][]byte) error {
	e := MultiSigEntry{Name: name, M: m}
	for _, pk := range pubKeys {
		e.PubKeys = append(e.PubKeys, hex.EncodeToString(pk))
	}
	if _, err := e.Script(); err != nil {
		return err
	}
	for _, ex := range f.MultiSig {
		if ex.Name == name {
			return fmt.Errorf("multisig %q already exists", name)
		}
	}
	f.MultiSig = append(f.MultiSig, e)
	return nil
}

// Seed decrypts the wallet seed.
func (f *File) Seed(password []byte) ([]byte, error) {
	seed, err := Decrypt(f.EncryptedSeed, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt wallet: %w", err)
	}
	return seed, nil
}

// Save writes the file with owner-only permissions.
func (f *File) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create wallet dir: %w", err)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal wallet: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write wallet: %w", err)
	}
	return nil
}

// ReadFile loads a wallet file without decrypting it.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wallet: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse wallet: %w", err)
	}
	if f.Version != FileVersion {
		return nil, fmt.Errorf("unsupported wallet version: %d", f.Version)
	}
	if len(f.Accounts) == 0 {
		return nil, fmt.Errorf("wallet has no accounts")
	}
	return &f, nil
}
