// partnership-wallet manages the relay's encrypted wallet file.
//
// Usage:
//
//	partnership-wallet [--datadir=DIR] [--network=NET] [--wallet=FILE] <command> [flags]
//
// Commands:
//
//	create     Generate a new mnemonic and write the wallet file
//	import     Write the wallet file from an existing mnemonic
//	list       Show accounts and multisig scripts
//	pubkey     Print account public keys (password required)
//	multisig   Add an m-of-n script the relay co-signs
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/Klingon-tech/klingnet-partnership/config"
	"github.com/Klingon-tech/klingnet-partnership/internal/wallet"
	"golang.org/x/term"
)

func main() {
	fs := flag.NewFlagSet("partnership-wallet", flag.ExitOnError)
	dataDir := fs.String("datadir", config.DefaultDataDir(), "Data directory")
	network := fs.String("network", string(config.Mainnet), "Network (mainnet, testnet, privnet, coznet)")
	walletFile := fs.String("wallet", "", "Wallet file (default <datadir>/<network>/relay.wallet)")
	fs.Usage = usage
	fs.Parse(os.Args[1:])

	args := fs.Args()
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	cfg := config.Default(config.NetworkType(*network))
	cfg.DataDir = *dataDir
	cfg.Wallet.FilePath = *walletFile
	if !validNetwork(cfg.Network) {
		fatal("unknown network %q", *network)
	}
	path := cfg.WalletFile()

	switch args[0] {
	case "create":
		cmdCreate(args[1:], path)
	case "import":
		cmdImport(args[1:], path)
	case "list":
		cmdList(path)
	case "pubkey":
		cmdPubKey(path)
	case "multisig":
		cmdMultiSig(args[1:], path)
	default:
		fatal("unknown command: %s", args[0])
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: partnership-wallet [global flags] <command> [flags]

Global flags:
  --datadir=DIR     Data directory (default %s)
  --network=NET     mainnet, testnet, privnet or coznet
  --wallet=FILE     Wallet file path

Commands:
  create   [--accounts=N]                       New wallet from a fresh mnemonic
  import   --mnemonic="..." [--accounts=N]      Wallet from an existing mnemonic
  list                                          Show accounts
  pubkey                                        Print account public keys
  multisig --name=N --m=M --pubkeys=K1,K2,...   Add an m-of-n script
`, config.DefaultDataDir())
}

func validNetwork(n config.NetworkType) bool {
	for _, known := range config.Networks {
		if n == known {
			return true
		}
	}
	return false
}

func cmdCreate(args []string, path string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	accounts := fs.Uint("accounts", 1, "Number of accounts to derive")
	fs.Parse(args)

	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		fatal("%v", err)
	}
	fmt.Println("Mnemonic (write this down!):")
	fmt.Printf("  %s\n\n", mnemonic)

	writeWallet(path, mnemonic, uint32(*accounts))
}

func cmdImport(args []string, path string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	mnemonic := fs.String("mnemonic", "", "BIP-39 mnemonic")
	accounts := fs.Uint("accounts", 1, "Number of accounts to derive")
	fs.Parse(args)

	if *mnemonic == "" {
		fatal("Usage: partnership-wallet import --mnemonic=\"word1 word2 ...\"")
	}
	writeWallet(path, strings.TrimSpace(*mnemonic), uint32(*accounts))
}

func writeWallet(path, mnemonic string, accounts uint32) {
	seed, err := wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		fatal("%v", err)
	}
	defer zero(seed)

	password := newPassword()
	defer zero(password)

	f, err := wallet.CreateFile(path, seed, password, wallet.DefaultParams(), accounts)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("\nWallet written: %s\n", path)
	for _, a := range f.Accounts {
		fmt.Printf("  %-12s %s\n", a.Name, a.Address)
	}
}

func cmdList(path string) {
	f, err := wallet.ReadFile(path)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Wallet: %s (created %s)\n", path, f.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Println("Accounts:")
	for _, a := range f.Accounts {
		fmt.Printf("  %3d  %-12s %s\n", a.Index, a.Name, a.Address)
	}
	if len(f.MultiSig) > 0 {
		fmt.Println("Multisig:")
		for _, m := range f.MultiSig {
			fmt.Printf("  %-12s %d-of-%d\n", m.Name, m.M, len(m.PubKeys))
		}
	}
}

func cmdPubKey(path string) {
	f, err := wallet.ReadFile(path)
	if err != nil {
		fatal("%v", err)
	}
	password, err := readPassword("Wallet password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	seed, err := f.Seed(password)
	zero(password)
	if err != nil {
		fatal("%v", err)
	}
	defer zero(seed)

	master, err := wallet.NewMasterKey(seed)
	if err != nil {
		fatal("%v", err)
	}
	for _, a := range f.Accounts {
		k, err := master.DeriveAccount(a.Index)
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("  %3d  %s  %s\n", a.Index, a.Address, hex.EncodeToString(k.PublicKeyBytes()))
	}
}

func cmdMultiSig(args []string, path string) {
	fs := flag.NewFlagSet("multisig", flag.ExitOnError)
	name := fs.String("name", "", "Script name")
	m := fs.Int("m", 0, "Required signatures")
	pubkeys := fs.String("pubkeys", "", "Comma-separated hex public keys")
	fs.Parse(args)

	if *name == "" || *m <= 0 || *pubkeys == "" {
		fatal("Usage: partnership-wallet multisig --name=N --m=M --pubkeys=K1,K2,...")
	}
	var keys [][]byte
	for _, s := range strings.Split(*pubkeys, ",") {
		b, err := hex.DecodeString(strings.TrimSpace(s))
		if err != nil {
			fatal("invalid public key %q: %v", s, err)
		}
		keys = append(keys, b)
	}

	f, err := wallet.ReadFile(path)
	if err != nil {
		fatal("%v", err)
	}
	if err := f.AddMultiSig(*name, *m, keys); err != nil {
		fatal("%v", err)
	}
	if err := f.Save(path); err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Added %d-of-%d script %q\n", *m, len(keys), *name)
}

// ── Password helpers ────────────────────────────────────────────────────

func newPassword() []byte {
	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	defer zero(confirm)
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}
	if len(password) == 0 {
		fatal("empty password")
	}
	return password
}

func readPassword(prompt string) ([]byte, error) {
	if pw := os.Getenv(config.EnvWalletPassword); pw != "" {
		return []byte(pw), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return password, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
