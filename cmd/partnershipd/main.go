// Partnership contract relay daemon.
//
// Usage:
//
//	partnershipd --contract=<hash> [--testnet]   Run relay
//	partnershipd --help                         Show help
//
// The API token and wallet password are read from PARTNERSHIP_API_TOKEN
// and PARTNERSHIP_WALLET_PASSWORD. Without the latter the password is
// prompted for on the terminal.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/klingnet-partnership/config"
	"github.com/Klingon-tech/klingnet-partnership/internal/node"
	"golang.org/x/term"
)

func main() {
	cfg, _, err := config.Load(os.Args[1:], os.Getenv)
	if errors.Is(err, config.ErrHelp) {
		return
	}
	if err != nil {
		fatal("%v", err)
	}

	password, err := walletPassword()
	if err != nil {
		fatal("read password: %v", err)
	}

	n, err := node.New(cfg, password)
	for i := range password {
		password[i] = 0
	}
	if err != nil {
		fatal("%v", err)
	}

	if err := n.Start(); err != nil {
		n.Stop()
		fatal("%v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Stop()
}

func walletPassword() ([]byte, error) {
	if pw := os.Getenv(config.EnvWalletPassword); pw != "" {
		return []byte(pw), nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return nil, fmt.Errorf("%s not set and stdin is not a terminal", config.EnvWalletPassword)
	}
	fmt.Fprint(os.Stderr, "Wallet password: ")
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	return pw, err
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
