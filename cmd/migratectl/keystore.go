package main

import (
	"fmt"
	"io"

	"lendmigrate/cmd/internal/passphrase"
	"lendmigrate/crypto"
)

// runProtectKeystore re-encrypts the operator keystore that config generation
// writes without a passphrase.
func runProtectKeystore(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("protect-keystore", stderr)
	var opts commonFlags
	opts.register(fs)
	current := fs.String("current-pass-env", "", "environment variable holding the current passphrase; empty means unprotected")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	cfg, err := opts.load()
	if err != nil {
		return fail(stderr, err)
	}
	old := ""
	if *current != "" {
		old, err = passphrase.NewSource(*current).Get()
		if err != nil {
			return fail(stderr, err)
		}
	}
	key, err := crypto.LoadFromKeystore(cfg.OperatorKeystorePath, old)
	if err != nil {
		return fail(stderr, fmt.Errorf("load operator keystore: %w", err))
	}
	next, err := passphrase.NewSource(passphrase.EnvVar).Get()
	if err != nil {
		return fail(stderr, err)
	}
	if err := crypto.SaveToKeystore(cfg.OperatorKeystorePath, key, next); err != nil {
		return fail(stderr, fmt.Errorf("write keystore: %w", err))
	}
	fmt.Fprintf(stdout, "operator %s keystore %s re-encrypted\n", key.Address().Hex(), cfg.OperatorKeystorePath)
	return 0
}
