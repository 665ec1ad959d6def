package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"sealbox/go-core/internal/cas"
	"sealbox/go-core/internal/identity"
	"sealbox/go-core/internal/session"
	"sealbox/go-core/internal/sessionstore"
	"sealbox/go-core/internal/vault"
	"sealbox/go-core/internal/verification"
)

const (
	exitOK            = 0
	exitInvalidInput  = 10
	exitRPCFailed     = 20
	exitAuthFailed    = 30
	exitVerifyFailed  = 40
	exitNotFound      = 50
	exitStorageFailed = 60
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitInvalidInput)
	}

	switch os.Args[1] {
	case "derive":
		runDerive(os.Args[2:])
	case "sign":
		runSign(os.Args[2:])
	case "verify":
		runVerify(os.Args[2:])
	case "store":
		runStore(os.Args[2:])
	case "get":
		runGet(os.Args[2:])
	case "list":
		runList(os.Args[2:])
	case "delete":
		runDelete(os.Args[2:])
	case "recovery":
		runRecovery(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	default:
		printUsage()
		os.Exit(exitInvalidInput)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "sealbox <command> [flags]")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  derive    --username <name>                          print fingerprint and public key")
	fmt.Fprintln(os.Stderr, "  sign      --username <name> [--in <file>]            sign content, print envelope JSON")
	fmt.Fprintln(os.Stderr, "  verify    [--in <file>] --envelope <file> | --sig <b64> --pub <b64>")
	fmt.Fprintln(os.Stderr, "  store     --username <name> [--in <file>] [--tag <tag>] [--data-dir <dir>]")
	fmt.Fprintln(os.Stderr, "  get       --address <hex> [--out <file>] [--json] [--data-dir <dir>]")
	fmt.Fprintln(os.Stderr, "  list      [--tag <tag>] [--data-dir <dir>]")
	fmt.Fprintln(os.Stderr, "  delete    --address <hex> [--data-dir <dir>]")
	fmt.Fprintln(os.Stderr, "  recovery  export --username <name> | import --username <name> [--phrase-file <file>]")
	fmt.Fprintln(os.Stderr, "  status    [--rpc-addr <host:port>] [--rpc-token <token>] [--json]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "the passphrase comes from SEALBOX_PASSPHRASE or a terminal prompt, never from flags")
}

// fail prints the error to stderr and exits with a code matched to the error
// class, so scripts can branch without parsing messages.
func fail(err error) {
	fmt.Fprintln(os.Stderr, "sealbox: "+err.Error())
	os.Exit(exitCodeFor(err))
}

func failUsage(msg string) {
	fmt.Fprintln(os.Stderr, "sealbox: "+msg)
	os.Exit(exitInvalidInput)
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, identity.ErrPassphraseRequired),
		errors.Is(err, identity.ErrUsernameRequired),
		errors.Is(err, identity.ErrRecoveryPhraseRequired),
		errors.Is(err, cas.ErrInvalidAddress),
		errors.Is(err, verification.ErrMalformedPublicKey),
		errors.Is(err, verification.ErrMalformedSignature),
		errors.Is(err, verification.ErrMalformedEncoding):
		return exitInvalidInput
	case errors.Is(err, session.ErrNoSession),
		errors.Is(err, session.ErrSessionLocked),
		errors.Is(err, session.ErrUnlockFailed),
		errors.Is(err, session.ErrUnlockThrottled),
		errors.Is(err, sessionstore.ErrRestoreFailed):
		return exitAuthFailed
	case errors.Is(err, vault.ErrVerificationFailed),
		errors.Is(err, cas.ErrCorrupted):
		return exitVerifyFailed
	case errors.Is(err, cas.ErrNotFound),
		errors.Is(err, sessionstore.ErrNoSavedSession):
		return exitNotFound
	default:
		return exitStorageFailed
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		os.Exit(exitStorageFailed)
	}
}
