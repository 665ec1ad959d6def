package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"sealbox/go-core/internal/app"
	"sealbox/go-core/internal/config"
	"sealbox/go-core/internal/identity"
	"sealbox/go-core/internal/securemem"
	"sealbox/go-core/internal/session"
	"sealbox/go-core/internal/signing"
	"sealbox/go-core/internal/verification"
	"sealbox/go-core/pkg/models"
)

func runDerive(args []string) {
	fs := flag.NewFlagSet("derive", flag.ExitOnError)
	username := fs.String("username", "", "identity username")
	if err := fs.Parse(args); err != nil {
		failUsage(err.Error())
	}

	pass, err := readPassphrase()
	if err != nil {
		fail(err)
	}

	preview, err := previewIdentity(context.Background(), pass, *username)
	if err != nil {
		fail(err)
	}
	printJSON(preview)
	os.Exit(exitOK)
}

// previewIdentity derives and immediately discards the identity, returning
// only its public projection. No storage is touched.
func previewIdentity(ctx context.Context, passphrase, username string) (app.IdentityPreview, error) {
	secrets := securemem.NewManager()
	deriver := identity.NewDeriver(secrets)

	pair, seed, err := deriver.DeriveIdentity(ctx, passphrase, username, derivationProgress()...)
	if err != nil {
		return app.IdentityPreview{}, err
	}
	seed.Clear()

	fingerprint, err := identity.Fingerprint(pair.PublicKey)
	if err != nil {
		return app.IdentityPreview{}, err
	}
	return app.IdentityPreview{
		Username:        username,
		Fingerprint:     fingerprint,
		PublicKeyBase64: base64.StdEncoding.EncodeToString(pair.PublicKey),
	}, nil
}

func runSign(args []string) {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	username := fs.String("username", "", "identity username")
	inPath := fs.String("in", "", "content file (default stdin)")
	if err := fs.Parse(args); err != nil {
		failUsage(err.Error())
	}

	pass, err := readPassphrase()
	if err != nil {
		fail(err)
	}
	content, err := readContent(*inPath)
	if err != nil {
		fail(err)
	}

	// Signing needs a live session but no storage; compose just enough.
	secrets := securemem.NewManager()
	deriver := identity.NewDeriver(secrets)
	sessions := session.NewService(deriver, config.DefaultConfig().SessionTimeout)
	signer := signing.NewSigner(sessions)

	pair, seed, err := deriver.DeriveIdentity(context.Background(), pass, *username, derivationProgress()...)
	if err != nil {
		fail(err)
	}
	if err := sessions.Start(*username, pair, seed); err != nil {
		seed.Clear()
		fail(err)
	}

	envelope, err := signer.Sign(content)
	_ = sessions.End()
	secrets.WipeAll()
	if err != nil {
		fail(err)
	}
	doc, err := envelope.Document()
	if err != nil {
		fail(err)
	}
	printJSON(doc)
	os.Exit(exitOK)
}

func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	inPath := fs.String("in", "", "content file (default stdin)")
	envPath := fs.String("envelope", "", "envelope document JSON file")
	sigB64 := fs.String("sig", "", "detached signature, base64")
	pubB64 := fs.String("pub", "", "signer public key, base64")
	if err := fs.Parse(args); err != nil {
		failUsage(err.Error())
	}

	content, err := readContent(*inPath)
	if err != nil {
		fail(err)
	}
	verifier := verification.NewVerifier()

	var valid bool
	switch {
	case *envPath != "":
		raw, err := os.ReadFile(*envPath)
		if err != nil {
			fail(err)
		}
		var doc models.EnvelopeDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			failUsage("parse envelope: " + err.Error())
		}
		envelope, err := models.EnvelopeFromDocument(doc)
		if err != nil {
			fail(err)
		}
		valid, err = verifier.VerifyEnvelope(envelope, content)
		if err != nil {
			fail(err)
		}
	case *sigB64 != "" && *pubB64 != "":
		ok, err := verifier.VerifyBase64(content, *sigB64, *pubB64)
		if err != nil {
			fail(err)
		}
		valid = ok
	default:
		failUsage("verify needs --envelope or both --sig and --pub")
	}

	printJSON(map[string]any{"valid": valid})
	if !valid {
		os.Exit(exitVerifyFailed)
	}
	os.Exit(exitOK)
}

func runStore(args []string) {
	fs := flag.NewFlagSet("store", flag.ExitOnError)
	username := fs.String("username", "", "identity username")
	inPath := fs.String("in", "", "content file (default stdin)")
	tag := fs.String("tag", "", "type tag for listing")
	dataDir := fs.String("data-dir", "", "local data directory (default ~/.sealbox)")
	if err := fs.Parse(args); err != nil {
		failUsage(err.Error())
	}

	pass, err := readPassphrase()
	if err != nil {
		fail(err)
	}
	content, err := readContent(*inPath)
	if err != nil {
		fail(err)
	}

	stack, err := openStack(*dataDir)
	if err != nil {
		fail(err)
	}
	ctx := context.Background()
	if err := stack.login(ctx, pass, *username); err != nil {
		stack.failClosed(err)
	}
	meta, err := stack.svc.StoreContent(ctx, content, *tag)
	if err != nil {
		stack.failClosed(err)
	}
	stack.close()

	printJSON(meta)
	os.Exit(exitOK)
}

func runGet(args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	address := fs.String("address", "", "content address, hex")
	outPath := fs.String("out", "", "write payload to file instead of stdout")
	asJSON := fs.Bool("json", false, "emit payload, envelope, and metadata as JSON")
	dataDir := fs.String("data-dir", "", "local data directory (default ~/.sealbox)")
	if err := fs.Parse(args); err != nil {
		failUsage(err.Error())
	}
	addr := resolveAddress(*address, fs)

	stack, err := openStack(*dataDir)
	if err != nil {
		fail(err)
	}
	got, err := stack.svc.RetrieveContent(context.Background(), addr)
	if err != nil {
		stack.failClosed(err)
	}
	stack.close()

	switch {
	case *asJSON:
		doc, err := got.Envelope.Document()
		if err != nil {
			fail(err)
		}
		printJSON(map[string]any{
			"content_base64": base64.StdEncoding.EncodeToString(got.Payload),
			"envelope":       doc,
			"metadata":       got.Metadata,
		})
	case *outPath != "":
		if err := os.WriteFile(*outPath, got.Payload, 0o600); err != nil {
			fail(err)
		}
	default:
		if _, err := os.Stdout.Write(got.Payload); err != nil {
			os.Exit(exitStorageFailed)
		}
	}
	os.Exit(exitOK)
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	tag := fs.String("tag", "", "only entries with this type tag")
	dataDir := fs.String("data-dir", "", "local data directory (default ~/.sealbox)")
	if err := fs.Parse(args); err != nil {
		failUsage(err.Error())
	}

	stack, err := openStack(*dataDir)
	if err != nil {
		fail(err)
	}
	items, err := stack.svc.ListContent(context.Background(), *tag)
	if err != nil {
		stack.failClosed(err)
	}
	stack.close()

	printJSON(map[string]any{"items": items, "count": len(items)})
	os.Exit(exitOK)
}

func runDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	address := fs.String("address", "", "content address, hex")
	dataDir := fs.String("data-dir", "", "local data directory (default ~/.sealbox)")
	if err := fs.Parse(args); err != nil {
		failUsage(err.Error())
	}
	addr := resolveAddress(*address, fs)

	stack, err := openStack(*dataDir)
	if err != nil {
		fail(err)
	}
	removed, err := stack.svc.DeleteContent(context.Background(), addr)
	if err != nil {
		stack.failClosed(err)
	}
	stack.close()

	printJSON(map[string]any{"deleted": removed})
	if !removed {
		os.Exit(exitNotFound)
	}
	os.Exit(exitOK)
}

func runRecovery(args []string) {
	if len(args) < 1 {
		failUsage("recovery <export|import> [flags]")
	}
	switch args[0] {
	case "export":
		runRecoveryExport(args[1:])
	case "import":
		runRecoveryImport(args[1:])
	default:
		failUsage("recovery <export|import> [flags]")
	}
}

func runRecoveryExport(args []string) {
	fs := flag.NewFlagSet("recovery export", flag.ExitOnError)
	username := fs.String("username", "", "identity username")
	if err := fs.Parse(args); err != nil {
		failUsage(err.Error())
	}

	pass, err := readPassphrase()
	if err != nil {
		fail(err)
	}

	secrets := securemem.NewManager()
	deriver := identity.NewDeriver(secrets)
	phrase, err := deriver.RecoveryPhrase(context.Background(), pass, *username)
	secrets.WipeAll()
	if err != nil {
		fail(err)
	}

	// The phrase goes to stdout alone so it can be piped straight to a
	// backup location.
	fmt.Println(phrase)
	os.Exit(exitOK)
}

func runRecoveryImport(args []string) {
	fs := flag.NewFlagSet("recovery import", flag.ExitOnError)
	username := fs.String("username", "", "identity username")
	phrasePath := fs.String("phrase-file", "", "file holding the recovery phrase (default stdin)")
	if err := fs.Parse(args); err != nil {
		failUsage(err.Error())
	}

	raw, err := readContent(*phrasePath)
	if err != nil {
		fail(err)
	}
	phrase := strings.TrimSpace(string(raw))

	secrets := securemem.NewManager()
	deriver := identity.NewDeriver(secrets)
	pair, seed, err := deriver.IdentityFromRecoveryPhrase(phrase)
	if err != nil {
		secrets.WipeAll()
		fail(err)
	}
	seed.Clear()
	secrets.WipeAll()

	fingerprint, err := identity.Fingerprint(pair.PublicKey)
	if err != nil {
		fail(err)
	}
	printJSON(app.IdentityPreview{
		Username:        *username,
		Fingerprint:     fingerprint,
		PublicKeyBase64: base64.StdEncoding.EncodeToString(pair.PublicKey),
	})
	os.Exit(exitOK)
}

// resolveAddress takes the address from the flag or the first positional
// argument, so both `get --address X` and `get X` work.
func resolveAddress(flagValue string, fs *flag.FlagSet) string {
	addr := strings.TrimSpace(flagValue)
	if addr == "" && fs.NArg() > 0 {
		addr = strings.TrimSpace(fs.Arg(0))
	}
	if addr == "" {
		failUsage("content address is required")
	}
	return addr
}
