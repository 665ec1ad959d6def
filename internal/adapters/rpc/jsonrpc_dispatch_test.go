package rpc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sealbox/go-core/internal/app"
	"sealbox/go-core/internal/cas"
	"sealbox/go-core/internal/identity"
	"sealbox/go-core/internal/platform/privacylog"
	"sealbox/go-core/internal/securemem"
	"sealbox/go-core/internal/session"
	"sealbox/go-core/internal/sessionstore"
	"sealbox/go-core/internal/signing"
	"sealbox/go-core/internal/vault"
	"sealbox/go-core/internal/verification"
	"sealbox/go-core/pkg/models"
)

// newDaemonServer wires the real stack behind the adapter so dispatch,
// error mapping, and wire shapes are exercised end to end.
func newDaemonServer(t *testing.T) *httptest.Server {
	t.Helper()
	t.Setenv("SEALBOX_RPC_RATE_LIMIT_ENABLED", "false")

	secrets := securemem.NewManager()
	deriver := identity.NewDeriver(secrets)
	sessions := session.NewService(deriver, time.Minute)
	signer := signing.NewSigner(sessions)
	verifier := verification.NewVerifier()
	store := cas.NewStore(cas.NewMemKV())

	svc, err := app.NewService(app.Deps{
		Logger:        slog.New(privacylog.WrapHandler(slog.NewJSONHandler(io.Discard, nil))),
		Secrets:       secrets,
		Deriver:       deriver,
		Sessions:      sessions,
		Signer:        signer,
		Verifier:      verifier,
		Vault:         vault.NewAdapter(signer, verifier, store),
		Content:       store,
		SavedSessions: sessionstore.NewStore(filepath.Join(t.TempDir(), "session.seal"), secrets),
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	s := newServer("127.0.0.1:0", svc, "", false)
	ts := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func resultMap(t *testing.T, resp rpcResponse) map[string]any {
	t.Helper()
	m, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("result is %T, want object: %v (error: %+v)", resp.Result, resp.Result, resp.Error)
	}
	return m
}

func TestDispatchFullLifecycle(t *testing.T) {
	ts := newDaemonServer(t)

	// Login starts an unlocked session.
	_, resp := callRPC(t, ts, `{"jsonrpc":"2.0","id":1,"method":"identity_login","params":["correct-horse-battery-staple","alice"]}`)
	if resp.Error != nil {
		t.Fatalf("login: %+v", resp.Error)
	}
	login := resultMap(t, resp)
	fingerprint, _ := login["fingerprint"].(string)
	if !strings.HasPrefix(fingerprint, "seal1") {
		t.Fatalf("fingerprint = %q", fingerprint)
	}
	if login["state"] != string(models.SessionUnlocked) {
		t.Fatalf("state = %v", login["state"])
	}

	// Store signed content and get its address back.
	contentB64 := base64.StdEncoding.EncodeToString([]byte("hello"))
	_, resp = callRPC(t, ts, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":2,"method":"content_store","params":{"content_base64":%q,"type_tag":"note"}}`, contentB64))
	if resp.Error != nil {
		t.Fatalf("store: %+v", resp.Error)
	}
	stored := resultMap(t, resp)
	address, _ := stored["contentAddress"].(string)
	if address != cas.Address([]byte("hello")) {
		t.Fatalf("address = %q", address)
	}

	// Retrieval returns the payload with a verifiable envelope document.
	_, resp = callRPC(t, ts, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":3,"method":"content_get","params":[%q]}`, address))
	if resp.Error != nil {
		t.Fatalf("get: %+v", resp.Error)
	}
	got := resultMap(t, resp)
	if got["content_base64"] != contentB64 {
		t.Fatalf("content = %v", got["content_base64"])
	}
	envelope, _ := got["envelope"].(map[string]any)
	sigB64, _ := envelope["signatureBase64"].(string)
	pubB64, _ := envelope["publicKeyBase64"].(string)
	if sigB64 == "" || pubB64 == "" {
		t.Fatalf("envelope = %v", envelope)
	}

	// Detached verification of the same triple succeeds.
	_, resp = callRPC(t, ts, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":4,"method":"content_verify","params":[%q,%q,%q]}`, contentB64, sigB64, pubB64))
	if resp.Error != nil {
		t.Fatalf("verify: %+v", resp.Error)
	}
	if resultMap(t, resp)["valid"] != true {
		t.Fatal("expected valid signature")
	}

	// Listing sees the single tagged entry.
	_, resp = callRPC(t, ts, `{"jsonrpc":"2.0","id":5,"method":"content_list","params":["note"]}`)
	if resp.Error != nil {
		t.Fatalf("list: %+v", resp.Error)
	}
	if count := resultMap(t, resp)["count"]; count != float64(1) {
		t.Fatalf("count = %v", count)
	}

	// Locked sessions refuse to sign new content.
	_, resp = callRPC(t, ts, `{"jsonrpc":"2.0","id":6,"method":"session_lock"}`)
	if resp.Error != nil {
		t.Fatalf("lock: %+v", resp.Error)
	}
	_, resp = callRPC(t, ts, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":7,"method":"content_store","params":[%q]}`, contentB64))
	if resp.Error == nil || resp.Error.Code != -32032 {
		t.Fatalf("store while locked: %+v, want -32032", resp.Error)
	}

	// A wrong passphrase fails the unlock, and the retry is throttled.
	_, resp = callRPC(t, ts, `{"jsonrpc":"2.0","id":8,"method":"session_unlock","params":["wrong-passphrase"]}`)
	if resp.Error == nil || resp.Error.Code != -32034 {
		t.Fatalf("wrong unlock: %+v, want -32034", resp.Error)
	}
	_, resp = callRPC(t, ts, `{"jsonrpc":"2.0","id":9,"method":"session_unlock","params":["correct-horse-battery-staple"]}`)
	if resp.Error == nil || resp.Error.Code != -32035 {
		t.Fatalf("throttled unlock: %+v, want -32035", resp.Error)
	}

	// Reads stay available while locked; deletion is a storage operation.
	_, resp = callRPC(t, ts, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":10,"method":"content_delete","params":[%q]}`, address))
	if resp.Error != nil {
		t.Fatalf("delete: %+v", resp.Error)
	}
	if resultMap(t, resp)["deleted"] != true {
		t.Fatal("expected deletion")
	}
	_, resp = callRPC(t, ts, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":11,"method":"content_get","params":[%q]}`, address))
	if resp.Error == nil || resp.Error.Code != -32041 {
		t.Fatalf("get after delete: %+v, want -32041", resp.Error)
	}

	// Ending the session resets state.
	_, resp = callRPC(t, ts, `{"jsonrpc":"2.0","id":12,"method":"session_end"}`)
	if resp.Error != nil {
		t.Fatalf("end: %+v", resp.Error)
	}
	_, resp = callRPC(t, ts, `{"jsonrpc":"2.0","id":13,"method":"session_status"}`)
	if resp.Error != nil {
		t.Fatalf("status: %+v", resp.Error)
	}
	if state := resultMap(t, resp)["state"]; state != string(models.SessionNone) {
		t.Fatalf("state = %v", state)
	}
}

func TestDispatchInvalidContentParams(t *testing.T) {
	ts := newDaemonServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"store bad base64", `{"jsonrpc":"2.0","id":1,"method":"content_store","params":["%%%not-base64%%%"]}`},
		{"store empty", `{"jsonrpc":"2.0","id":1,"method":"content_store","params":[""]}`},
		{"get missing param", `{"jsonrpc":"2.0","id":1,"method":"content_get","params":[]}`},
		{"verify short params", `{"jsonrpc":"2.0","id":1,"method":"content_verify","params":["a","b"]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, resp := callRPC(t, ts, tc.body)
			if resp.Error == nil || resp.Error.Code != -32602 {
				t.Fatalf("error = %+v, want -32602", resp.Error)
			}
		})
	}

	// A well-formed but unknown address is not-found, not invalid params.
	_, resp := callRPC(t, ts, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":2,"method":"content_get","params":[%q]}`, cas.Address([]byte("missing"))))
	if resp.Error == nil || resp.Error.Code != -32041 {
		t.Fatalf("error = %+v, want -32041", resp.Error)
	}

	// A malformed address is rejected before touching storage.
	_, resp = callRPC(t, ts, `{"jsonrpc":"2.0","id":3,"method":"content_get","params":["zz-not-an-address"]}`)
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Fatalf("error = %+v, want -32602", resp.Error)
	}
}

func TestDispatchSessionRequiredErrors(t *testing.T) {
	ts := newDaemonServer(t)

	contentB64 := base64.StdEncoding.EncodeToString([]byte("payload"))
	_, resp := callRPC(t, ts, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":1,"method":"content_store","params":[%q]}`, contentB64))
	if resp.Error == nil || resp.Error.Code != -32031 {
		t.Fatalf("store without session: %+v, want -32031", resp.Error)
	}

	_, resp = callRPC(t, ts, `{"jsonrpc":"2.0","id":2,"method":"session_restore","params":["any"]}`)
	if resp.Error == nil || resp.Error.Code != -32061 {
		t.Fatalf("restore without saved session: %+v, want -32061", resp.Error)
	}
}

func TestDispatchResultShapesAreJSON(t *testing.T) {
	ts := newDaemonServer(t)

	_, resp := callRPC(t, ts, `{"jsonrpc":"2.0","id":1,"method":"session_status"}`)
	if resp.Error != nil {
		t.Fatalf("status: %+v", resp.Error)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	for _, key := range []string{"username", "fingerprint", "state"} {
		if !strings.Contains(string(raw), `"`+key+`"`) {
			t.Fatalf("status result missing %q: %s", key, raw)
		}
	}
}
