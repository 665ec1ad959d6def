package rpc

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

var errInvalidParams = errors.New("invalid params")

// Positional params are the preferred shape: ["value"]. Credentials are
// validated for presence only; passphrases are never trimmed because their
// whitespace is significant.
func decodeSingleStringParam(raw json.RawMessage) (string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 1 && arr[0] != "" {
		return arr[0], nil
	}
	return "", errInvalidParams
}

func decodeTwoStringParams(raw json.RawMessage) (string, string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 2 && arr[0] != "" && arr[1] != "" {
		return arr[0], arr[1], nil
	}
	return "", "", errInvalidParams
}

type loginParams struct {
	Passphrase string `json:"passphrase"`
	Username   string `json:"username"`
	Persist    bool   `json:"persist"`
}

// decodeLoginParams accepts ["passphrase", "username"], [ { ... } ], or a
// bare object. The persist flag is only reachable through the object shapes.
func decodeLoginParams(raw json.RawMessage) (loginParams, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 2 {
		if arr[0] == "" || arr[1] == "" {
			return loginParams{}, errInvalidParams
		}
		return loginParams{Passphrase: arr[0], Username: arr[1]}, nil
	}

	var wrapped []loginParams
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped) == 1 {
		return validateLoginParams(wrapped[0])
	}

	var p loginParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return loginParams{}, errInvalidParams
	}
	return validateLoginParams(p)
}

func validateLoginParams(p loginParams) (loginParams, error) {
	if p.Passphrase == "" || p.Username == "" {
		return loginParams{}, errInvalidParams
	}
	return p, nil
}

type contentStoreParams struct {
	ContentBase64 string `json:"content_base64"`
	TypeTag       string `json:"type_tag"`
}

// decodeContentStoreParams accepts ["contentBase64"], ["contentBase64",
// "typeTag"], [ { ... } ], or a bare object, and returns the decoded bytes.
func decodeContentStoreParams(raw json.RawMessage) ([]byte, string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && (len(arr) == 1 || len(arr) == 2) {
		p := contentStoreParams{ContentBase64: arr[0]}
		if len(arr) == 2 {
			p.TypeTag = arr[1]
		}
		return decodeStoreContent(p)
	}

	var wrapped []contentStoreParams
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped) == 1 {
		return decodeStoreContent(wrapped[0])
	}

	var p contentStoreParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, "", errInvalidParams
	}
	return decodeStoreContent(p)
}

func decodeStoreContent(p contentStoreParams) ([]byte, string, error) {
	encoded := strings.TrimSpace(p.ContentBase64)
	if encoded == "" || len(encoded) > maxContentBase64Bytes {
		return nil, "", errInvalidParams
	}
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", errInvalidParams
	}
	return content, strings.TrimSpace(p.TypeTag), nil
}

type verifyParams struct {
	ContentBase64   string `json:"content_base64"`
	SignatureBase64 string `json:"signature_base64"`
	PublicKeyBase64 string `json:"public_key_base64"`
}

// decodeVerifyParams accepts ["contentB64", "sigB64", "pubB64"], [ { ... } ],
// or a bare object. Content is decoded here; signature and key stay base64
// because the verifier takes them in that form.
func decodeVerifyParams(raw json.RawMessage) ([]byte, string, string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 3 {
		return decodeVerifyContent(verifyParams{
			ContentBase64:   arr[0],
			SignatureBase64: arr[1],
			PublicKeyBase64: arr[2],
		})
	}

	var wrapped []verifyParams
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped) == 1 {
		return decodeVerifyContent(wrapped[0])
	}

	var p verifyParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, "", "", errInvalidParams
	}
	return decodeVerifyContent(p)
}

func decodeVerifyContent(p verifyParams) ([]byte, string, string, error) {
	if strings.TrimSpace(p.ContentBase64) == "" || len(p.ContentBase64) > maxContentBase64Bytes {
		return nil, "", "", errInvalidParams
	}
	if strings.TrimSpace(p.SignatureBase64) == "" || strings.TrimSpace(p.PublicKeyBase64) == "" {
		return nil, "", "", errInvalidParams
	}
	content, err := base64.StdEncoding.DecodeString(strings.TrimSpace(p.ContentBase64))
	if err != nil {
		return nil, "", "", errInvalidParams
	}
	return content, strings.TrimSpace(p.SignatureBase64), strings.TrimSpace(p.PublicKeyBase64), nil
}

// decodeOptionalTagParam handles content_list params: absent, null, [],
// ["tag"], or {"type_tag": "tag"} all decode; empty means no filter.
func decodeOptionalTagParam(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", nil
	}

	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		switch len(arr) {
		case 0:
			return "", nil
		case 1:
			return strings.TrimSpace(arr[0]), nil
		}
		return "", errInvalidParams
	}

	var p struct {
		TypeTag string `json:"type_tag"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", errInvalidParams
	}
	return strings.TrimSpace(p.TypeTag), nil
}
