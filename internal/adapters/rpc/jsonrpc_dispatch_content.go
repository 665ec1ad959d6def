package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
)

func (s *Server) dispatchContentRPC(ctx context.Context, method string, rawParams json.RawMessage) (any, *rpcError, bool) {
	switch method {
	case "content_store":
		content, typeTag, err := decodeContentStoreParams(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		meta, err := s.service.StoreContent(ctx, content, typeTag)
		if err != nil {
			return nil, mapServiceError(-32040, err), true
		}
		return meta, nil, true
	case "content_get":
		result, rpcErr := callWithSingleStringParam(rawParams, -32040, func(address string) (any, error) {
			signed, err := s.service.RetrieveContent(ctx, address)
			if err != nil {
				return nil, err
			}
			doc, err := signed.Envelope.Document()
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"content_base64": base64.StdEncoding.EncodeToString(signed.Payload),
				"envelope":       doc,
				"metadata":       signed.Metadata,
			}, nil
		})
		return result, rpcErr, true
	case "content_exists":
		result, rpcErr := callWithSingleStringParam(rawParams, -32040, func(address string) (any, error) {
			ok, err := s.service.HasContent(ctx, address)
			if err != nil {
				return nil, err
			}
			return map[string]bool{"exists": ok}, nil
		})
		return result, rpcErr, true
	case "content_delete":
		result, rpcErr := callWithSingleStringParam(rawParams, -32040, func(address string) (any, error) {
			removed, err := s.service.DeleteContent(ctx, address)
			if err != nil {
				return nil, err
			}
			return map[string]bool{"deleted": removed}, nil
		})
		return result, rpcErr, true
	case "content_list":
		tag, err := decodeOptionalTagParam(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		items, err := s.service.ListContent(ctx, tag)
		if err != nil {
			return nil, mapServiceError(-32040, err), true
		}
		return map[string]any{"items": items, "count": len(items)}, nil, true
	case "content_verify":
		content, signatureB64, publicKeyB64, err := decodeVerifyParams(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		valid, err := s.service.VerifyDetached(content, signatureB64, publicKeyB64)
		if err != nil {
			return nil, mapServiceError(-32040, err), true
		}
		return map[string]bool{"valid": valid}, nil, true
	default:
		return nil, nil, false
	}
}
