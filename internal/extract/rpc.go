package extract

import (
	"encoding/json"
	"fmt"
)

// RPCInput encodes a procedure payload the way the upstream RPC layer expects it:
// the "input" query parameter carries the JSON of {"json": payload}.
func RPCInput(payload map[string]interface{}) (string, error) {
	data, err := json.Marshal(map[string]interface{}{"json": payload})
	if err != nil {
		return "", fmt.Errorf("encode rpc input: %w", err)
	}
	return string(data), nil
}

// UnwrapRPC strips the RPC response envelope, preferring result.data.json, then
// result.data, then result. Payloads without an envelope are returned unchanged.
func UnwrapRPC(payload interface{}) interface{} {
	obj, ok := payload.(map[string]interface{})
	if !ok {
		return payload
	}
	result, ok := obj["result"]
	if !ok {
		return payload
	}
	resultObj, ok := result.(map[string]interface{})
	if !ok {
		return result
	}
	data, ok := resultObj["data"]
	if !ok || data == nil {
		return result
	}
	if dataObj, ok := data.(map[string]interface{}); ok {
		if inner, ok := dataObj["json"]; ok {
			return inner
		}
	}
	return data
}
