package sockpool

import (
	"testing"

	"github.com/alexveden/quikgo/errs"
)

func TestDecodeReplySuccess(t *testing.T) {
	raw := []byte(`{"result": {"is_error": false, "value": 42}}`)
	result, err := decodeReply("datasource.Size", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, ok := result["value"].(float64); !ok || v != 42 {
		t.Fatalf("expected value=42, got %#v", result["value"])
	}
}

func TestDecodeReplyServerRejection(t *testing.T) {
	raw := []byte(`{"result": {"is_error": true, "lua_error": "bad class_code"}}`)
	_, err := decodeReply("getParamEx2", raw)
	if err == nil || err.Kind != errs.KindRPC {
		t.Fatalf("expected KindRPC error for is_error=true, got %v", err)
	}
}

func TestDecodeReplyMissingResultIsRPCError(t *testing.T) {
	raw := []byte(`{"something_else": 1}`)
	_, err := decodeReply("getClassesList", raw)
	if err == nil || err.Kind != errs.KindRPC {
		t.Fatalf("expected KindRPC error when reply carries no usable result, got %v", err)
	}
}

func TestDecodeReplyMalformedJSONIsGeneric(t *testing.T) {
	raw := []byte(`not json at all`)
	_, err := decodeReply("message", raw)
	if err == nil || err.Kind != errs.KindGeneric {
		t.Fatalf("expected KindGeneric error for malformed JSON, got %v", err)
	}
}

func TestDecodeReplyFallsBackToCP1251(t *testing.T) {
	// 0xCF 0xF0 0xE8 0xE2 0xE5 0xF2 is "Привет" in windows-1251, invalid
	// as UTF-8; the decoder must fall back rather than fail outright.
	raw := []byte{'{', '"', 'r', 'e', 's', 'u', 'l', 't', '"', ':', ' ',
		'{', '"', 'i', 's', '_', 'e', 'r', 'r', 'o', 'r', '"', ':', ' ', 'f', 'a', 'l', 's', 'e', ',',
		'"', 'm', 's', 'g', '"', ':', ' ', '"'}
	raw = append(raw, 0xCF, 0xF0, 0xE8, 0xE2, 0xE5, 0xF2)
	raw = append(raw, '"', '}', '}')

	result, err := decodeReply("message", raw)
	if err != nil {
		t.Fatalf("unexpected error decoding CP1251 fallback payload: %v", err)
	}
	if _, ok := result["msg"]; !ok {
		t.Fatalf("expected msg field to decode successfully via CP1251 fallback, got %#v", result)
	}
}

func TestCurveConfigEnabled(t *testing.T) {
	var nilCurve *CurveConfig
	if nilCurve.enabled() {
		t.Fatalf("expected nil CurveConfig to report disabled")
	}
	partial := &CurveConfig{ServerPublicKey: "x"}
	if partial.enabled() {
		t.Fatalf("expected partially filled CurveConfig to report disabled")
	}
	full := &CurveConfig{ServerPublicKey: "s", ClientPublicKey: "c", ClientSecretKey: "k"}
	if !full.enabled() {
		t.Fatalf("expected fully filled CurveConfig to report enabled")
	}
}
