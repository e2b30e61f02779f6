package metadata

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Metadata{"a": "1", "b": "2"}
	clone := original.Clone()
	clone["a"] = "changed"

	if original["a"] != "1" {
		t.Fatalf("expected original map to stay untouched, got %q", original["a"])
	}
	if len(clone) != len(original) {
		t.Fatalf("expected clone to have same size")
	}
}

func TestCloneEmpty(t *testing.T) {
	var m Metadata
	cloned := m.Clone()
	if cloned == nil {
		t.Fatal("expected non-nil map")
	}
	if len(cloned) != 0 {
		t.Fatal("expected empty map")
	}
}

func TestWith(t *testing.T) {
	base := Metadata{"foo": "bar"}
	enriched := base.With("baz", "qux")
	if _, ok := base["baz"]; ok {
		t.Fatalf("expected base map to remain unchanged")
	}
	if enriched["baz"] != "qux" || enriched["foo"] != "bar" {
		t.Fatalf("unexpected enriched map: %v", enriched)
	}
}

func TestConnectorHeaders(t *testing.T) {
	md := Connector("flow", "id", "/zf/data/flow/id/src/out", "sender-flow-id-src-out", "proto", "application/x-protobuf")
	if md.Codec() != "proto" {
		t.Fatalf("expected codec header, got %q", md.Codec())
	}
	if md[KeyResource] != "/zf/data/flow/id/src/out" {
		t.Fatalf("expected resource header, got %q", md[KeyResource])
	}
	if md[KeySender] != "sender-flow-id-src-out" {
		t.Fatalf("expected sender header, got %q", md[KeySender])
	}
}

func TestApplyAndFromWatermill(t *testing.T) {
	msg := message.NewMessage("uuid", nil)
	Metadata{"source": "api"}.Apply(msg)
	if msg.Metadata.Get("source") != "api" {
		t.Fatalf("expected header to be applied")
	}

	md := FromWatermill(msg.Metadata)
	msg.Metadata.Set("source", "mutation")
	if md["source"] != "api" {
		t.Fatalf("expected copy to be independent of the watermill message")
	}
}

func TestFromWatermillEmpty(t *testing.T) {
	md := FromWatermill(nil)
	if md == nil {
		t.Fatal("expected non-nil map")
	}
	if len(md) != 0 {
		t.Fatal("expected empty map")
	}
}
