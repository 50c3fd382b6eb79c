package logging

import (
	"sort"
	"testing"
)

func TestMaskFieldRedactsSecrets(t *testing.T) {
	attr := MaskField("apiKey", "sk_live_abc123")
	if attr.Value.String() != RedactedValue {
		t.Fatalf("api key leaked: %s", attr.Value.String())
	}
}

func TestMaskFieldPassesDomainIdentifiers(t *testing.T) {
	cases := map[string]string{
		"propertyId": "prop-austin-001",
		"messageId":  "0xabc",
		"pair":       "PROP/USD",
		"task":       "rent_collection",
	}
	for key, value := range cases {
		attr := MaskField(key, value)
		if attr.Value.String() != value {
			t.Fatalf("identifier %q must not be redacted, got %s", key, attr.Value.String())
		}
	}
}

func TestMaskFieldKeepsEmptyValues(t *testing.T) {
	attr := MaskField("token", "")
	if attr.Value.String() != "" {
		t.Fatalf("empty value must stay empty, got %s", attr.Value.String())
	}
}

func TestRedactionAllowlistIsSorted(t *testing.T) {
	keys := RedactionAllowlist()
	if !sort.StringsAreSorted(keys) {
		t.Fatalf("allowlist not sorted: %v", keys)
	}
	for _, secret := range []string{"apikey", "authorization", "password"} {
		if IsAllowlisted(secret) {
			t.Fatalf("secret key %q must not be allowlisted", secret)
		}
	}
}
