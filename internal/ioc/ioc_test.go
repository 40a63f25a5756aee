package ioc

import (
	"strings"
	"testing"

	"github.com/threatlens/threatlens/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  models.IndicatorType
	}{
		{"ipv4", "8.8.8.8", models.TypeIPv4},
		{"ipv4 high octets", "255.255.255.255", models.TypeIPv4},
		{"ipv6", "2001:db8::1", models.TypeIPv6},
		{"ipv6 full", "2001:0db8:0000:0000:0000:0000:0000:0001", models.TypeIPv6},
		{"domain", "example.com", models.TypeDomain},
		{"subdomain", "mail.corp.example.co.uk", models.TypeDomain},
		{"url http", "http://example.com", models.TypeURL},
		{"url https path", "https://example.com/a/b?q=1", models.TypeURL},
		{"url ftp", "ftp://files.example.com/x.bin", models.TypeURL},
		{"url with port", "https://example.com:8443/login", models.TypeURL},
		{"md5", "d41d8cd98f00b204e9800998ecf8427e", models.TypeMD5},
		{"sha1", "da39a3ee5e6b4b0d3255bfef95601890afd80709", models.TypeSHA1},
		{"sha256", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", models.TypeSHA256},
		{"sha256 uppercase", "E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855", models.TypeSHA256},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.input)
			if err != nil {
				t.Fatalf("Classify(%q) returned error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestClassifyErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"empty", "", ErrEmptyOrTooLong},
		{"too long", strings.Repeat("a", MaxInputLength+1), ErrEmptyOrTooLong},
		{"garbage", "not an indicator!!", ErrUnrecognized},
		{"bad scheme", "gopher://example.com", ErrUnrecognized},
		{"single label", "localhost", ErrUnrecognized},
		{"bad octet", "999.1.1.1", ErrUnrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Classify(tt.input)
			if err != tt.wantErr {
				t.Errorf("Classify(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

// Hash detection takes precedence over everything: any 64-hex string is
// SHA-256 even though it also matches weaker shapes.
func TestClassifyPrecedence(t *testing.T) {
	hex64 := strings.Repeat("ab", 32)
	got, err := Classify(hex64)
	if err != nil {
		t.Fatal(err)
	}
	if got != models.TypeSHA256 {
		t.Errorf("64-hex string classified as %s, want %s", got, models.TypeSHA256)
	}

	// Schemed vs bare: the same host flips between url and domain.
	if got, _ := Classify("example.com"); got != models.TypeDomain {
		t.Errorf("example.com classified as %s, want domain", got)
	}
	if got, _ := Classify("http://example.com"); got != models.TypeURL {
		t.Errorf("http://example.com classified as %s, want url", got)
	}
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		typ   models.IndicatorType
		want  string
	}{
		{"ip unchanged", "8.8.8.8", models.TypeIPv4, "8.8.8.8"},
		{"domain lowered", "EXAMPLE.Com", models.TypeDomain, "example.com"},
		{"domain trailing dot", "example.com.", models.TypeDomain, "example.com"},
		{"hash lowered", "D41D8CD98F00B204E9800998ECF8427E", models.TypeMD5, "d41d8cd98f00b204e9800998ecf8427e"},
		{"url scheme host lowered", "HTTP://EXAMPLE.com/Path?Q=1", models.TypeURL, "http://example.com/Path?Q=1"},
		{"url fragment dropped", "https://example.com/page#section", models.TypeURL, "https://example.com/page"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Canonicalize(tt.input, tt.typ)
			if got != tt.want {
				t.Errorf("Canonicalize(%q, %s) = %q, want %q", tt.input, tt.typ, got, tt.want)
			}
		})
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	inputs := []struct {
		value string
		typ   models.IndicatorType
	}{
		{"8.8.8.8", models.TypeIPv4},
		{"2001:db8::1", models.TypeIPv6},
		{"Example.COM.", models.TypeDomain},
		{"HTTPS://Example.com/A?b=C#frag", models.TypeURL},
		{"DA39A3EE5E6B4B0D3255BFEF95601890AFD80709", models.TypeSHA1},
	}

	for _, in := range inputs {
		once := Canonicalize(in.value, in.typ)
		twice := Canonicalize(once, in.typ)
		if once != twice {
			t.Errorf("Canonicalize not idempotent for %q (%s): %q != %q", in.value, in.typ, once, twice)
		}
	}
}
