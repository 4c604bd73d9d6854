package utils

import "testing"

func TestValidateInstanceName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"Simple name", "proxy1", true},
		{"With hyphen and underscore", "my-proxy_01", true},
		{"Empty", "", false},
		{"Path traversal", "../etc", false},
		{"Slash", "a/b", false},
		{"Backslash", "a\\b", false},
		{"Dot", "a.b", false},
		{"Space", "my proxy", false},
		{"Too long", string(make([]byte, 65)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateInstanceName(tt.input); got != tt.expected {
				t.Errorf("ValidateInstanceName(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestValidateHostPort(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"Domain with port", "vpn.example.com:1194", true},
		{"IP with port", "192.168.1.1:443", true},
		{"Boundary port low", "host:1", true},
		{"Boundary port high", "host:65535", true},
		{"Empty", "", false},
		{"Missing port", "vpn.example.com", false},
		{"Port zero", "host:0", false},
		{"Port too large", "host:65536", false},
		{"Non-numeric port", "host:abc", false},
		{"Embedded whitespace", "my host:1194", false},
		{"Embedded path", "host/path:1194", false},
		{"Empty host", ":1194", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateHostPort(tt.input); got != tt.expected {
				t.Errorf("ValidateHostPort(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestValidatePort(t *testing.T) {
	tests := []struct {
		name     string
		port     int
		expected bool
	}{
		{"Low boundary", 1, true},
		{"High boundary", 65535, true},
		{"Zero", 0, false},
		{"Negative", -1, false},
		{"Above range", 65536, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidatePort(tt.port); got != tt.expected {
				t.Errorf("ValidatePort(%d) = %v, want %v", tt.port, got, tt.expected)
			}
		})
	}
}

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain domain", "cover.example.com", "cover.example.com"},
		{"Uppercase", "Cover.Example.COM", "cover.example.com"},
		{"Empty", "", ""},
		{"Invalid chars", "co ver.example.com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeDomain(tt.input); got != tt.expected {
				t.Errorf("NormalizeDomain(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("secret123")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if !CheckPassword("secret123", hash) {
		t.Error("CheckPassword() = false for correct password")
	}
	if CheckPassword("wrong", hash) {
		t.Error("CheckPassword() = true for wrong password")
	}
}
