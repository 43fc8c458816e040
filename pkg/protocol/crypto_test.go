package protocol

import (
	"errors"
	"testing"
)

func TestSuiteRoundTrip(t *testing.T) {
	docs := []map[string]interface{}{
		{"t": "scan"},
		{"t": "bind", "mac": "f4911e000000", "uid": float64(0)},
		{"t": "status", "cols": []interface{}{"Pow", "Mod"}, "mac": "f4911e000000"},
	}

	for _, algorithm := range []Algorithm{AlgorithmECB, AlgorithmAEAD} {
		t.Run(string(algorithm), func(t *testing.T) {
			for _, doc := range docs {
				suite := NewSuite()
				if algorithm == AlgorithmAEAD {
					suite.UseAEAD()
				}

				enc, err := suite.Encrypt(doc)
				if err != nil {
					t.Fatalf("Encrypt() error = %v", err)
				}
				if enc.Algorithm != algorithm {
					t.Errorf("Algorithm = %s, want %s", enc.Algorithm, algorithm)
				}
				if algorithm == AlgorithmAEAD && enc.Tag == "" {
					t.Error("AEAD message has no tag")
				}
				if algorithm == AlgorithmECB && enc.Tag != "" {
					t.Errorf("ECB message has tag %q", enc.Tag)
				}

				plaintext, err := suite.Decrypt(NewEnvelope(0, enc))
				if err != nil {
					t.Fatalf("Decrypt() error = %v", err)
				}
				payload, err := ParsePayload(plaintext)
				if err != nil {
					t.Fatalf("ParsePayload() error = %v", err)
				}
				if payload.Type != doc["t"] {
					t.Errorf("payload type = %q, want %q", payload.Type, doc["t"])
				}
			}
		})
	}
}

func TestSuiteStartsInECB(t *testing.T) {
	suite := NewSuite()
	if got := suite.Algorithm(); got != AlgorithmECB {
		t.Errorf("Algorithm() = %s, want %s", got, AlgorithmECB)
	}
	if got := suite.Key(); got != genericKeyECB {
		t.Errorf("Key() = %q, want generic ECB key", got)
	}
}

func TestSuiteUseAEADSwitchesGenericKey(t *testing.T) {
	suite := NewSuite()
	suite.UseAEAD()
	if got := suite.Algorithm(); got != AlgorithmAEAD {
		t.Errorf("Algorithm() = %s, want %s", got, AlgorithmAEAD)
	}
	if got := suite.Key(); got != genericKeyAEAD {
		t.Errorf("Key() = %q, want generic AEAD key", got)
	}
}

func TestSuiteApplyKey(t *testing.T) {
	suite := NewSuite()
	suite.ApplyKey("0123456789abcdef")

	enc, err := suite.Encrypt(map[string]interface{}{"t": "status"})
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if enc.Key != "0123456789abcdef" {
		t.Errorf("Key = %q, want applied session key", enc.Key)
	}

	// A suite still on the generic key must not be able to read it.
	other := NewSuite()
	if _, err := other.Decrypt(NewEnvelope(0, enc)); err == nil {
		t.Error("Decrypt() with wrong key succeeded")
	}
}

func TestDecryptFailures(t *testing.T) {
	tests := []struct {
		name string
		env  *Envelope
		aead bool
	}{
		{name: "malformed base64", env: &Envelope{Pack: "not base64!!!"}},
		{name: "truncated ciphertext", env: &Envelope{Pack: "AAAA"}},
		{name: "wrong tag", aead: true, env: func() *Envelope {
			suite := NewSuite()
			suite.UseAEAD()
			enc, _ := suite.Encrypt(map[string]interface{}{"t": "dat"})
			enc.Tag = "AAAAAAAAAAAAAAAAAAAAAA=="
			return NewEnvelope(0, enc)
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			suite := NewSuite()
			if tt.aead {
				suite.UseAEAD()
			}
			_, err := suite.Decrypt(tt.env)
			if err == nil {
				t.Fatal("Decrypt() succeeded, want error")
			}
			var cryptoErr *CryptoError
			if !errors.As(err, &cryptoErr) {
				t.Errorf("error %T is not a CryptoError", err)
			}
		})
	}
}

func TestPKCS7Unpad(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{name: "valid", data: append([]byte("0123456789abcd"), 2, 2)},
		{name: "full pad block", data: pkcs7Pad([]byte("0123456789abcdef"), 16)},
		{name: "zero pad byte", data: append(make([]byte, 15), 0), wantErr: true},
		{name: "pad larger than block", data: append(make([]byte, 15), 17), wantErr: true},
		{name: "inconsistent pad", data: append([]byte("0123456789abcd"), 1, 2), wantErr: true},
		{name: "empty", data: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pkcs7Unpad(tt.data, 16)
			if (err != nil) != tt.wantErr {
				t.Errorf("pkcs7Unpad() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
