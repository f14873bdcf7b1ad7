package common

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected DefaultConfig to be valid, got %v", err)
	}
}

func TestValidateRejectsBadFields(t *testing.T) {
	base := DefaultConfig()

	cases := []struct {
		name string
		mut  func(c Config) Config
	}{
		{"pool size", func(c Config) Config { c.PoolSize = 0; return c }},
		{"replacer K", func(c Config) Config { c.ReplacerK = 0; return c }},
		{"leaf max size", func(c Config) Config { c.LeafMaxSize = 1; return c }},
		{"internal max size", func(c Config) Config { c.InternalMaxSize = 2; return c }},
	}
	for _, tc := range cases {
		if err := tc.mut(base).Validate(); err == nil {
			t.Errorf("expected invalid %s to fail Validate", tc.name)
		}
	}
}
