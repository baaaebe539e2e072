package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"S3GW_CONFIG", "S3GW_ADDR", "S3GW_DATA_ROOT", "S3GW_REGION", "S3GW_AUTH_MODE",
		"S3GW_AUTH_DISABLED", "S3GW_ACCESS_KEY", "S3GW_SECRET_KEY", "S3GW_ACCESS_KEYS",
		"S3GW_MAX_CLOCK_SKEW", "S3GW_STRICT_RANGES", "S3GW_STRICT_BUCKET_NAMES", "S3GW_MAX_OBJECT_SIZE",
		"S3GW_TRACING_ENABLED", "S3GW_TRACING_SAMPLE", "S3GW_TEMP_SWEEP_INTERVAL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Address != ":9000" || cfg.Region != "us-east-1" || cfg.AuthMode != AuthSigV4 || cfg.StrictBucketNames {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("sigv4 without keys must not validate")
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
address: ":7000"
dataRoot: "/srv/buckets"
accessKeys:
  - accessKey: "AK"
    secretKey: "SK"
    user: "alice"
maxClockSkew: "5m"
strictRanges: true
limits:
  maxObjectSize: "10MiB"
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("S3GW_ADDR", ":7001")
	t.Setenv("S3GW_STRICT_BUCKET_NAMES", "true")
	t.Setenv("S3GW_ACCESS_KEYS", "AK1:SK1:bob, bad ,AK2:SK2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Address != ":7001" || cfg.DataRoot != "/srv/buckets" || !cfg.StrictRanges || !cfg.StrictBucketNames {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.AccessKeys) != 2 || cfg.AccessKeys[0].User != "bob" || cfg.AccessKeys[1].AccessKey != "AK2" {
		t.Fatalf("access keys: %+v", cfg.AccessKeys)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if d, _ := cfg.ClockSkew(); d != 5*time.Minute {
		t.Fatalf("skew = %v", d)
	}
	if n, _ := cfg.MaxObjectBytes(); n != 10<<20 {
		t.Fatalf("max object = %d", n)
	}
}

func TestEnv_SingleKeyAndAuthDisabled(t *testing.T) {
	clearEnv(t)
	t.Setenv("S3GW_ACCESS_KEY", "AK")
	t.Setenv("S3GW_SECRET_KEY", "SK")
	cfg := applyEnvOverrides(Default())
	if len(cfg.AccessKeys) != 1 || cfg.AccessKeys[0].SecretKey != "SK" {
		t.Fatalf("single key env: %+v", cfg.AccessKeys)
	}

	t.Setenv("S3GW_AUTH_DISABLED", "yes")
	t.Setenv("S3GW_TRACING_SAMPLE", "7")
	cfg = applyEnvOverrides(Default())
	if cfg.AuthMode != AuthNone || cfg.Tracing.SampleRatio != 1 {
		t.Fatalf("auth disabled / sample clamp: %+v", cfg)
	}
}

func TestValidate_Errors(t *testing.T) {
	base := Default()
	base.AccessKeys = []StaticAccessKey{{AccessKey: "a", SecretKey: "b"}}
	cases := map[string]func(*Config){
		"mode":      func(c *Config) { c.AuthMode = "basic" },
		"skew":      func(c *Config) { c.MaxClockSkew = "soon" },
		"size":      func(c *Config) { c.Limits.MaxObjectSize = "lots" },
		"root":      func(c *Config) { c.DataRoot = "" },
		"protocol":  func(c *Config) { c.Tracing.Protocol = "udp" },
		"sweep":     func(c *Config) { c.TempSweep.OlderThan = "-1h" },
		"emptyPair": func(c *Config) { c.AccessKeys = []StaticAccessKey{{AccessKey: "a"}} },
	}
	for name, mutate := range cases {
		c := base
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	none := Default()
	none.AuthMode = AuthNone
	if err := none.Validate(); err != nil {
		t.Fatalf("auth none should validate without keys: %v", err)
	}
	if d, err := none.ClockSkew(); err != nil || d != 15*time.Minute {
		t.Fatalf("default skew: %v %v", d, err)
	}
}

func TestEnsureDirs(t *testing.T) {
	cfg := Default()
	cfg.DataRoot = filepath.Join(t.TempDir(), "a", "b")
	if err := EnsureDirs(cfg); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	if st, err := os.Stat(cfg.DataRoot); err != nil || !st.IsDir() {
		t.Fatalf("data root not created: %v", err)
	}
}
