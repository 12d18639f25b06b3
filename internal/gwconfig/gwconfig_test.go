package gwconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsMatchOriginalBaseline(t *testing.T) {
	d := Defaults()
	if d.Consul != "localhost:8500" {
		t.Errorf("Consul = %q", d.Consul)
	}
	if d.GRPCEndpoint != "localhost:50055" {
		t.Errorf("GRPCEndpoint = %q", d.GRPCEndpoint)
	}
	if d.RESTPort != 8881 {
		t.Errorf("RESTPort = %d", d.RESTPort)
	}
	if !d.EnableTLS {
		t.Error("EnableTLS should default true")
	}
}

func TestLoadAppliesEnvOverDefaults(t *testing.T) {
	t.Setenv("GRPC_ENDPOINT", "@backend-service")
	t.Setenv("REST_PORT", "9999")
	t.Setenv("CONFIG", "")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCEndpoint != "@backend-service" {
		t.Errorf("GRPCEndpoint = %q", cfg.GRPCEndpoint)
	}
	if cfg.RESTPort != 9999 {
		t.Errorf("RESTPort = %d", cfg.RESTPort)
	}
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("REST_PORT", "9999")
	t.Setenv("CONFIG", "")

	cfg, err := Load([]string{"-rest-port", "7000"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RESTPort != 7000 {
		t.Errorf("RESTPort = %d, want 7000 (flag should win over env)", cfg.RESTPort)
	}
}

func TestLoadMergesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yml")
	yamlBody := "grpc_endpoint: \"@from-yaml\"\nrest_port: 1234\nenable_tls: \"False\"\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("CONFIG", path)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCEndpoint != "@from-yaml" {
		t.Errorf("GRPCEndpoint = %q", cfg.GRPCEndpoint)
	}
	if cfg.RESTPort != 1234 {
		t.Errorf("RESTPort = %d", cfg.RESTPort)
	}
	if cfg.EnableTLS {
		t.Error("EnableTLS should be false per the YAML file")
	}
}

func TestResolveTLSAutoDisablesOnMissingFiles(t *testing.T) {
	cfg := Defaults()
	cfg.Key = "/nonexistent/key.pem"
	cfg.Cert = "/nonexistent/cert.pem"

	useTLS, missingKey, missingCert := cfg.ResolveTLS()
	if useTLS {
		t.Error("expected TLS to auto-disable when key/cert are missing")
	}
	if !missingKey || !missingCert {
		t.Errorf("missingKey=%v missingCert=%v, want both true", missingKey, missingCert)
	}
}

func TestResolveTLSRespectsExplicitDisable(t *testing.T) {
	cfg := Defaults()
	cfg.EnableTLS = false

	useTLS, missingKey, missingCert := cfg.ResolveTLS()
	if useTLS || missingKey || missingCert {
		t.Errorf("expected no TLS and no missing-file flags when TLS is explicitly disabled")
	}
}
