// Package gwconfig assembles the gateway's runtime configuration from three
// layers of precedence, lowest to highest: built-in defaults, an optional
// YAML file, and environment variables/CLI flags (spec §6).
package gwconfig

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config mirrors the recognized option surface of spec.md §6, generalized
// from the original chameleon.yml / argparse default table.
type Config struct {
	ConfigPath          string `yaml:"-"`
	Consul              string `yaml:"consul"`
	GRPCEndpoint        string `yaml:"grpc_endpoint"`
	RESTPort            int    `yaml:"rest_port"`
	WorkDir             string `yaml:"work_dir"`
	SwaggerURL          string `yaml:"swagger_url"`
	EnableTLS           bool   `yaml:"enable_tls"`
	Key                 string `yaml:"key"`
	Cert                string `yaml:"cert"`
	InstanceID          string `yaml:"instance_id"`
	ExternalHostAddress string `yaml:"external_host_address"`
	InternalHostAddress string `yaml:"internal_host_address"`
	Fluentd             string `yaml:"fluentd"`
	NoBanner            bool   `yaml:"-"`
	Verbosity           int    `yaml:"-"`
}

// yamlShape mirrors Config's persisted fields, using a string for
// enable_tls so "True"/"False" round-trips the way the original config
// files wrote it.
type yamlShape struct {
	Consul              string `yaml:"consul"`
	GRPCEndpoint        string `yaml:"grpc_endpoint"`
	RESTPort            int    `yaml:"rest_port"`
	WorkDir             string `yaml:"work_dir"`
	SwaggerURL          string `yaml:"swagger_url"`
	EnableTLS           string `yaml:"enable_tls"`
	Key                 string `yaml:"key"`
	Cert                string `yaml:"cert"`
	InstanceID          string `yaml:"instance_id"`
	ExternalHostAddress string `yaml:"external_host_address"`
	InternalHostAddress string `yaml:"internal_host_address"`
	Fluentd             string `yaml:"fluentd"`
}

// Defaults returns the built-in baseline, mirroring the original's `defs`
// dictionary.
func Defaults() Config {
	return Config{
		ConfigPath:   "./gateway.yml",
		Consul:       "localhost:8500",
		GRPCEndpoint: "localhost:50055",
		RESTPort:     8881,
		WorkDir:      "/tmp/grpc-rest-gateway",
		SwaggerURL:   "",
		EnableTLS:    true,
		Key:          "/etc/grpc-rest-gateway/pki/gateway.key",
		Cert:         "/etc/grpc-rest-gateway/pki/gateway.crt",
		InstanceID:   defaultInstanceID(),
	}
}

func defaultInstanceID() string {
	if h := os.Getenv("HOSTNAME"); h != "" {
		return h
	}
	return "1"
}

// Load builds a Config from defaults, an optional YAML file, environment
// variables, and CLI flags, in that order of increasing precedence. args is
// typically os.Args[1:].
func Load(args []string) (Config, error) {
	cfg := Defaults()
	applyEnv(&cfg)

	fs := flag.NewFlagSet("grpc-rest-gateway", flag.ContinueOnError)
	configPath := fs.String("config", cfg.ConfigPath, "path to YAML config file")
	consul := fs.String("consul", cfg.Consul, "host:port of the consul agent")
	grpcEndpoint := fs.String("grpc-endpoint", cfg.GRPCEndpoint, "backend endpoint, host:port or @service-name")
	restPort := fs.Int("rest-port", cfg.RESTPort, "port for the REST listener")
	workDir := fs.String("work-dir", cfg.WorkDir, "scratch directory")
	swaggerURL := fs.String("swagger-url", cfg.SwaggerURL, "mount prefix for swagger routes")
	enableTLS := fs.String("tls-enable", strconv.FormatBool(cfg.EnableTLS), "enable TLS (True/False)")
	key := fs.String("key", cfg.Key, "path to TLS private key")
	cert := fs.String("cert-file", cfg.Cert, "path to TLS certificate")
	instanceID := fs.String("instance-id", cfg.InstanceID, "unique id of this gateway instance")
	instanceIDIsContainerName := fs.Bool("instance-id-is-container-name", false, "use the docker container name as instance id")
	externalHost := fs.String("external-host-address", cfg.ExternalHostAddress, "address reachable from outside the cluster")
	internalHost := fs.String("internal-host-address", cfg.InternalHostAddress, "address reachable from inside the cluster")
	fluentd := fs.String("fluentd", cfg.Fluentd, "host:port of the fluentd collector")
	noBanner := fs.Bool("no-banner", false, "omit the startup banner")
	verbose := fs.Int("v", 0, "increase log verbosity")
	quiet := fs.Int("q", 0, "decrease log verbosity")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.ConfigPath = *configPath
	if err := applyYAMLFile(&cfg); err != nil {
		return Config{}, err
	}
	// Environment variables win over the YAML file just merged in.
	applyEnv(&cfg)
	cfg.ConfigPath = *configPath

	// Flags win over everything, including the YAML file just merged in,
	// by re-applying any flag explicitly set on the command line.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "consul":
			cfg.Consul = *consul
		case "grpc-endpoint":
			cfg.GRPCEndpoint = *grpcEndpoint
		case "rest-port":
			cfg.RESTPort = *restPort
		case "work-dir":
			cfg.WorkDir = *workDir
		case "swagger-url":
			cfg.SwaggerURL = *swaggerURL
		case "tls-enable":
			cfg.EnableTLS = strings.EqualFold(*enableTLS, "true")
		case "key":
			cfg.Key = *key
		case "cert-file":
			cfg.Cert = *cert
		case "instance-id":
			cfg.InstanceID = *instanceID
		case "external-host-address":
			cfg.ExternalHostAddress = *externalHost
		case "internal-host-address":
			cfg.InternalHostAddress = *internalHost
		case "fluentd":
			cfg.Fluentd = *fluentd
		}
	})
	cfg.NoBanner = *noBanner
	cfg.Verbosity = *verbose - *quiet

	if *instanceIDIsContainerName {
		if name, err := ContainerName(); err == nil && name != "" {
			cfg.InstanceID = name
		}
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("CONFIG"); ok {
		cfg.ConfigPath = v
	}
	if v, ok := os.LookupEnv("CONSUL"); ok {
		cfg.Consul = v
	}
	if v, ok := os.LookupEnv("GRPC_ENDPOINT"); ok {
		cfg.GRPCEndpoint = v
	}
	if v, ok := os.LookupEnv("REST_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RESTPort = n
		}
	}
	if v, ok := os.LookupEnv("WORK_DIR"); ok {
		cfg.WorkDir = v
	}
	if v, ok := os.LookupEnv("SWAGGER_URL"); ok {
		cfg.SwaggerURL = v
	}
	if v, ok := os.LookupEnv("ENABLE_TLS"); ok {
		cfg.EnableTLS = strings.EqualFold(v, "true")
	}
	if v, ok := os.LookupEnv("KEY"); ok {
		cfg.Key = v
	}
	if v, ok := os.LookupEnv("CERT"); ok {
		cfg.Cert = v
	}
	if v, ok := os.LookupEnv("INSTANCE_ID"); ok {
		cfg.InstanceID = v
	}
	if v, ok := os.LookupEnv("EXTERNAL_HOST_ADDRESS"); ok {
		cfg.ExternalHostAddress = v
	}
	if v, ok := os.LookupEnv("INTERNAL_HOST_ADDRESS"); ok {
		cfg.InternalHostAddress = v
	}
	if v, ok := os.LookupEnv("FLUENTD"); ok {
		cfg.Fluentd = v
	}
}

func applyYAMLFile(cfg *Config) error {
	if cfg.ConfigPath == "" {
		return nil
	}
	data, err := os.ReadFile(cfg.ConfigPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("gwconfig: reading %q: %w", cfg.ConfigPath, err)
	}
	var shape yamlShape
	if err := yaml.Unmarshal(data, &shape); err != nil {
		return fmt.Errorf("gwconfig: parsing %q: %w", cfg.ConfigPath, err)
	}
	mergeYAML(cfg, shape)
	return nil
}

func mergeYAML(cfg *Config, y yamlShape) {
	if y.Consul != "" {
		cfg.Consul = y.Consul
	}
	if y.GRPCEndpoint != "" {
		cfg.GRPCEndpoint = y.GRPCEndpoint
	}
	if y.RESTPort != 0 {
		cfg.RESTPort = y.RESTPort
	}
	if y.WorkDir != "" {
		cfg.WorkDir = y.WorkDir
	}
	if y.SwaggerURL != "" {
		cfg.SwaggerURL = y.SwaggerURL
	}
	if y.EnableTLS != "" {
		cfg.EnableTLS = strings.EqualFold(y.EnableTLS, "true")
	}
	if y.Key != "" {
		cfg.Key = y.Key
	}
	if y.Cert != "" {
		cfg.Cert = y.Cert
	}
	if y.InstanceID != "" {
		cfg.InstanceID = y.InstanceID
	}
	if y.ExternalHostAddress != "" {
		cfg.ExternalHostAddress = y.ExternalHostAddress
	}
	if y.InternalHostAddress != "" {
		cfg.InternalHostAddress = y.InternalHostAddress
	}
	if y.Fluentd != "" {
		cfg.Fluentd = y.Fluentd
	}
}

// ResolveTLS reports whether the listener should use TLS given the
// configured key/cert paths. TLS auto-disables (with the caller expected to
// log which file is missing) when either file does not exist, even if
// EnableTLS is true (spec §6, scenario 6).
func (c Config) ResolveTLS() (useTLS bool, missingKey, missingCert bool) {
	if !c.EnableTLS {
		return false, false, false
	}
	_, keyErr := os.Stat(c.Key)
	_, certErr := os.Stat(c.Cert)
	missingKey = os.IsNotExist(keyErr)
	missingCert = os.IsNotExist(certErr)
	return !missingKey && !missingCert, missingKey, missingCert
}
