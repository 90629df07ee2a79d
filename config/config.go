package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"code.cloudfoundry.org/localip"
	"go.step.sm/crypto/pemutil"
	"gopkg.in/yaml.v2"
)

var AllowedClientCertValidationModes = []string{"none", "request", "require"}

type TLSPem struct {
	CertChain  string `yaml:"cert_chain"`
	PrivateKey string `yaml:"private_key"`
}

type LoggingConfig struct {
	Level  string       `yaml:"level"`
	Format FormatConfig `yaml:"format"`
}

type FormatConfig struct {
	Timestamp string `yaml:"timestamp"`
}

var defaultLoggingConfig = LoggingConfig{
	Level: "debug",
	Format: FormatConfig{
		Timestamp: "unix-epoch",
	},
}

type BrigConfig struct {
	Enabled                 bool          `yaml:"enabled"`
	VulnSeekingJailDuration time.Duration `yaml:"vuln_seeking_jail_duration"`
	SweepInterval           time.Duration `yaml:"sweep_interval"`
	SuspiciousPaths         []string      `yaml:"suspicious_paths"`
}

var defaultBrigConfig = BrigConfig{
	Enabled:                 true,
	VulnSeekingJailDuration: 10 * time.Second,
	SweepInterval:           time.Minute,
	SuspiciousPaths: []string{
		".php", ".env", ".git", "wp-login", "wp-admin", "admin.cgi",
		"/cgi-bin/", "phpmyadmin", "/etc/passwd", ".aws", "config.json",
	},
}

type StaticFilesConfig struct {
	Directory    string `yaml:"directory"`
	CacheControl string `yaml:"cache_control"`
}

type Config struct {
	Host       string `yaml:"host"`
	Port       uint16 `yaml:"port"`
	SecurePort uint16 `yaml:"secure_port"`

	EnablePROXY bool `yaml:"enable_proxy"`

	TLSPEM                            TLSPem             `yaml:"tls_pem,omitempty"`
	SSLCertificate                    tls.Certificate    `yaml:"-"`
	ClientCACerts                     string             `yaml:"client_ca_certs,omitempty"`
	ClientCAPool                      *x509.CertPool     `yaml:"-"`
	ClientCertificateValidationString string             `yaml:"client_cert_validation,omitempty"`
	ClientCertificateValidation       tls.ClientAuthType `yaml:"-"`
	MinTLSVersionString               string             `yaml:"min_tls_version,omitempty"`
	MaxTLSVersionString               string             `yaml:"max_tls_version,omitempty"`
	MinTLSVersion                     uint16             `yaml:"-"`
	MaxTLSVersion                     uint16             `yaml:"-"`

	MaxReadLineSizeBytes int `yaml:"max_read_line_size_bytes"`
	MaxReadSizeBytes     int `yaml:"max_read_size_bytes"`
	MaxHeadersCount      int `yaml:"max_headers_count"`

	SocketTimeout    time.Duration `yaml:"socket_timeout"`
	KeepAliveTimeout time.Duration `yaml:"keep_alive_timeout"`

	MaxConnections  int64         `yaml:"max_connections"`
	AcceptQueueWait time.Duration `yaml:"accept_queue_wait"`
	DrainWait       time.Duration `yaml:"drain_wait"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`

	StaticFiles StaticFilesConfig `yaml:"static_files"`
	DBDirectory string            `yaml:"db_directory"`

	Brig BrigConfig `yaml:"the_brig"`

	Logging LoggingConfig `yaml:"logging"`

	GoMaxProcs int    `yaml:"go_max_procs,omitempty"`
	PidFile    string `yaml:"pid_file,omitempty"`

	// This field is populated by the `Process` function.
	Ip string `yaml:"-"`
}

var defaultConfig = Config{
	Host:       "0.0.0.0",
	Port:       8080,
	SecurePort: 0,

	GoMaxProcs: -1,

	MaxReadLineSizeBytes: 1024,
	MaxReadSizeBytes:     10 * 1024 * 1024,
	MaxHeadersCount:      70,

	SocketTimeout:    7 * time.Second,
	KeepAliveTimeout: 3 * time.Second,

	MaxConnections:  512,
	AcceptQueueWait: 500 * time.Millisecond,
	DrainWait:       0,
	DrainTimeout:    10 * time.Second,

	StaticFiles: StaticFilesConfig{
		Directory:    "static",
		CacheControl: "max-age=604800",
	},
	DBDirectory: "db",

	Brig:    defaultBrigConfig,
	Logging: defaultLoggingConfig,
}

func DefaultConfig() (*Config, error) {
	c := defaultConfig
	return &c, nil
}

func InitConfigFromFile(path string) (*Config, error) {
	c, err := DefaultConfig()
	if err != nil {
		return nil, err
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err = c.Initialize(b); err != nil {
		return nil, err
	}

	if err = c.Process(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Config) Initialize(configYAML []byte) error {
	return yaml.Unmarshal(configYAML, &c)
}

// Process validates the configuration and derives the runtime-only fields
// (local IP, parsed certificates, TLS versions).
func (c *Config) Process() error {
	var localIPErr error
	c.Ip, localIPErr = localip.LocalIP()
	if localIPErr != nil {
		return localIPErr
	}

	if c.MaxReadLineSizeBytes <= 0 {
		return fmt.Errorf("max_read_line_size_bytes must be positive, got %d", c.MaxReadLineSizeBytes)
	}
	if c.MaxReadSizeBytes <= 0 {
		return fmt.Errorf("max_read_size_bytes must be positive, got %d", c.MaxReadSizeBytes)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive, got %d", c.MaxConnections)
	}

	if c.DrainTimeout == 0 {
		c.DrainTimeout = c.SocketTimeout
	}

	if !c.SecureEnabled() {
		return nil
	}

	if c.TLSPEM.CertChain == "" || c.TLSPEM.PrivateKey == "" {
		return fmt.Errorf("secure_port is set but tls_pem is incomplete")
	}

	certificate, err := tls.X509KeyPair([]byte(c.TLSPEM.CertChain), []byte(c.TLSPEM.PrivateKey))
	if err != nil {
		return fmt.Errorf("Error loading key pair: %s", err.Error())
	}
	c.SSLCertificate = certificate

	switch c.ClientCertificateValidationString {
	case "", "none":
		c.ClientCertificateValidation = tls.NoClientCert
	case "request":
		c.ClientCertificateValidation = tls.VerifyClientCertIfGiven
	case "require":
		c.ClientCertificateValidation = tls.RequireAndVerifyClientCert
	default:
		return fmt.Errorf(`client_cert_validation must be one of 'none', 'request' or 'require'.`)
	}

	if err := c.buildClientCertPool(); err != nil {
		return err
	}

	c.MinTLSVersion, err = parseTLSVersion(c.MinTLSVersionString, tls.VersionTLS12)
	if err != nil {
		return err
	}
	c.MaxTLSVersion, err = parseTLSVersion(c.MaxTLSVersionString, tls.VersionTLS13)
	if err != nil {
		return err
	}

	return nil
}

func (c *Config) SecureEnabled() bool {
	return c.SecurePort != 0
}

func (c *Config) buildClientCertPool() error {
	if c.ClientCACerts == "" {
		if c.ClientCertificateValidation != tls.NoClientCert {
			return fmt.Errorf(`client_ca_certs cannot be empty if client_cert_validation is set to 'request' or 'require'.`)
		}
		return nil
	}

	bundle, err := pemutil.ParseCertificateBundle([]byte(c.ClientCACerts))
	if err != nil {
		return err
	}

	certPool := x509.NewCertPool()
	for _, cert := range bundle {
		certPool.AddCert(cert)
	}
	c.ClientCAPool = certPool
	return nil
}

func parseTLSVersion(s string, dflt uint16) (uint16, error) {
	switch s {
	case "":
		return dflt, nil
	case "TLSv1.0":
		return tls.VersionTLS10, nil
	case "TLSv1.1":
		return tls.VersionTLS11, nil
	case "TLSv1.2":
		return tls.VersionTLS12, nil
	case "TLSv1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version: %s", s)
	}
}
