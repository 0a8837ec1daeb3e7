package tls

import (
	"bufio"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jittering/truststore"
)

// CertMaker installs the local CA and issues server certificates into dir.
type CertMaker func(hosts []string, dir string) (certFile, keyFile string, err error)

// Manager handles automatic TLS certificate generation for the bridge and
// trust store installation of the agent's CA.
type Manager struct {
	configDir  string
	tlsDir     string
	caDir      string
	caCertFile string
	certFile   string
	keyFile    string
	hostsFile  string
	logger     *log.Logger

	hosts     func() ([]string, error)
	makeCerts CertMaker
}

// NewManager creates a new TLS manager with the given config directory.
func NewManager(configDir string) *Manager {
	tlsDir := filepath.Join(configDir, "tls")
	caDir := filepath.Join(configDir, "ca")
	m := &Manager{
		configDir:  configDir,
		tlsDir:     tlsDir,
		caDir:      caDir,
		caCertFile: filepath.Join(caDir, "rootCA.pem"),
		certFile:   filepath.Join(tlsDir, "server.crt"),
		keyFile:    filepath.Join(tlsDir, "server.key"),
		hostsFile:  filepath.Join(tlsDir, "hosts.txt"),
		logger:     log.New(os.Stderr, "[tls] ", log.LstdFlags),
		hosts:      GetAllHosts,
	}
	m.makeCerts = m.truststoreCerts
	return m
}

// EnsureCertificates checks and generates certificates as needed.
// Returns cert and key file paths, or error. Certificates are reissued
// when the LAN addresses change, since handhelds reach the agent by IP.
// Installs CA if not already trusted (may prompt user for password).
func (m *Manager) EnsureCertificates() (certFile, keyFile string, err error) {
	if err := os.MkdirAll(m.tlsDir, 0700); err != nil {
		return "", "", fmt.Errorf("failed to create TLS directory: %w", err)
	}

	hosts, err := m.hosts()
	if err != nil {
		m.logger.Printf("Warning: failed to get LAN IPs: %v", err)
		hosts = []string{"localhost", "127.0.0.1"}
	}

	m.logger.Printf("Hosts for certificate: %v", hosts)

	switch {
	case !m.certsExist():
		m.logger.Println("Certificates not found, generating...")
	case m.hostsChanged(hosts):
		m.logger.Println("Network configuration changed, regenerating certificates...")
	default:
		m.logger.Println("Using existing certificates")
		return m.certFile, m.keyFile, nil
	}

	if err := m.generateCertificates(hosts); err != nil {
		return "", "", err
	}
	return m.certFile, m.keyFile, nil
}

// certsExist checks if both certificate files exist.
func (m *Manager) certsExist() bool {
	_, certErr := os.Stat(m.certFile)
	_, keyErr := os.Stat(m.keyFile)
	return certErr == nil && keyErr == nil
}

// hostsChanged checks if current hosts differ from cached hosts.
func (m *Manager) hostsChanged(hosts []string) bool {
	cachedHosts, err := m.readCachedHosts()
	if err != nil {
		return true
	}
	return !sameHosts(cachedHosts, hosts)
}

// sameHosts compares two host lists ignoring order.
func sameHosts(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]string(nil), a...)
	sb := append([]string(nil), b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

// readCachedHosts reads the cached hosts from file.
func (m *Manager) readCachedHosts() ([]string, error) {
	file, err := os.Open(m.hostsFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var hosts []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		host := strings.TrimSpace(scanner.Text())
		if host != "" {
			hosts = append(hosts, host)
		}
	}

	return hosts, scanner.Err()
}

// writeCachedHosts writes the hosts to cache file.
func (m *Manager) writeCachedHosts(hosts []string) error {
	return os.WriteFile(m.hostsFile, []byte(strings.Join(hosts, "\n")+"\n"), 0600)
}

// generateCertificates issues a certificate for hosts and moves it to the
// manager's file names.
func (m *Manager) generateCertificates(hosts []string) error {
	m.logger.Printf("Generating certificate for hosts: %v", hosts)

	certFile, keyFile, err := m.makeCerts(hosts, m.tlsDir)
	if err != nil {
		return err
	}

	if certFile != m.certFile {
		if err := os.Rename(certFile, m.certFile); err != nil {
			return fmt.Errorf("failed to rename cert file: %w", err)
		}
	}
	if keyFile != m.keyFile {
		if err := os.Rename(keyFile, m.keyFile); err != nil {
			return fmt.Errorf("failed to rename key file: %w", err)
		}
	}

	if err := m.writeCachedHosts(hosts); err != nil {
		m.logger.Printf("Warning: failed to cache hosts: %v", err)
	}

	m.logger.Printf("Certificate generated: %s", m.certFile)

	if fingerprint, err := m.GetCAFingerprint(); err == nil {
		m.logger.Printf("CA Fingerprint (SHA256): %s", fingerprint)
	}

	return nil
}

// truststoreCerts is the CertMaker backed by truststore. The CA lives in
// the manager's ca directory rather than the user-wide default.
func (m *Manager) truststoreCerts(hosts []string, dir string) (string, string, error) {
	if err := os.MkdirAll(m.caDir, 0700); err != nil {
		return "", "", fmt.Errorf("failed to create CA directory: %w", err)
	}
	os.Setenv("CAROOT", m.caDir)

	ml, err := truststore.NewLib()
	if err != nil {
		return "", "", fmt.Errorf("failed to initialize truststore: %w", err)
	}

	m.logger.Println("Ensuring CA is installed in system trust store...")
	m.logger.Println("(You may be prompted for your password)")

	// Install is idempotent
	if err := ml.Install(); err != nil {
		return "", "", fmt.Errorf("failed to install CA: %w", err)
	}

	cert, err := ml.MakeCert(hosts, dir)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate certificate: %w", err)
	}
	return cert.CertFile, cert.KeyFile, nil
}

// GetCertFile returns the path to the certificate file.
func (m *Manager) GetCertFile() string {
	return m.certFile
}

// GetKeyFile returns the path to the key file.
func (m *Manager) GetKeyFile() string {
	return m.keyFile
}

// GetCACertFile returns the path to the CA certificate file.
func (m *Manager) GetCACertFile() string {
	return m.caCertFile
}

// GetCAFingerprint returns the SHA256 fingerprint of the CA certificate.
func (m *Manager) GetCAFingerprint() (string, error) {
	certPEM, err := os.ReadFile(m.caCertFile)
	if err != nil {
		return "", fmt.Errorf("failed to read CA certificate: %w", err)
	}
	return Fingerprint(certPEM)
}

// Fingerprint returns the colon-separated SHA256 fingerprint of the first
// certificate in certPEM.
func Fingerprint(certPEM []byte) (string, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return "", fmt.Errorf("failed to decode PEM block")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %w", err)
	}

	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}
