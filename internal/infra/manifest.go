package infra

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// HostName is the native-messaging host name the extension connects to.
const HostName = "com.elitegoblin.sitegate"

// Browser identifies a browser family with its own manifest directory.
type Browser string

const (
	BrowserChrome   Browser = "chrome"
	BrowserChromium Browser = "chromium"
	BrowserBrave    Browser = "brave"
	BrowserEdge     Browser = "edge"
	BrowserFirefox  Browser = "firefox"
)

// AllBrowsers lists every supported browser.
var AllBrowsers = []Browser{BrowserChrome, BrowserChromium, BrowserBrave, BrowserEdge, BrowserFirefox}

// ParseBrowser converts a flag value to a Browser.
func ParseBrowser(s string) (Browser, error) {
	b := Browser(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllBrowsers {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown browser %q", s)
}

// hostManifest is the JSON document browsers read to launch the host.
// Chromium browsers use allowed_origins, Firefox uses allowed_extensions.
type hostManifest struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	Path              string   `json:"path"`
	Type              string   `json:"type"`
	AllowedOrigins    []string `json:"allowed_origins,omitempty"`
	AllowedExtensions []string `json:"allowed_extensions,omitempty"`
}

// ManifestManager installs the native-messaging host manifest for one browser.
type ManifestManager struct {
	browser      Browser
	manifestDir  string
	manifestPath string
}

// NewManifestManager creates a manifest manager for browser under home.
func NewManifestManager(browser Browser, home string) *ManifestManager {
	dir := manifestDir(browser, home, runtime.GOOS)
	return &ManifestManager{
		browser:      browser,
		manifestDir:  dir,
		manifestPath: filepath.Join(dir, HostName+".json"),
	}
}

// Path returns the manifest file location.
func (m *ManifestManager) Path() string {
	return m.manifestPath
}

func manifestDir(browser Browser, home, goos string) string {
	if goos == "darwin" {
		support := filepath.Join(home, "Library", "Application Support")
		switch browser {
		case BrowserChromium:
			return filepath.Join(support, "Chromium", "NativeMessagingHosts")
		case BrowserBrave:
			return filepath.Join(support, "BraveSoftware", "Brave-Browser", "NativeMessagingHosts")
		case BrowserEdge:
			return filepath.Join(support, "Microsoft Edge", "NativeMessagingHosts")
		case BrowserFirefox:
			return filepath.Join(support, "Mozilla", "NativeMessagingHosts")
		default:
			return filepath.Join(support, "Google", "Chrome", "NativeMessagingHosts")
		}
	}

	config := filepath.Join(home, ".config")
	switch browser {
	case BrowserChromium:
		return filepath.Join(config, "chromium", "NativeMessagingHosts")
	case BrowserBrave:
		return filepath.Join(config, "BraveSoftware", "Brave-Browser", "NativeMessagingHosts")
	case BrowserEdge:
		return filepath.Join(config, "microsoft-edge", "NativeMessagingHosts")
	case BrowserFirefox:
		return filepath.Join(home, ".mozilla", "native-messaging-hosts")
	default:
		return filepath.Join(config, "google-chrome", "NativeMessagingHosts")
	}
}

// generateManifest renders the manifest for execPath and extensionIDs.
func (m *ManifestManager) generateManifest(execPath string, extensionIDs []string) ([]byte, error) {
	manifest := hostManifest{
		Name:        HostName,
		Description: "sitegate access gate and session tracker",
		Path:        execPath,
		Type:        "stdio",
	}
	for _, id := range extensionIDs {
		if m.browser == BrowserFirefox {
			manifest.AllowedExtensions = append(manifest.AllowedExtensions, id)
		} else {
			manifest.AllowedOrigins = append(manifest.AllowedOrigins, "chrome-extension://"+id+"/")
		}
	}

	content, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return append(content, '\n'), nil
}

// Install writes the manifest.
func (m *ManifestManager) Install(execPath string, extensionIDs []string) error {
	if len(extensionIDs) == 0 {
		return fmt.Errorf("at least one extension id is required")
	}
	if !filepath.IsAbs(execPath) {
		return fmt.Errorf("host path must be absolute: %s", execPath)
	}

	if err := os.MkdirAll(m.manifestDir, 0755); err != nil {
		return err
	}

	content, err := m.generateManifest(execPath, extensionIDs)
	if err != nil {
		return err
	}
	return os.WriteFile(m.manifestPath, content, 0644)
}

// Uninstall removes the manifest.
func (m *ManifestManager) Uninstall() error {
	err := os.Remove(m.manifestPath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// IsInstalled checks if the manifest exists.
func (m *ManifestManager) IsInstalled() bool {
	_, err := os.Stat(m.manifestPath)
	return err == nil
}

// NeedsUpdate checks if the manifest exists but differs from what Install would write.
func (m *ManifestManager) NeedsUpdate(execPath string, extensionIDs []string) bool {
	if !m.IsInstalled() {
		return false // Doesn't exist, needs install not update
	}

	current, err := os.ReadFile(m.manifestPath)
	if err != nil {
		return true
	}
	expected, err := m.generateManifest(execPath, extensionIDs)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// IsHostInvocation reports whether args look like a browser launching the
// host: Chromium passes the caller origin, Firefox the manifest path and
// the extension id.
func IsHostInvocation(args []string) bool {
	if len(args) == 0 {
		return false
	}
	first := args[0]
	return strings.HasPrefix(first, "chrome-extension://") ||
		(strings.HasSuffix(first, HostName+".json") && filepath.IsAbs(first))
}
