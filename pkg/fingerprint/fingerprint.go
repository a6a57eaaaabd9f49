package fingerprint

import (
	"fmt"
	"net/http"
	"sort"
)

// Profile is a named set of browser request headers
type Profile struct {
	Name    string
	Headers http.Header
}

const (
	ChromeWindows = "chrome_windows"
	ChromeMac     = "chrome_mac"
	FirefoxLinux  = "firefox_linux"
	SafariMac     = "safari_mac"
	MobileAndroid = "mobile_android"
)

// Accept-Encoding is pinned to identity so bodies reach the challenge parser
// and the cache exactly as sent.
const acceptEncoding = "identity"

const chromeAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8"

var profiles = map[string]http.Header{
	ChromeWindows: {
		"User-Agent":                {"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"},
		"Accept":                    {chromeAccept},
		"Accept-Language":           {"en-US,en;q=0.9"},
		"Sec-Ch-Ua":                 {`"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`},
		"Sec-Ch-Ua-Mobile":          {"?0"},
		"Sec-Ch-Ua-Platform":        {`"Windows"`},
		"Sec-Fetch-Dest":            {"document"},
		"Sec-Fetch-Mode":            {"navigate"},
		"Sec-Fetch-Site":            {"none"},
		"Sec-Fetch-User":            {"?1"},
		"Upgrade-Insecure-Requests": {"1"},
	},
	ChromeMac: {
		"User-Agent":                {"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"},
		"Accept":                    {chromeAccept},
		"Accept-Language":           {"en-US,en;q=0.9"},
		"Sec-Ch-Ua":                 {`"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`},
		"Sec-Ch-Ua-Mobile":          {"?0"},
		"Sec-Ch-Ua-Platform":        {`"macOS"`},
		"Sec-Fetch-Dest":            {"document"},
		"Sec-Fetch-Mode":            {"navigate"},
		"Sec-Fetch-Site":            {"none"},
		"Sec-Fetch-User":            {"?1"},
		"Upgrade-Insecure-Requests": {"1"},
	},
	FirefoxLinux: {
		"User-Agent":                {"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0"},
		"Accept":                    {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language":           {"en-US,en;q=0.5"},
		"Sec-Fetch-Dest":            {"document"},
		"Sec-Fetch-Mode":            {"navigate"},
		"Sec-Fetch-Site":            {"none"},
		"Sec-Fetch-User":            {"?1"},
		"Upgrade-Insecure-Requests": {"1"},
	},
	SafariMac: {
		"User-Agent":      {"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"},
		"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language": {"en-US,en;q=0.9"},
		"Sec-Fetch-Dest":  {"document"},
		"Sec-Fetch-Mode":  {"navigate"},
		"Sec-Fetch-Site":  {"none"},
	},
	MobileAndroid: {
		"User-Agent":                {"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36"},
		"Accept":                    {chromeAccept},
		"Accept-Language":           {"en-US,en;q=0.9"},
		"Sec-Ch-Ua-Mobile":          {"?1"},
		"Sec-Ch-Ua-Platform":        {`"Android"`},
		"Sec-Fetch-Dest":            {"document"},
		"Sec-Fetch-Mode":            {"navigate"},
		"Sec-Fetch-Site":            {"none"},
		"Sec-Fetch-User":            {"?1"},
		"Upgrade-Insecure-Requests": {"1"},
	},
}

// Names lists the registered profiles in sorted order
func Names() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Get returns a copy of the named profile
func Get(name string) (Profile, error) {
	h, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown fingerprint profile %q", name)
	}
	out := h.Clone()
	out.Set("Accept-Encoding", acceptEncoding)
	return Profile{Name: name, Headers: out}, nil
}

// Apply builds the outgoing header set: the profile first, then overrides.
// Any header named in overrides replaces the profile's value.
func (p Profile) Apply(overrides http.Header) http.Header {
	h := p.Headers.Clone()
	if h == nil {
		h = http.Header{}
	}
	for k, v := range overrides {
		h[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
	}
	return h
}
