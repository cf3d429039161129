package extension

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Platform is a browser an extension is built for.
type Platform string

// Supported platforms.
const (
	Chrome  Platform = "chrome"
	Firefox Platform = "firefox"
	Opera   Platform = "opera"
)

// Manifest schema versions understood by the translator.
const (
	ManifestV2 = 2
	ManifestV3 = 3
)

// ChromeNamespace is the extension API global used by Chromium-based browsers.
const ChromeNamespace = "chrome"

var (
	// ErrUnknownPlatform is returned when a platform name is outside the supported set.
	ErrUnknownPlatform = errors.New("unknown platform")
	// ErrVersionBump is returned when a target asks for a newer manifest schema than the source has.
	ErrVersionBump = errors.New("manifest version bump is not supported")
)

// Platforms returns every supported platform in declaration order.
func Platforms() []Platform {
	return []Platform{Chrome, Firefox, Opera}
}

// ParsePlatform converts a case-insensitive name into a Platform.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, s)
	}

	return p, nil
}

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	return slices.Contains(Platforms(), p)
}

// Namespace returns the global object through which extension APIs are reached.
// Firefox exposes them as `browser`; the others keep `chrome`.
func (p Platform) Namespace() string {
	if p == Firefox {
		return "browser"
	}

	return ChromeNamespace
}

// HasOwnNamespace reports whether scripts must be rewritten to a namespace other than chrome.
func (p Platform) HasOwnNamespace() bool {
	return p.Namespace() != ChromeNamespace
}

func (p Platform) String() string {
	return string(p)
}

// UnmarshalText accepts platform names in any case.
func (p *Platform) UnmarshalText(text []byte) error {
	parsed, err := ParsePlatform(string(text))
	if err != nil {
		return err
	}

	*p = parsed

	return nil
}
