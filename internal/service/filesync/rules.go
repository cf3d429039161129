package filesync

import (
	"fmt"
	"strings"

	"github.com/oshokin/extbuild/internal/config"
	"github.com/oshokin/extbuild/internal/domain/extension"
)

// Replacer rewrites script text.
type Replacer interface {
	Replace(s string) string
}

// Rules returns the rewrite applied to patched files when going from the
// source platform and schema version to target.
//
// Only chrome sources are supported. Going from V3 to V2 renames
// chrome.action to chrome.browserAction; platforms with their own API
// namespace additionally get every chrome. prefix replaced.
func Rules(sourcePlatform extension.Platform, sourceVersion int, target *config.Descriptor) (Replacer, error) {
	if sourcePlatform != extension.Chrome {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, sourcePlatform)
	}

	if sourceVersion < target.ManifestVersion {
		return nil, fmt.Errorf("%w: %d to %d for %s", extension.ErrVersionBump,
			sourceVersion, target.ManifestVersion, target.Platform)
	}

	var (
		prefix    = extension.ChromeNamespace + "."
		namespace = target.Platform.Namespace() + "."
		pairs     []string
	)

	// Pairs are tried in order, so the action rename wins over the bare prefix.
	if sourceVersion == extension.ManifestV3 && target.ManifestVersion == extension.ManifestV2 {
		pairs = append(pairs, prefix+"action", namespace+"browserAction")
	}

	if target.Platform.HasOwnNamespace() {
		pairs = append(pairs, prefix, namespace)
	}

	return strings.NewReplacer(pairs...), nil
}
