package translator

import (
	"context"
	"fmt"
	"slices"

	"github.com/tidwall/gjson"

	"github.com/oshokin/extbuild/internal/config"
	"github.com/oshokin/extbuild/internal/domain/extension"
	"github.com/oshokin/extbuild/internal/logger"
)

// ignoredFields are never copied; the target declares its own value.
//
//nolint:gochecknoglobals // Read-only list.
var ignoredFields = []string{extension.FieldManifestVersion}

// Translate produces the manifest for target. The source manifest is not modified.
func Translate(ctx context.Context, source *extension.Manifest, target *config.Descriptor) (*extension.Manifest, error) {
	if source.SchemaVersion() < target.ManifestVersion {
		return nil, fmt.Errorf("%w: %d to %d for %s", extension.ErrVersionBump,
			source.SchemaVersion(), target.ManifestVersion, target.Platform)
	}

	var (
		downgrade = source.SchemaVersion() == extension.ManifestV3 && target.ManifestVersion == extension.ManifestV2
		result    = extension.NewManifest(target.ManifestVersion)
	)

	ctx = logger.WithKV(ctx, "platform", target.Platform)

	for _, field := range source.Fields() {
		if slices.Contains(ignoredFields, field.Name) {
			continue
		}

		logger.DebugKV(ctx, "Processing manifest field", "field", field.Name)

		var err error

		switch {
		case downgrade && field.Name == extension.FieldWebAccessibleResources:
			err = flattenResources(ctx, result, field.Value)
		case downgrade && field.Name == extension.FieldAction:
			err = result.SetRaw(extension.FieldBrowserAction, field.Value.Raw)
		case downgrade && field.Name == extension.FieldBackground:
			err = convertBackground(ctx, result, field.Value)
		default:
			err = result.SetRaw(field.Name, field.Value.Raw)
		}

		if err != nil {
			return nil, fmt.Errorf("translate %s for %s: %w", field.Name, target.Platform, err)
		}
	}

	return result, nil
}

// flattenResources turns V3 resource groups into the flat V2 list. Resources
// of every group are kept in order without duplicates; per-group matches have
// no V2 equivalent and are dropped.
func flattenResources(ctx context.Context, result *extension.Manifest, value gjson.Result) error {
	if !value.IsArray() {
		logger.Warn(ctx, "web_accessible_resources is not an array, copying as is")
		return result.SetRaw(extension.FieldWebAccessibleResources, value.Raw)
	}

	var (
		groups    = value.Array()
		resources = make([]string, 0, len(groups))
		seen      = make(map[string]struct{}, len(groups))
	)

	add := func(resource string) {
		if _, ok := seen[resource]; ok {
			return
		}

		seen[resource] = struct{}{}
		resources = append(resources, resource)
	}

	groupCount := 0

	for _, group := range groups {
		if group.Type == gjson.String {
			add(group.String())
			continue
		}

		groupCount++

		for _, resource := range group.Get("resources").Array() {
			add(resource.String())
		}
	}

	if groupCount > 1 {
		logger.WarnKV(ctx, "Merged web_accessible_resources groups, their matches are not kept in manifest V2",
			"groups", groupCount, "resources", len(resources))
	}

	return result.Set(extension.FieldWebAccessibleResources, resources)
}

// convertBackground maps a V3 service worker to a V2 background script list.
func convertBackground(ctx context.Context, result *extension.Manifest, value gjson.Result) error {
	worker := value.Get("service_worker")
	if !worker.Exists() {
		logger.Warn(ctx, "background has no service_worker, copying as is")
		return result.SetRaw(extension.FieldBackground, value.Raw)
	}

	return result.Set(extension.FieldBackground, map[string]any{
		"scripts": []string{worker.String()},
	})
}
