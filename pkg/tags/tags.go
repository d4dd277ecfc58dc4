package tags

import (
	"fmt"
	"sort"
	"strings"
)

// ReservedName is the label key that holds the application name on the
// collector side. It is never sent as a tag.
const ReservedName = "__name__"

// Merge combines an application name with a label set into a single
// profile key, e.g. "app.cpu{env=staging,region=eu}". Tags are rendered
// as key=value and sorted on the rendered string, so the output does not
// depend on map iteration order.
func Merge(appName string, tags map[string]string) string {
	rendered := make([]string, 0, len(tags))
	for k, v := range tags {
		if k == ReservedName {
			continue
		}
		rendered = append(rendered, fmt.Sprintf("%s=%s", k, v))
	}
	if len(rendered) == 0 {
		return appName
	}
	sort.Strings(rendered)

	return fmt.Sprintf("%s{%s}", appName, strings.Join(rendered, ","))
}
