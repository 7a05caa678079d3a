package dispatch

import (
	"regexp"
	"strconv"

	snapshotdomain "github.com/smallbiznis/creatorops/internal/snapshot/domain"
)

var placeholder = regexp.MustCompile(`\{\{\s*(entity_id|rule_name|metric:([a-z0-9_]+))\s*\}\}`)

// Expand replaces {{entity_id}}, {{rule_name}} and {{metric:<name>}}.
// Metrics absent from the snapshot render as "n/a".
func Expand(text string, dc Context) string {
	if text == "" {
		return text
	}
	return placeholder.ReplaceAllStringFunc(text, func(match string) string {
		groups := placeholder.FindStringSubmatch(match)
		switch {
		case groups[1] == "entity_id":
			return dc.EntityID
		case groups[1] == "rule_name":
			return dc.RuleName
		default:
			v, ok := dc.Snapshot.Get(groups[2])
			if !ok {
				return "n/a"
			}
			if v.Kind == snapshotdomain.KindText {
				return v.Text
			}
			return strconv.FormatFloat(v.Number, 'f', -1, 64)
		}
	})
}
