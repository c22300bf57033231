package attribution

import "strings"

// ExtractSlug pulls the link slug out of a sub-identifier of the form
// {influencer_prefix}_{slug}_{unix_timestamp}. The slug may itself contain
// underscores. Anything that is not in that form is returned trimmed, on
// the assumption that it is already a slug.
func ExtractSlug(subID string) string {
	subID = strings.TrimSpace(subID)
	parts := strings.Split(subID, "_")
	if len(parts) < 3 || parts[0] == "" || !isDigits(parts[len(parts)-1]) {
		return subID
	}
	slug := strings.Join(parts[1:len(parts)-1], "_")
	if slug == "" {
		return subID
	}
	return slug
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
