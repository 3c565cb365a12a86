package resolve

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// MaxPages bounds multi-page sibling expansion for _pN artwork URLs.
const MaxPages = 8

var (
	cropPrefixRe   = regexp.MustCompile(`^/c/\d+x\d+/img-master`)
	pageMasterRe   = regexp.MustCompile(`(_p\d+)_master\d+`)
	masterSuffixRe = regexp.MustCompile(`_master\d+(\.[A-Za-z0-9]+)$`)
	pageTokenRe    = regexp.MustCompile(`_p\d+`)
)

// isPixivHost reports whether the host belongs to the Pixiv image family.
func isPixivHost(host string) bool {
	host = strings.ToLower(host)
	return strings.Contains(host, "pixiv") || strings.Contains(host, "pximg")
}

// isTwitterHost reports whether the host belongs to the Twitter/X family.
func isTwitterHost(host string) bool {
	host = strings.ToLower(host)
	return strings.Contains(host, "twitter.com") || host == "x.com" || strings.HasSuffix(host, ".x.com")
}

// isTwitterMediaURL reports whether the URL points at the Twitter media CDN.
func isTwitterMediaURL(raw string) bool {
	return strings.Contains(raw, "pbs.twimg.com") || strings.Contains(raw, "twimg")
}

// NormalizeURL rewrites a Pixiv thumbnail/cropped path to its
// original-resolution variant. It strips the crop-size directory, swaps the
// master directory for the original one, removes the resolution suffix, and
// inserts the intermediate img segment the original path expects. The
// rewrite is idempotent and a no-op for hosts outside the Pixiv family; any
// parse failure returns the input unchanged.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || !isPixivHost(u.Host) {
		return raw
	}
	path := u.Path
	path = cropPrefixRe.ReplaceAllString(path, "/img-master")
	path = strings.Replace(path, "/img-master/", "/img-original/", 1)
	path = pageMasterRe.ReplaceAllString(path, "$1")
	path = masterSuffixRe.ReplaceAllString(path, "$1")
	if strings.Contains(path, "/img-original/") && !strings.Contains(path, "/img-original/img/") {
		path = strings.Replace(path, "/img-original/", "/img-original/img/", 1)
	}
	u.Path = path
	return u.String()
}

// ExpandPages enumerates sibling page URLs for a multi-image post. When the
// URL carries a _p<N> page token the token is substituted with 0..MaxPages-1
// and each sibling is normalized; otherwise the single normalized URL is
// returned.
func ExpandPages(raw string) []string {
	u, err := url.Parse(raw)
	if err != nil || !pageTokenRe.MatchString(u.Path) {
		return []string{NormalizeURL(raw)}
	}
	out := make([]string, 0, MaxPages)
	seen := make(map[string]struct{}, MaxPages)
	for i := 0; i < MaxPages; i++ {
		sibling := pageTokenRe.ReplaceAllString(raw, fmt.Sprintf("_p%d", i))
		candidate := NormalizeURL(sibling)
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}
		out = append(out, candidate)
	}
	return out
}
