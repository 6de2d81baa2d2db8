package snapshot

import (
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/adlibio/adprep/internal/common"
)

// ExtractURLs walks a decoded snapshot and collects candidate binary media
// URLs in a fixed priority order: profile picture, page-level cover and
// profile photos, carousel cards, images, video previews, then a generic
// deep walk over any remaining string values. The result preserves
// first-seen order and contains no duplicates. Absent or malformed
// sub-fields contribute nothing; ExtractURLs never fails.
func ExtractURLs(snap Snapshot) []string {
	if snap == nil {
		return nil
	}

	c := newCollector()

	c.add(stringField(snap, "page_profile_picture_url"))
	c.add(stringField(snap, "page_profile_uri_photo"))
	if cover, ok := snap["cover_photo"].(map[string]interface{}); ok {
		c.add(firstString(cover, "url", "original_image_url"))
	}

	for _, card := range mapList(snap["cards"]) {
		c.add(firstString(card, "original_image_url", "resized_image_url", "video_preview_image_url"))
	}
	for _, img := range mapList(snap["images"]) {
		c.add(firstString(img, "original_image_url", "resized_image_url", "url"))
	}
	for _, vid := range mapList(snap["videos"]) {
		c.add(firstString(vid, "video_preview_image_url"))
		c.add(firstString(vid, "video_sd_url", "video_hd_url"))
	}

	// Fallback: anything else in the snapshot that looks like a direct
	// media link, or an HTML creative body with embedded sources.
	deepWalk(snap, c)

	return c.urls
}

// CountMedia reports how many image and video assets the snapshot declares.
// Carousel cards count toward whichever kind of asset they carry.
func CountMedia(snap Snapshot) (images, videos int) {
	if snap == nil {
		return 0, 0
	}
	images = len(mapList(snap["images"]))
	videos = len(mapList(snap["videos"]))
	for _, card := range mapList(snap["cards"]) {
		if firstString(card, "video_preview_image_url", "video_sd_url", "video_hd_url") != "" {
			videos++
		} else if firstString(card, "original_image_url", "resized_image_url") != "" {
			images++
		}
	}
	return images, videos
}

// collector accumulates URLs with first-seen-order dedup.
type collector struct {
	urls []string
	seen map[string]struct{}
}

func newCollector() *collector {
	return &collector{seen: make(map[string]struct{})}
}

func (c *collector) add(rawURL string) {
	cleaned := common.SanitizeURL(rawURL)
	if cleaned == "" || !common.IsValidURL(cleaned) {
		return
	}
	if _, ok := c.seen[cleaned]; ok {
		return
	}
	c.seen[cleaned] = struct{}{}
	c.urls = append(c.urls, cleaned)
}

// deepWalk visits every value in the snapshot in deterministic (sorted-key)
// order, collecting string values that look like direct image or video links
// and mining embedded HTML bodies for media sources.
func deepWalk(v interface{}, c *collector) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			deepWalk(val[k], c)
		}
	case []interface{}:
		for _, item := range val {
			deepWalk(item, c)
		}
	case string:
		if common.IsLikelyImageURL(val) || common.IsLikelyVideoURL(val) {
			c.add(val)
		} else if looksLikeHTML(val) {
			extractFromHTML(val, c)
		}
	}
}

// looksLikeHTML is a cheap check to avoid running goquery over every string.
func looksLikeHTML(s string) bool {
	return strings.Contains(s, "<") && strings.Contains(s, "src=")
}

// extractFromHTML harvests media sources out of an HTML creative body.
// Parse errors are swallowed; a broken body simply contributes no URLs.
func extractFromHTML(body string, c *collector) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return
	}
	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok {
			c.add(src)
		}
	})
	doc.Find("source").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok {
			c.add(src)
		}
	})
	doc.Find("video").Each(func(_ int, sel *goquery.Selection) {
		if poster, ok := sel.Attr("poster"); ok {
			c.add(poster)
		}
	})
}

// stringField returns snap[key] when it is a non-empty string.
func stringField(snap Snapshot, key string) string {
	if s, ok := snap[key].(string); ok {
		return s
	}
	return ""
}

// firstString returns the first non-empty string among the given keys of m.
func firstString(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// mapList coerces a decoded value into a list of maps, tolerating both
// missing fields and scalar garbage.
func mapList(v interface{}) []map[string]interface{} {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}
