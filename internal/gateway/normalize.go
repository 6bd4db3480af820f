package gateway

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yattee/server/internal/extractor"
	"github.com/yattee/server/internal/invidious"
	"github.com/yattee/server/internal/models"
)

var thumbnailFilePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}\.(jpg|jpeg|webp|png)$`)

var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"x-auth-token":        true,
	"x-token":             true,
	"proxy-authorization": true,
	"www-authenticate":    true,
}

// filterHeaders drops credentials an administrator may have configured for a
// site before stream headers reach clients.
func filterHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		lower := strings.ToLower(k)
		if sensitiveHeaders[lower] || strings.HasPrefix(lower, "x-secret") || strings.HasPrefix(lower, "x-password") {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func thumbnailQuality(width, height int) string {
	if width == 0 || height == 0 {
		return "default"
	}
	switch {
	case width >= 1280:
		return "maxres"
	case width >= 640:
		return "sddefault"
	case width >= 480:
		return "high"
	case width >= 320:
		return "medium"
	}
	return "default"
}

var qualityRank = map[string]int{
	"maxres":        5,
	"maxresdefault": 5,
	"sddefault":     4,
	"high":          3,
	"medium":        2,
	"default":       1,
}

func convertThumbnails(thumbs []extractor.Thumbnail) []models.Thumbnail {
	out := make([]models.Thumbnail, 0, len(thumbs))
	for _, t := range thumbs {
		if t.URL == "" {
			continue
		}
		out = append(out, models.Thumbnail{
			Quality: thumbnailQuality(t.Width, t.Height),
			URL:     t.URL,
			Width:   t.Width,
			Height:  t.Height,
		})
	}
	return out
}

// bestThumbnail picks the widest thumbnail, or the highest named quality when
// widths are unknown.
func bestThumbnail(thumbs []models.Thumbnail) (models.Thumbnail, bool) {
	if len(thumbs) == 0 {
		return models.Thumbnail{}, false
	}
	best := thumbs[0]
	for _, t := range thumbs[1:] {
		switch {
		case t.Width > best.Width:
			best = t
		case t.Width == best.Width && qualityRank[t.Quality] > qualityRank[best.Quality]:
			best = t
		}
	}
	return best, true
}

func resolveThumbnails(thumbs []models.Thumbnail, base string) []models.Thumbnail {
	if thumbs == nil {
		return []models.Thumbnail{}
	}
	out := make([]models.Thumbnail, len(thumbs))
	for i, t := range thumbs {
		t.URL = invidious.ResolveURL(t.URL, base)
		if t.Quality == "" {
			t.Quality = "default"
		}
		out[i] = t
	}
	return out
}

func authorThumbnail(info extractor.Info) []models.Thumbnail {
	for _, t := range info.Thumbnails {
		if strings.Contains(t.URL, "yt3.ggpht.com") || strings.Contains(t.URL, "/a-/") {
			return []models.Thumbnail{{Quality: "default", URL: t.URL, Width: 88, Height: 88}}
		}
	}
	return nil
}

var authorURLPatterns = []struct {
	prefix string
	format string
}{
	{"dailymotion", "https://www.dailymotion.com/%s"},
	{"vimeo", "https://vimeo.com/%s"},
	{"soundcloud", "https://soundcloud.com/%s"},
	{"tiktok", "https://www.tiktok.com/@%s"},
	{"instagram", "https://www.instagram.com/%s"},
	{"facebook", "https://www.facebook.com/%s"},
	{"twitch", "https://www.twitch.tv/%s"},
	{"bilibili", "https://space.bilibili.com/%s"},
	{"niconico", "https://www.nicovideo.jp/user/%s"},
	{"rutube", "https://rutube.ru/channel/%s"},
}

// authorURL returns the channel page of info, building one from known site
// patterns or the page's host when the extractor did not report it.
func authorURL(info extractor.Info) string {
	if u := info.AuthorURL(); u != "" {
		return u
	}
	id := info.AuthorID()
	if id == "" {
		return ""
	}
	name := strings.ToLower(info.ExtractorName())
	for _, p := range authorURLPatterns {
		if strings.HasPrefix(name, p.prefix) {
			return fmt.Sprintf(p.format, id)
		}
	}
	if page, err := url.Parse(info.PageURL()); err == nil && page.Host != "" {
		return page.Scheme + "://" + page.Host + "/" + id
	}
	return ""
}

func publishedText(published, now time.Time) string {
	if published.IsZero() {
		return ""
	}
	days := int(now.Sub(published).Hours() / 24)
	plural := func(n int, unit string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s ago", unit)
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}
	switch {
	case days <= 0:
		return "Today"
	case days < 7:
		return plural(days, "day")
	case days < 30:
		return plural(days/7, "week")
	case days < 365:
		return plural(days/30, "month")
	}
	return plural(days/365, "year")
}

func compactCount(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(n)/1_000_000_000)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return strconv.FormatInt(n, 10)
}

var audioContainers = map[string]bool{
	"aac": true, "m4a": true, "opus": true, "ogg": true, "mp3": true, "flac": true, "wav": true, "weba": true,
}

var muxedContainers = map[string]bool{
	"mp4": true, "mkv": true, "webm": true, "mov": true, "avi": true, "flv": true,
}

func mimeType(vcodec, acodec, container string, hasVideo bool) string {
	var mime string
	switch {
	case audioContainers[container]:
		mime = "audio/" + container
	case container == "mp4" || container == "m4v":
		mime = "audio/mp4"
		if hasVideo {
			mime = "video/mp4"
		}
	case container == "webm":
		mime = "audio/webm"
		if hasVideo {
			mime = "video/webm"
		}
	case container == "3gp":
		mime = "video/3gpp"
	case hasVideo:
		mime = "video/" + container
	default:
		mime = "audio/" + container
	}

	var codecs []string
	if vcodec != "" && vcodec != "none" {
		codecs = append(codecs, vcodec)
	}
	if acodec != "" && acodec != "none" {
		codecs = append(codecs, acodec)
	}
	if len(codecs) > 0 {
		mime += `; codecs="` + strings.Join(codecs, ", ") + `"`
	}
	return mime
}

func heightLabel(h int) string {
	if h <= 0 {
		return ""
	}
	return strconv.Itoa(h) + "p"
}

func sizeString(n int64) string {
	if n <= 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}

// convertFormats splits extractor formats into muxed and adaptive streams.
// Stream URLs are left pointing at the origin.
func convertFormats(formats []extractor.Format) ([]models.FormatStream, []models.AdaptiveFormat) {
	muxed := []models.FormatStream{}
	adaptive := []models.AdaptiveFormat{}
	var hlsOrder []string
	hls := map[string]models.FormatStream{}

	for _, f := range formats {
		if f.Ext == "mhtml" || f.VCodec == "images" {
			continue
		}
		itag := f.FormatID

		if strings.HasPrefix(f.Protocol, "m3u8") || strings.Contains(strings.ToLower(itag), "hls") {
			manifest := f.ManifestURL
			if manifest == "" {
				manifest = f.URL
			}
			if manifest == "" {
				continue
			}
			quality := heightLabel(f.Height)
			if quality == "" {
				quality = f.FormatNote
			}
			if quality == "" {
				quality = "unknown"
			}
			stream := models.FormatStream{
				URL:         manifest,
				Itag:        itag,
				Type:        "application/vnd.apple.mpegurl",
				Quality:     quality,
				Container:   "hls",
				Resolution:  heightLabel(f.Height),
				Width:       f.Width,
				Height:      f.Height,
				Size:        sizeString(f.Filesize),
				FPS:         int(f.FPS),
				HTTPHeaders: filterHeaders(f.HTTPHeaders),
			}
			existing, seen := hls[manifest]
			if !seen {
				hlsOrder = append(hlsOrder, manifest)
				hls[manifest] = stream
			} else if (stream.Height > 0 && existing.Height == 0) || (stream.Quality != "unknown" && existing.Quality == "unknown") {
				hls[manifest] = stream
			}
			continue
		}

		if f.URL == "" {
			continue
		}
		container := f.Ext
		if container == "" {
			container = "mp4"
		}
		hasVideo := (f.VCodec != "" && f.VCodec != "none") || (f.VideoExt != "" && f.VideoExt != "none")
		hasAudio := f.ACodec != "" && f.ACodec != "none"
		// Some extractors report a muxed file without codecs and audio_ext "none".
		if hasVideo && !hasAudio && f.AudioExt == "none" && f.ACodec == "" && muxedContainers[strings.ToLower(container)] {
			hasAudio = true
		}

		width, height := f.Width, f.Height
		if !hasVideo {
			width, height = 0, 0
		}
		mime := mimeType(f.VCodec, f.ACodec, container, hasVideo)
		filesize := f.Filesize
		if filesize == 0 {
			filesize = f.FilesizeApprox
		}

		if hasVideo && hasAudio {
			quality := heightLabel(height)
			if quality == "" {
				quality = f.FormatNote
			}
			if quality == "" {
				quality = "unknown"
			}
			muxed = append(muxed, models.FormatStream{
				URL:         f.URL,
				Itag:        itag,
				Type:        mime,
				Quality:     quality,
				Container:   container,
				Resolution:  heightLabel(height),
				Width:       width,
				Height:      height,
				Encoding:    f.VCodec,
				Size:        sizeString(filesize),
				FPS:         int(f.FPS),
				HTTPHeaders: filterHeaders(f.HTTPHeaders),
			})
			continue
		}

		af := models.AdaptiveFormat{
			URL:         f.URL,
			Itag:        itag,
			Type:        mime,
			Container:   container,
			Resolution:  heightLabel(height),
			Width:       width,
			Height:      height,
			Clen:        sizeString(filesize),
			HTTPHeaders: filterHeaders(f.HTTPHeaders),
		}
		bitrate := f.TBR
		if bitrate == 0 {
			bitrate = max(f.VBR, f.ABR)
		}
		if bitrate > 0 {
			af.Bitrate = strconv.FormatInt(int64(bitrate*1000), 10)
		}
		if hasVideo {
			af.Encoding = f.VCodec
			af.FPS = int(f.FPS)
		} else {
			af.Encoding = f.ACodec
		}
		if hasAudio && !hasVideo {
			note := strings.ToLower(f.FormatNote)
			display := f.FormatNote
			if display == "" {
				display = f.Language
			}
			af.AudioTrack = &models.AudioTrack{
				ID:          f.Language,
				DisplayName: display,
				IsDefault:   strings.Contains(note, "original") || strings.Contains(note, "(default)"),
			}
			af.AudioQuality = f.FormatNote
		}
		adaptive = append(adaptive, af)
	}

	for _, u := range hlsOrder {
		muxed = append(muxed, hls[u])
	}
	return muxed, adaptive
}

// CaptionContentPath is the server path that serves one caption track.
func CaptionContentPath(videoID, lang string, auto bool) string {
	v := url.Values{"lang": {lang}}
	if auto {
		v.Set("auto", "true")
	}
	return "/api/v1/captions/" + url.PathEscape(videoID) + "/content?" + v.Encode()
}

// convertCaptions lists manual tracks before automatic ones, each sorted by
// language. Automatic translation targets cannot be downloaded and are skipped.
func convertCaptions(videoID string, manual, automatic map[string][]extractor.Subtitle) []models.Caption {
	captions := []models.Caption{}
	add := func(tracks map[string][]extractor.Subtitle, auto bool) {
		langs := make([]string, 0, len(tracks))
		for lang := range tracks {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
		for _, lang := range langs {
			renditions := tracks[lang]
			if len(renditions) == 0 {
				continue
			}
			if auto && isTranslationTarget(renditions) {
				continue
			}
			label := renditions[0].Name
			if label == "" {
				label = lang
			}
			if auto {
				label += " (auto-generated)"
			}
			captions = append(captions, models.Caption{
				Label:         label,
				LanguageCode:  lang,
				URL:           CaptionContentPath(videoID, lang, auto),
				AutoGenerated: auto,
			})
		}
	}
	add(manual, false)
	add(automatic, true)
	return captions
}

func isTranslationTarget(renditions []extractor.Subtitle) bool {
	for _, r := range renditions {
		if strings.Contains(r.URL, "tlang=") {
			return true
		}
	}
	return false
}

var (
	autoLabelPattern  = regexp.MustCompile(`\s*\(auto[^)]*\)`)
	parenLabelPattern = regexp.MustCompile(`\s*\([^)]*\)`)
	regionPattern     = regexp.MustCompile(`\(([^)]+)\)`)
)

var languageCodes = map[string]string{
	"english": "en", "japanese": "ja", "spanish": "es", "french": "fr", "german": "de",
	"italian": "it", "portuguese": "pt", "russian": "ru", "korean": "ko", "chinese": "zh",
	"arabic": "ar", "hindi": "hi", "turkish": "tr", "polish": "pl", "dutch": "nl",
	"swedish": "sv", "norwegian": "no", "danish": "da", "finnish": "fi", "greek": "el",
	"hebrew": "he", "thai": "th", "vietnamese": "vi", "indonesian": "id", "malay": "ms",
	"filipino": "fil", "czech": "cs", "romanian": "ro", "hungarian": "hu", "ukrainian": "uk",
	"catalan": "ca", "croatian": "hr", "serbian": "sr", "slovak": "sk", "slovenian": "sl",
	"bulgarian": "bg", "lithuanian": "lt", "latvian": "lv", "estonian": "et", "persian": "fa",
	"bengali": "bn", "tamil": "ta", "telugu": "te", "kannada": "kn", "malayalam": "ml",
	"marathi": "mr", "gujarati": "gu", "punjabi": "pa", "nepali": "ne", "sinhala": "si",
	"burmese": "my", "khmer": "km", "lao": "lo", "mongolian": "mn", "georgian": "ka",
	"armenian": "hy", "azerbaijani": "az", "kazakh": "kk", "uzbek": "uz", "afrikaans": "af",
	"swahili": "sw", "zulu": "zu", "welsh": "cy", "irish": "ga", "basque": "eu",
	"galician": "gl", "icelandic": "is", "albanian": "sq", "macedonian": "mk", "bosnian": "bs",
	"maltese": "mt", "belarusian": "be",
}

var regionCodes = map[string]string{
	"united states": "US", "united kingdom": "GB", "brazil": "BR", "portugal": "PT",
	"mexico": "MX", "spain": "ES", "canada": "CA", "australia": "AU", "india": "IN",
	"south africa": "ZA", "ireland": "IE", "new zealand": "NZ", "hong kong": "HK",
	"taiwan": "TW", "singapore": "SG", "philippines": "PH", "latin america": "419",
}

func labelLanguage(label string) string {
	clean := strings.ToLower(label)
	clean = autoLabelPattern.ReplaceAllString(clean, "")
	clean = strings.TrimSpace(parenLabelPattern.ReplaceAllString(clean, ""))
	if code, ok := languageCodes[clean]; ok {
		return code
	}
	if fields := strings.Fields(clean); len(fields) > 0 {
		return languageCodes[fields[0]]
	}
	return ""
}

func labelRegion(label string) string {
	m := regionPattern.FindStringSubmatch(label)
	if m == nil {
		return ""
	}
	region := strings.ToLower(m[1])
	if strings.Contains(region, "auto") {
		return ""
	}
	return regionCodes[region]
}

// normalizeInvidiousCaptions points Invidious caption tracks at the server's
// caption content endpoint. Manual tracks labelled with a region carry the
// full locale, which the extractor needs to find them.
func normalizeInvidiousCaptions(videoID string, captions []models.Caption, base string) []models.Caption {
	out := make([]models.Caption, 0, len(captions))
	for _, c := range captions {
		lower := strings.ToLower(c.Label)
		auto := strings.Contains(lower, "(auto-generated)") || strings.Contains(lower, "(auto)")
		lang := c.LanguageCode
		if lang == "" {
			lang = labelLanguage(c.Label)
		}
		if lang != "" && !auto {
			if region := labelRegion(c.Label); region != "" && !strings.Contains(lang, "-") {
				lang += "-" + region
			}
		}
		c.LanguageCode = lang
		c.AutoGenerated = auto
		if lang != "" {
			c.URL = CaptionContentPath(videoID, lang, auto)
		} else {
			c.URL = invidious.ResolveURL(c.URL, base)
		}
		out = append(out, c)
	}
	return out
}

func videoFromInfo(info extractor.Info, now time.Time) models.Video {
	muxed, adaptive := convertFormats(info.Formats)
	published := info.Published()
	v := models.Video{
		VideoID:          info.ID,
		Title:            info.Title,
		Description:      info.Description,
		DescriptionHTML:  info.Description,
		Author:           info.AuthorName(),
		AuthorID:         info.AuthorID(),
		AuthorURL:        authorURL(info),
		AuthorThumbnails: authorThumbnail(info),
		LengthSeconds:    int64(info.Duration),
		PublishedText:    publishedText(published, now),
		ViewCount:        info.ViewCount,
		LikeCount:        info.LikeCount,
		VideoThumbnails:  convertThumbnails(info.Thumbnails),
		LiveNow:          info.Live(),
		IsUpcoming:       info.Upcoming(),
		FormatStreams:    muxed,
		AdaptiveFormats:  adaptive,
		Captions:         convertCaptions(info.ID, info.Subtitles, info.AutomaticCaptions),
		Storyboards:      []models.Storyboard{},
		Extractor:        info.ExtractorName(),
		OriginalURL:      firstNonEmpty(info.OriginalURL, info.WebpageURL),
	}
	if !published.IsZero() {
		v.Published = published.Unix()
	}
	if info.ChannelFollowerCount != nil {
		v.SubCountText = compactCount(*info.ChannelFollowerCount)
	}
	if v.LiveNow {
		v.HLSURL = info.ManifestURL
	}
	return v
}

func listItemFromInfo(info extractor.Info, now time.Time) models.VideoListItem {
	published := info.Published()
	item := models.VideoListItem{
		Type:            "video",
		VideoID:         info.ID,
		Title:           info.Title,
		Description:     info.Description,
		Author:          info.AuthorName(),
		AuthorID:        info.AuthorID(),
		AuthorURL:       authorURL(info),
		LengthSeconds:   int64(info.Duration),
		PublishedText:   publishedText(published, now),
		ViewCount:       info.ViewCount,
		LikeCount:       info.LikeCount,
		VideoThumbnails: convertThumbnails(info.Thumbnails),
		LiveNow:         info.Live(),
		IsUpcoming:      info.Upcoming(),
		Extractor:       info.ExtractorName(),
		VideoURL:        info.PageURL(),
	}
	if !published.IsZero() {
		item.Published = published.Unix()
	}
	if info.ViewCount > 0 {
		item.ViewCountText = compactCount(info.ViewCount) + " views"
	}
	return item
}

func listItemsFromEntries(entries []extractor.Info, now time.Time) []models.VideoListItem {
	items := make([]models.VideoListItem, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		items = append(items, listItemFromInfo(e, now))
	}
	return items
}

func playlistItemFromInfo(info extractor.Info) models.PlaylistListItem {
	item := models.PlaylistListItem{
		Type:       "playlist",
		PlaylistID: info.ID,
		Title:      info.Title,
		Author:     firstNonEmpty(info.PlaylistUploader, info.PlaylistChannel),
		AuthorID:   firstNonEmpty(info.PlaylistChannelID, info.PlaylistUploaderID),
		VideoCount: info.PlaylistCount,
		Videos:     []models.VideoListItem{},
	}
	if len(info.Thumbnails) > 0 {
		item.PlaylistThumbnail = info.Thumbnails[0].URL
	}
	return item
}

func normalizeInvidiousVideo(v models.Video, base string) models.Video {
	v.VideoThumbnails = resolveThumbnails(v.VideoThumbnails, base)
	v.AuthorThumbnails = resolveThumbnails(v.AuthorThumbnails, base)
	for i := range v.FormatStreams {
		v.FormatStreams[i].HTTPHeaders = filterHeaders(v.FormatStreams[i].HTTPHeaders)
	}
	for i := range v.AdaptiveFormats {
		v.AdaptiveFormats[i].HTTPHeaders = filterHeaders(v.AdaptiveFormats[i].HTTPHeaders)
	}
	v.Captions = normalizeInvidiousCaptions(v.VideoID, v.Captions, base)
	v.Storyboards = resolveStoryboards(v.Storyboards, base)
	if v.FormatStreams == nil {
		v.FormatStreams = []models.FormatStream{}
	}
	if v.AdaptiveFormats == nil {
		v.AdaptiveFormats = []models.AdaptiveFormat{}
	}
	v.HLSURL = invidious.ResolveURL(v.HLSURL, base)
	v.DashURL = invidious.ResolveURL(v.DashURL, base)
	for i := range v.RecommendedVideos {
		v.RecommendedVideos[i] = normalizeInvidiousItem(v.RecommendedVideos[i], base)
	}
	return v
}

func resolveStoryboards(boards []models.Storyboard, base string) []models.Storyboard {
	out := make([]models.Storyboard, len(boards))
	for i, b := range boards {
		b.URL = invidious.ResolveURL(b.URL, base)
		b.TemplateURL = invidious.ResolveURL(b.TemplateURL, base)
		out[i] = b
	}
	return out
}

func normalizeInvidiousItem(item models.VideoListItem, base string) models.VideoListItem {
	if item.Type == "" || item.Type == "shortVideo" {
		item.Type = "video"
	}
	item.VideoThumbnails = resolveThumbnails(item.VideoThumbnails, base)
	return item
}

func normalizeInvidiousItems(items []models.VideoListItem, base string) []models.VideoListItem {
	out := make([]models.VideoListItem, 0, len(items))
	for _, item := range items {
		out = append(out, normalizeInvidiousItem(item, base))
	}
	return out
}

func normalizeInvidiousPlaylistItem(p models.PlaylistListItem, base string) models.PlaylistListItem {
	p.Type = "playlist"
	p.PlaylistThumbnail = invidious.ResolveURL(p.PlaylistThumbnail, base)
	p.Videos = normalizeInvidiousItems(p.Videos, base)
	return p
}

func normalizeInvidiousResults(results []models.SearchResult, base string) []models.SearchResult {
	out := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		switch {
		case r.Video != nil:
			item := normalizeInvidiousItem(*r.Video, base)
			out = append(out, models.SearchResult{Video: &item})
		case r.Channel != nil:
			ch := *r.Channel
			ch.Type = "channel"
			ch.AuthorThumbnails = resolveThumbnails(ch.AuthorThumbnails, base)
			out = append(out, models.SearchResult{Channel: &ch})
		case r.Playlist != nil:
			p := normalizeInvidiousPlaylistItem(*r.Playlist, base)
			out = append(out, models.SearchResult{Playlist: &p})
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
