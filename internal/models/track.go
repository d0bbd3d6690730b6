package models

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// VideoCodec identifies a video track encoding.
type VideoCodec string

const (
	VideoAVC  VideoCodec = "AVC"
	VideoHEVC VideoCodec = "HEVC"
	VideoVC1  VideoCodec = "VC1"
	VideoVP8  VideoCodec = "VP8"
	VideoVP9  VideoCodec = "VP9"
	VideoAV1  VideoCodec = "AV1"
)

// AudioCodec identifies an audio track encoding.
type AudioCodec string

const (
	AudioAAC    AudioCodec = "AAC"
	AudioAC3    AudioCodec = "AC3"
	AudioEC3    AudioCodec = "EC3"
	AudioOPUS   AudioCodec = "OPUS"
	AudioVORBIS AudioCodec = "VORB"
	AudioDTS    AudioCodec = "DTS"
	AudioALAC   AudioCodec = "ALAC"
	AudioFLAC   AudioCodec = "FLAC"
)

// SubtitleCodec identifies a subtitle format.
type SubtitleCodec string

const (
	SubtitleSRT  SubtitleCodec = "SRT"
	SubtitleSSA  SubtitleCodec = "SSA"
	SubtitleVTT  SubtitleCodec = "VTT"
	SubtitleTTML SubtitleCodec = "TTML"
	SubtitleFVTT SubtitleCodec = "fVTT"
	SubtitleFTML SubtitleCodec = "fTTML"
)

// DynamicRange describes a video track's dynamic range.
type DynamicRange string

const (
	RangeSDR    DynamicRange = "SDR"
	RangeHDR10  DynamicRange = "HDR10"
	RangeHDR10P DynamicRange = "HDR10+"
	RangeDV     DynamicRange = "DV"
	RangeHLG    DynamicRange = "HLG"
	RangeHybrid DynamicRange = "HYBRID"
)

// Display maps for human-readable codec and range names.
var (
	videoCodecDisplay = map[VideoCodec]string{
		VideoAVC:  "H.264",
		VideoHEVC: "H.265",
		VideoVC1:  "VC-1",
	}
	audioCodecDisplay = map[AudioCodec]string{
		AudioAC3:    "DD",
		AudioEC3:    "DD+",
		AudioVORBIS: "Vorbis",
	}
	rangeDisplay = map[DynamicRange]string{
		RangeHDR10:  "HDR",
		RangeHDR10P: "HDR10+",
	}
)

// Descriptor names how a track's media is delivered.
type Descriptor string

const (
	DescriptorURL  Descriptor = "URL"
	DescriptorHLS  Descriptor = "HLS"
	DescriptorDASH Descriptor = "DASH"
)

// DRM describes the protection applied to a track.
type DRM struct {
	Scheme         string            `json:"scheme"`
	LicenseURL     string            `json:"license_url,omitempty"`
	LicenseHeaders map[string]string `json:"license_headers,omitempty"`
	InitData       string            `json:"init_data,omitempty"`
}

// Video is a video track.
type Video struct {
	ID       string       `json:"id"`
	Codec    VideoCodec   `json:"codec"`
	URL      string       `json:"url,omitempty"`
	Delivery Descriptor   `json:"descriptor,omitempty"`
	Language string       `json:"language,omitempty"`
	Width    int          `json:"width,omitempty"`
	Height   int          `json:"height,omitempty"`
	FPS      float64      `json:"fps,omitempty"`
	Bitrate  int          `json:"bitrate,omitempty"`
	Range    DynamicRange `json:"range,omitempty"`
	DRM      *DRM         `json:"drm,omitempty"`
}

// Audio is an audio track.
type Audio struct {
	ID             string     `json:"id"`
	Codec          AudioCodec `json:"codec"`
	URL            string     `json:"url,omitempty"`
	Delivery       Descriptor `json:"descriptor,omitempty"`
	Language       string     `json:"language,omitempty"`
	Channels       float64    `json:"channels,omitempty"`
	Bitrate        int        `json:"bitrate,omitempty"`
	Atmos          bool       `json:"atmos,omitempty"`
	Descriptive    bool       `json:"descriptive,omitempty"`
	IsOriginalLang bool       `json:"is_original_lang,omitempty"`
	DRM            *DRM       `json:"drm,omitempty"`
}

// Subtitle is a subtitle track.
type Subtitle struct {
	ID             string        `json:"id"`
	Codec          SubtitleCodec `json:"codec"`
	URL            string        `json:"url,omitempty"`
	Language       string        `json:"language,omitempty"`
	Forced         bool          `json:"forced,omitempty"`
	SDH            bool          `json:"sdh,omitempty"`
	CC             bool          `json:"cc,omitempty"`
	IsOriginalLang bool          `json:"is_original_lang,omitempty"`
}

// Tracks groups the media tracks of one title.
type Tracks struct {
	Video     []Video    `json:"video"`
	Audio     []Audio    `json:"audio"`
	Subtitles []Subtitle `json:"subtitles"`
}

// Empty reports whether the set carries no tracks at all.
func (t Tracks) Empty() bool {
	return len(t.Video) == 0 && len(t.Audio) == 0 && len(t.Subtitles) == 0
}

// FindVideo returns the video track with the given id.
func (t Tracks) FindVideo(id string) (Video, bool) {
	for _, v := range t.Video {
		if v.ID == id {
			return v, true
		}
	}
	return Video{}, false
}

// FindAudio returns the audio track with the given id.
func (t Tracks) FindAudio(id string) (Audio, bool) {
	for _, a := range t.Audio {
		if a.ID == id {
			return a, true
		}
	}
	return Audio{}, false
}

// FindDRM locates the DRM descriptor of the track with the given id,
// searching video then audio.
func (t Tracks) FindDRM(id string) (*DRM, bool) {
	if v, ok := t.FindVideo(id); ok {
		return v.DRM, v.DRM != nil
	}
	if a, ok := t.FindAudio(id); ok {
		return a.DRM, a.DRM != nil
	}
	return nil, false
}

// Sort orders video by descending quality, audio by language then bitrate,
// subtitles by language.
func (t *Tracks) Sort() {
	sort.SliceStable(t.Video, func(i, j int) bool {
		if t.Video[i].Height != t.Video[j].Height {
			return t.Video[i].Height > t.Video[j].Height
		}
		return t.Video[i].Bitrate > t.Video[j].Bitrate
	})
	sort.SliceStable(t.Audio, func(i, j int) bool {
		if t.Audio[i].Language != t.Audio[j].Language {
			return t.Audio[i].Language < t.Audio[j].Language
		}
		return t.Audio[i].Bitrate > t.Audio[j].Bitrate
	})
	sort.SliceStable(t.Subtitles, func(i, j int) bool {
		return t.Subtitles[i].Language < t.Subtitles[j].Language
	})
}

// TrackFingerprint derives a stable track id from origin-specific selectors.
func TrackFingerprint(parts ...string) string {
	h := sha1.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])[:16]
}

// NormalizeLanguage canonicalizes a language tag, returning the input
// unchanged when it does not parse.
func NormalizeLanguage(tag string) string {
	if tag == "" {
		return ""
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	return parsed.String()
}

// VideoDisplay returns the human-readable codec name.
func (v Video) VideoDisplay() string {
	if d, ok := videoCodecDisplay[v.Codec]; ok {
		return d
	}
	return string(v.Codec)
}

// RangeDisplay returns the human-readable dynamic range name.
func (v Video) RangeDisplay() string {
	if d, ok := rangeDisplay[v.Range]; ok {
		return d
	}
	return string(v.Range)
}

// Resolution formats the track dimensions as WxH, empty when unknown.
func (v Video) Resolution() string {
	if v.Width == 0 || v.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// AudioDisplay returns the human-readable codec name.
func (a Audio) AudioDisplay() string {
	if d, ok := audioCodecDisplay[a.Codec]; ok {
		return d
	}
	return string(a.Codec)
}

// Chapter is one chapter marker of a title. Timestamps are seconds from the
// start and non-decreasing within a title.
type Chapter struct {
	Timestamp float64 `json:"timestamp"`
	Name      string  `json:"name,omitempty"`
}

// Chapters is an ordered chapter list.
type Chapters []Chapter

// Valid reports whether timestamps are monotonically non-decreasing.
func (c Chapters) Valid() bool {
	for i := 1; i < len(c); i++ {
		if c[i].Timestamp < c[i-1].Timestamp {
			return false
		}
	}
	return true
}
