package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// OptionInfo pairs the label shown in pickers with the token passed to ffmpeg.
type OptionInfo struct {
	Label string `json:"label"`
	Token string `json:"token"`
}

// Codec selects the video encoder.
type Codec int

const (
	CodecH264 Codec = iota
	CodecH265
	CodecAV1
)

var codecNames = [...]string{"h264", "h265", "av1"}

var codecTable = [...]OptionInfo{
	CodecH264: {Label: "H.264", Token: "libx264"},
	CodecH265: {Label: "H.265 (HEVC)", Token: "libx265"},
	CodecAV1:  {Label: "AV1", Token: "libaom-av1"},
}

// Codecs lists every supported codec in picker order.
func Codecs() []Codec {
	return []Codec{CodecH264, CodecH265, CodecAV1}
}

// Valid reports whether c is one of the supported codecs.
func (c Codec) Valid() bool {
	return c >= 0 && int(c) < len(codecTable)
}

// Label returns the human readable codec name.
func (c Codec) Label() string {
	if !c.Valid() {
		return ""
	}
	return codecTable[c].Label
}

// Token returns the ffmpeg encoder name for c.
func (c Codec) Token() string {
	if !c.Valid() {
		return ""
	}
	return codecTable[c].Token
}

func (c Codec) String() string {
	if !c.Valid() {
		return fmt.Sprintf("codec(%d)", int(c))
	}
	return codecNames[c]
}

// MarshalText encodes the codec by its short name.
func (c Codec) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid codec %d", int(c))
	}
	return []byte(codecNames[c]), nil
}

// UnmarshalText accepts the short name ("h265") or the encoder token ("libx265").
func (c *Codec) UnmarshalText(text []byte) error {
	parsed, err := ParseCodec(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCodec resolves a codec from its short name, label or encoder token.
func ParseCodec(raw string) (Codec, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	for _, c := range Codecs() {
		if value == codecNames[c] || value == c.Token() || value == strings.ToLower(c.Label()) {
			return c, nil
		}
	}
	switch value {
	case "h.264", "avc":
		return CodecH264, nil
	case "h.265", "hevc":
		return CodecH265, nil
	}
	return 0, fmt.Errorf("unknown codec %q", raw)
}

// Preset is the encoder speed / compression trade-off level.
type Preset int

const (
	PresetUltrafast Preset = iota
	PresetSuperfast
	PresetVeryfast
	PresetFaster
	PresetFast
	PresetMedium
	PresetSlow
	PresetSlower
	PresetVeryslow
)

var presetTable = [...]OptionInfo{
	PresetUltrafast: {Label: "Ultra Fast", Token: "ultrafast"},
	PresetSuperfast: {Label: "Super Fast", Token: "superfast"},
	PresetVeryfast:  {Label: "Very Fast", Token: "veryfast"},
	PresetFaster:    {Label: "Faster", Token: "faster"},
	PresetFast:      {Label: "Fast", Token: "fast"},
	PresetMedium:    {Label: "Medium", Token: "medium"},
	PresetSlow:      {Label: "Slow", Token: "slow"},
	PresetSlower:    {Label: "Slower", Token: "slower"},
	PresetVeryslow:  {Label: "Very Slow", Token: "veryslow"},
}

// Presets lists every preset from fastest to slowest.
func Presets() []Preset {
	out := make([]Preset, len(presetTable))
	for i := range presetTable {
		out[i] = Preset(i)
	}
	return out
}

// Valid reports whether p is a known preset.
func (p Preset) Valid() bool {
	return p >= 0 && int(p) < len(presetTable)
}

// Label returns the human readable preset name.
func (p Preset) Label() string {
	if !p.Valid() {
		return ""
	}
	return presetTable[p].Label
}

// Token returns the lowercase preset name passed to -preset.
func (p Preset) Token() string {
	if !p.Valid() {
		return ""
	}
	return presetTable[p].Token
}

func (p Preset) String() string {
	if !p.Valid() {
		return fmt.Sprintf("preset(%d)", int(p))
	}
	return p.Token()
}

// MarshalText encodes the preset by its token.
func (p Preset) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid preset %d", int(p))
	}
	return []byte(p.Token()), nil
}

// UnmarshalText decodes a preset token or label.
func (p *Preset) UnmarshalText(text []byte) error {
	parsed, err := ParsePreset(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePreset resolves a preset from its token ("veryslow") or label ("Very Slow").
func ParsePreset(raw string) (Preset, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	compact := strings.ReplaceAll(value, " ", "")
	for _, p := range Presets() {
		if compact == p.Token() {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown preset %q", raw)
}

// FrameRate is the output frame rate override; FrameRateKeep leaves the source rate alone.
type FrameRate int

const FrameRateKeep FrameRate = 0

// FrameRates lists the frame rates offered in pickers.
func FrameRates() []FrameRate {
	return []FrameRate{FrameRateKeep, 12, 15, 24, 25, 30, 48, 50, 60, 120}
}

// Label returns "Keep Original" or "<n> fps".
func (f FrameRate) Label() string {
	if f == FrameRateKeep {
		return "Keep Original"
	}
	return fmt.Sprintf("%d fps", int(f))
}

// Token returns the value passed to -r, empty for FrameRateKeep.
func (f FrameRate) Token() string {
	if f == FrameRateKeep {
		return ""
	}
	return strconv.Itoa(int(f))
}

func (f FrameRate) String() string {
	if f == FrameRateKeep {
		return "keep"
	}
	return f.Token()
}

// MarshalText encodes "keep" or the integer rate.
func (f FrameRate) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText accepts "keep", "", "30" or "30fps".
func (f *FrameRate) UnmarshalText(text []byte) error {
	parsed, err := ParseFrameRate(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseFrameRate parses a frame rate override.
func ParseFrameRate(raw string) (FrameRate, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.TrimSpace(strings.TrimSuffix(value, "fps"))
	if value == "" || value == "keep" || value == "0" {
		return FrameRateKeep, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid frame rate %q", raw)
	}
	return FrameRate(n), nil
}

// Speed is the playback speed multiplier applied to video and audio.
type Speed float64

const SpeedNormal Speed = 1

// Speeds lists the multipliers offered in pickers.
func Speeds() []Speed {
	return []Speed{0.5, 0.75, 1, 1.25, 1.5, 2}
}

// Valid reports whether s is a finite positive multiplier.
func (s Speed) Valid() bool {
	f := float64(s)
	return f > 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// Label returns e.g. "0.75x" or "2x".
func (s Speed) Label() string {
	return strconv.FormatFloat(float64(s), 'f', -1, 64) + "x"
}

func (s Speed) String() string {
	return s.Label()
}

// MarshalText encodes the multiplier as a plain number.
func (s Speed) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(s), 'f', -1, 64)), nil
}

// UnmarshalText accepts "1.5" or "1.5x".
func (s *Speed) UnmarshalText(text []byte) error {
	parsed, err := ParseSpeed(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSpeed parses a positive speed multiplier.
func ParseSpeed(raw string) (Speed, error) {
	value := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(raw)), "x")
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid speed %q", raw)
	}
	s := Speed(f)
	if !s.Valid() {
		return 0, fmt.Errorf("invalid speed %q: must be a positive number", raw)
	}
	return s, nil
}

// Crop selects a pixel rectangle of the source frame.
type Crop struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
}

var errCropSize = errors.New("crop width and height must be positive")

// Validate checks the rectangle has a positive size and a non-negative origin.
func (c Crop) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return errCropSize
	}
	if c.X < 0 || c.Y < 0 {
		return fmt.Errorf("crop offset %d:%d must not be negative", c.X, c.Y)
	}
	return nil
}

// Filter returns the ffmpeg crop filter for the rectangle.
func (c Crop) Filter() string {
	return fmt.Sprintf("crop=%d:%d:%d:%d", c.Width, c.Height, c.X, c.Y)
}

// ParseCrop parses "w:h:x:y" or "w:h" (origin 0:0).
func ParseCrop(raw string) (Crop, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 && len(parts) != 4 {
		return Crop{}, fmt.Errorf("invalid crop %q: want w:h or w:h:x:y", raw)
	}
	values := make([]int, 4)
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return Crop{}, fmt.Errorf("invalid crop %q: %w", raw, err)
		}
		values[i] = n
	}
	c := Crop{Width: values[0], Height: values[1], X: values[2], Y: values[3]}
	if err := c.Validate(); err != nil {
		return Crop{}, fmt.Errorf("invalid crop %q: %w", raw, err)
	}
	return c, nil
}

// EncodingOptions is the full set of user choices for one encode.
type EncodingOptions struct {
	Codec         Codec     `json:"codec" yaml:"codec"`
	Preset        Preset    `json:"preset" yaml:"preset"`
	FrameRate     FrameRate `json:"frameRate" yaml:"frame_rate"`
	Speed         Speed     `json:"speed" yaml:"speed"`
	TargetBitrate string    `json:"targetBitrate" yaml:"target_bitrate"`
	Crop          *Crop     `json:"crop,omitempty" yaml:"crop,omitempty"`
	CustomArgs    string    `json:"customArgs,omitempty" yaml:"custom_args,omitempty"`
}

// DefaultOptions returns the choices preselected on first launch.
func DefaultOptions() EncodingOptions {
	return EncodingOptions{
		Codec:         CodecH264,
		Preset:        PresetMedium,
		FrameRate:     FrameRateKeep,
		Speed:         SpeedNormal,
		TargetBitrate: "2000",
	}
}

// BitrateKbps parses TargetBitrate, reporting false unless it is a positive integer.
func (o EncodingOptions) BitrateKbps() (int, bool) {
	return ParseBitrate(o.TargetBitrate)
}

// Clone returns a copy that shares no memory with o.
func (o EncodingOptions) Clone() EncodingOptions {
	if o.Crop != nil {
		c := *o.Crop
		o.Crop = &c
	}
	return o
}

// ParseBitrate parses a kbps value that must be a positive integer.
func ParseBitrate(raw string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Choice is one picker entry.
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// OptionCatalog lists every picker entry for the frontend.
type OptionCatalog struct {
	Codecs     []Choice `json:"codecs"`
	Presets    []Choice `json:"presets"`
	FrameRates []Choice `json:"frameRates"`
	Speeds     []Choice `json:"speeds"`
}

// Catalog builds the picker entries from the option tables.
func Catalog() OptionCatalog {
	var cat OptionCatalog
	for _, c := range Codecs() {
		cat.Codecs = append(cat.Codecs, Choice{Value: c.String(), Label: c.Label()})
	}
	for _, p := range Presets() {
		cat.Presets = append(cat.Presets, Choice{Value: p.String(), Label: p.Label()})
	}
	for _, f := range FrameRates() {
		cat.FrameRates = append(cat.FrameRates, Choice{Value: f.String(), Label: f.Label()})
	}
	for _, s := range Speeds() {
		text, _ := s.MarshalText()
		cat.Speeds = append(cat.Speeds, Choice{Value: string(text), Label: s.Label()})
	}
	return cat
}
