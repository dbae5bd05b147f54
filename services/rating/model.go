package rating

// ColorLabel values mirror the sidecar color labels photo editors understand.
const (
	ColorNone   = "none"
	ColorRed    = "red"
	ColorYellow = "yellow"
	ColorGreen  = "green"
	ColorBlue   = "blue"
	ColorPurple = "purple"
)

// Result is one provider's verdict on one image.
type Result struct {
	ImageID     string   `json:"imageId"`
	Filename    string   `json:"filename,omitempty"`
	StarRating  int      `json:"starRating"`
	ColorLabel  string   `json:"colorLabel,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Clamp forces the star rating into the 0-5 range sidecars accept.
func (r *Result) Clamp() {
	if r.StarRating < 0 {
		r.StarRating = 0
	}
	if r.StarRating > 5 {
		r.StarRating = 5
	}
}

// Identifier returns the best human-facing handle for the rated image.
func (r Result) Identifier() string {
	if r.Filename != "" {
		return r.Filename
	}
	return r.ImageID
}
