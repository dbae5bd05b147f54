package report

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"kull-server/services/rating"
)

// TagCount is one entry of the report tag cloud.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Stats aggregates the star ratings of one shoot.
type Stats struct {
	TotalImages   int        `json:"totalImages"`
	HeroCount     int        `json:"heroCount"`
	KeeperCount   int        `json:"keeperCount"`
	Distribution  [6]int     `json:"distribution"`
	HeroFilenames []string   `json:"heroFilenames"`
	AverageRating float64    `json:"averageRating"`
	TagCloud      []TagCount `json:"tagCloud"`
}

// HeroShot is a four-star-or-better image selected for the report.
type HeroShot struct {
	ImageID     string   `json:"imageId,omitempty"`
	Filename    string   `json:"filename,omitempty"`
	StarRating  int      `json:"starRating"`
	ColorLabel  string   `json:"colorLabel,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	PreviewURL  string   `json:"previewUrl,omitempty"`
}

// NotificationPayload is a pre-rendered title and body for one channel.
type NotificationPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type Notifications struct {
	Desktop NotificationPayload `json:"desktop"`
	Mobile  NotificationPayload `json:"mobile"`
}

// Report is the shareable summary of one culled shoot.
type Report struct {
	ShootName     string        `json:"shootName"`
	GeneratedAt   time.Time     `json:"generatedAt"`
	Narrative     string        `json:"narrative"`
	Stats         Stats         `json:"stats"`
	Heroes        []HeroShot    `json:"heroes"`
	Notifications Notifications `json:"notifications"`
}

// Summarize walks the ratings once and aggregates distribution, hero and
// keeper counts, the average, and the tag cloud. Ratings outside 0-5 are
// ignored for the distribution but still count toward the total.
func Summarize(ratings []rating.Result) Stats {
	stats := Stats{TotalImages: len(ratings)}

	sum := 0
	tagCounts := make(map[string]int)
	for _, r := range ratings {
		if r.StarRating >= 0 && r.StarRating <= 5 {
			stats.Distribution[r.StarRating]++
			sum += r.StarRating
		}
		for _, tag := range r.Tags {
			trimmed := strings.TrimSpace(tag)
			if trimmed == "" {
				continue
			}
			tagCounts[trimmed]++
		}
	}

	stats.HeroCount = stats.Distribution[5]
	stats.KeeperCount = stats.Distribution[4]

	for _, r := range ratings {
		if r.StarRating != 5 || len(stats.HeroFilenames) == 5 {
			continue
		}
		stats.HeroFilenames = append(stats.HeroFilenames, r.Identifier())
	}

	if stats.TotalImages > 0 {
		stats.AverageRating = math.Round(float64(sum)/float64(stats.TotalImages)*100) / 100
	}

	for tag, count := range tagCounts {
		stats.TagCloud = append(stats.TagCloud, TagCount{Tag: tag, Count: count})
	}
	sort.Slice(stats.TagCloud, func(i, j int) bool {
		if stats.TagCloud[i].Count != stats.TagCloud[j].Count {
			return stats.TagCloud[i].Count > stats.TagCloud[j].Count
		}
		return stats.TagCloud[i].Tag < stats.TagCloud[j].Tag
	})

	return stats
}

type BuildArgs struct {
	ShootName      string
	Ratings        []rating.Result
	HeroLimit      int
	PreviewBaseURL string
	Narrative      Generator
}

// Build assembles the full shoot report. The narrative generator may fail;
// the report falls back to the template text and Build itself never errors.
func Build(ctx context.Context, args BuildArgs) *Report {
	name := strings.TrimSpace(args.ShootName)
	if name == "" {
		name = "Untitled Shoot"
	}

	stats := Summarize(args.Ratings)

	limit := args.HeroLimit
	if limit <= 0 {
		limit = 5
	}
	if limit > 25 {
		limit = 25
	}

	heroes := selectHeroShots(args.Ratings, limit, args.PreviewBaseURL)

	narrative := TemplateNarrative(stats)
	if args.Narrative != nil {
		if text, err := args.Narrative.Generate(ctx, NarrativeInput{ShootName: name, Stats: stats}); err == nil && text != "" {
			narrative = text
		}
	}

	return &Report{
		ShootName:     name,
		GeneratedAt:   time.Now().UTC(),
		Narrative:     narrative,
		Stats:         stats,
		Heroes:        heroes,
		Notifications: buildNotifications(name, stats, heroes),
	}
}

// selectHeroShots keeps ratings of four stars or better, ordered by stars
// descending then title ascending. The sort is stable so equal shots keep
// their submission order.
func selectHeroShots(ratings []rating.Result, limit int, previewBaseURL string) []HeroShot {
	sorted := make([]rating.Result, len(ratings))
	copy(sorted, ratings)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].StarRating != sorted[j].StarRating {
			return sorted[i].StarRating > sorted[j].StarRating
		}
		return sorted[i].Title < sorted[j].Title
	})

	heroes := make([]HeroShot, 0, limit)
	for _, r := range sorted {
		if r.StarRating < 4 {
			continue
		}
		if len(heroes) == limit {
			break
		}
		hero := HeroShot{
			ImageID:     r.ImageID,
			Filename:    r.Filename,
			StarRating:  r.StarRating,
			ColorLabel:  r.ColorLabel,
			Title:       r.Title,
			Description: r.Description,
			Tags:        r.Tags,
		}
		if previewBaseURL != "" {
			if id := r.Identifier(); id != "" {
				hero.PreviewURL = strings.TrimSuffix(previewBaseURL, "/") + "/" + url.PathEscape(id)
			}
		}
		heroes = append(heroes, hero)
	}
	return heroes
}

func buildNotifications(shootName string, stats Stats, heroes []HeroShot) Notifications {
	heroSnippet := ""
	if len(heroes) > 0 {
		switch {
		case heroes[0].Title != "":
			heroSnippet = heroes[0].Title
		case heroes[0].Filename != "":
			heroSnippet = heroes[0].Filename
		default:
			heroSnippet = heroes[0].ImageID
		}
	}

	heroWord := "heroes"
	if stats.HeroCount == 1 {
		heroWord = "hero"
	}
	keeperWord := "keepers"
	if stats.KeeperCount == 1 {
		keeperWord = "keeper"
	}

	title := fmt.Sprintf("%s: %d %s ready", shootName, stats.HeroCount, heroWord)

	parts := []string{
		fmt.Sprintf("%d images processed", stats.TotalImages),
		fmt.Sprintf("%d %s", stats.HeroCount, heroWord),
		fmt.Sprintf("%d %s", stats.KeeperCount, keeperWord),
	}
	if heroSnippet != "" {
		parts = append(parts, "Top pick: "+heroSnippet)
	}

	mobileBody := fmt.Sprintf("%d %s, %d %s.", stats.HeroCount, heroWord, stats.KeeperCount, keeperWord)
	if heroSnippet != "" {
		mobileBody = fmt.Sprintf("%d %s, %d %s. Top pick: %s", stats.HeroCount, heroWord, stats.KeeperCount, keeperWord, heroSnippet)
	}

	return Notifications{
		Desktop: NotificationPayload{Title: title, Body: strings.Join(parts, " • ")},
		Mobile:  NotificationPayload{Title: title, Body: mobileBody},
	}
}
