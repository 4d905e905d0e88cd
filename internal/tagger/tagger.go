// Package tagger assigns confidence-scored labels to channels based on
// their profile text. Classification is deterministic: the same input
// always produces the same tag set, so re-running it is idempotent.
package tagger

import "strings"

// Source is the tag partition written by automatic classification. Tags
// under other sources (manual edits) are never touched by a re-run.
const Source = "auto"

// hitsForFullConfidence is the pattern-match count at which confidence
// saturates at 1.0.
const hitsForFullConfidence = 3

// Tag is one classification result.
type Tag struct {
	Name       string
	Confidence float64
}

// rule maps a tag to the patterns that suggest it. A pattern matches when
// it occurs as a substring of the lower-cased profile text.
type rule struct {
	tag      string
	patterns []string
}

var rules = []rule{
	{"news", []string{"news", "breaking", "daily", "report", "digest", "headlines"}},
	{"tech", []string{"tech", "developer", "programming", "software", "engineering", "coding", "startup"}},
	{"crypto", []string{"crypto", "bitcoin", "ethereum", "defi", "nft", "token", "blockchain"}},
	{"finance", []string{"finance", "trading", "invest", "stocks", "market", "forex"}},
	{"jobs", []string{"jobs", "vacanc", "hiring", "career", "remote work", "recruit"}},
	{"education", []string{"course", "learn", "tutorial", "lecture", "university", "school"}},
	{"entertainment", []string{"movie", "music", "meme", "funny", "game", "gaming", "stream"}},
	{"shopping", []string{"shop", "store", "sale", "discount", "deal", "price"}},
	{"travel", []string{"travel", "trip", "flight", "hotel", "tour"}},
	{"sports", []string{"sport", "football", "soccer", "basketball", "tennis", "fitness"}},
}

// Classify scores a channel's combined title, username and about text
// against the rule table. A channel may receive zero, one or many tags;
// confidence grows with the number of matching patterns and saturates
// after hitsForFullConfidence distinct hits.
func Classify(title, username, about string) []Tag {
	text := strings.ToLower(title + " " + username + " " + about)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var out []Tag
	for _, r := range rules {
		hits := 0
		for _, p := range r.patterns {
			if strings.Contains(text, p) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		conf := float64(hits) / hitsForFullConfidence
		if conf > 1 {
			conf = 1
		}
		out = append(out, Tag{Name: r.tag, Confidence: conf})
	}
	return out
}
