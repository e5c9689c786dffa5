// Package normalize turns raw posting records into stored Postings and derives
// their dedup keys. It has no side effects.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobmate/recommender-service/internal/model"
)

// postingNamespace seeds the name-based UUIDs derived from dedup keys.
var postingNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("jobmate:posting"))

// Normalize validates raw and returns the canonical Posting. Both seen
// timestamps are set to now; the store keeps the original first_seen_at on
// update.
func Normalize(raw model.RawPosting, now time.Time) (model.Posting, error) {
	title := strings.TrimSpace(raw.Title)
	if title == "" {
		return model.Posting{}, model.Invalidf("title is required")
	}
	description := strings.TrimSpace(raw.Description)
	if description == "" {
		return model.Posting{}, model.Invalidf("description is required")
	}

	p := model.Posting{
		SourceID:    strings.TrimSpace(raw.SourceID),
		ExternalID:  strings.TrimSpace(raw.ExternalID),
		Title:       title,
		Company:     strings.TrimSpace(raw.Company),
		Location:    strings.TrimSpace(raw.Location),
		Description: description,
		URL:         strings.TrimSpace(raw.URL),
		FirstSeenAt: now,
		LastSeenAt:  now,
	}
	p.DedupKey = DedupKey(p.SourceID, p.ExternalID, p.Title, p.Company, p.Location, p.Description)

	p.ID = strings.TrimSpace(raw.ID)
	if p.ID == "" {
		p.ID = PostingID(p.DedupKey)
	}
	return p, nil
}

// DedupKey fingerprints a posting. A (source_id, external_id) pair wins when
// both are present; otherwise the key covers title, company, location and a
// hash of the description.
func DedupKey(sourceID, externalID, title, company, location, description string) string {
	sourceID, externalID = Fold(sourceID), Fold(externalID)
	if sourceID != "" && externalID != "" {
		return digest("ext", sourceID, externalID)
	}
	return digest("content", Fold(title), Fold(company), Fold(location), digest(Fold(description)))
}

// PostingID derives the stable posting id for a dedup key.
func PostingID(dedupKey string) string {
	return uuid.NewSHA1(postingNamespace, []byte(dedupKey)).String()
}

// Fold trims, collapses inner whitespace and lowercases s. It is the form
// used for every comparison; display fields are never folded.
func Fold(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func digest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}
