package transform

import (
	"strings"

	"github.com/IEatCodeDaily/cdc-fanout/pkg/pipeline"
)

// fieldReader collects required attributes that are missing from an image so
// a builder can report all of them at once.
type fieldReader struct {
	image   pipeline.Image
	missing []string
}

func (r *fieldReader) requiredString(attr string) string {
	s, ok := r.image.String(attr)
	if !ok || s == "" {
		r.missing = append(r.missing, attr)
	}
	return s
}

func (r *fieldReader) requiredInt(attr string) int64 {
	n, ok := r.image.Int(attr)
	if !ok {
		r.missing = append(r.missing, attr)
	}
	return n
}

func (r *fieldReader) optionalString(attr string) string {
	return r.image.StringOr(attr, "")
}

func (r *fieldReader) err(event pipeline.RawChangeEvent) error {
	if len(r.missing) == 0 {
		return nil
	}
	return failure(pipeline.ReasonIncompleteCreate, event, "missing %s", strings.Join(r.missing, ", "))
}

// BuildContentItem builds an article payload. The id always comes from the
// record key so the payload matches the entity that changed.
func BuildContentItem(event pipeline.RawChangeEvent) (pipeline.Payload, error) {
	r := &fieldReader{image: event.After}
	if event.Key == "" {
		r.missing = append(r.missing, "key")
	}
	item := pipeline.ContentItem{
		ID:               event.Key,
		PublishTimestamp: r.requiredInt("publish-timestamp"),
		PublisherEmail:   r.requiredString("publisher-email"),
		PublisherName:    r.requiredString("publisher-name"),
		ItemType:         r.optionalString(DefaultDiscriminatorField),
		Title:            r.requiredString("title"),
		Body:             r.requiredString("body"),
	}
	if err := r.err(event); err != nil {
		return nil, err
	}
	return item, nil
}

// BuildAccessLogEntry builds an API request payload. Only the key and the
// timestamp are required; other attributes default to "".
func BuildAccessLogEntry(event pipeline.RawChangeEvent) (pipeline.Payload, error) {
	r := &fieldReader{image: event.After}
	if event.Key == "" {
		r.missing = append(r.missing, "key")
	}
	entry := pipeline.AccessLogEntry{
		ID:          event.Key,
		ItemType:    r.optionalString(DefaultDiscriminatorField),
		HTTPMethod:  r.optionalString("http-method"),
		Timestamp:   r.requiredInt("timestamp"),
		Datetime:    r.optionalString("datetime"),
		IPAddress:   r.optionalString("ip-address"),
		UserAgent:   r.optionalString("user-agent"),
		Origin:      r.optionalString("origin"),
		CountryCode: r.optionalString("country-code"),
		DeviceType:  r.optionalString("device-type"),
		Action:      r.optionalString("action"),
		ArticleID:   r.optionalString("article-id"),
	}
	if err := r.err(event); err != nil {
		return nil, err
	}
	return entry, nil
}
