package transform

import (
	"fmt"
	"sort"

	"github.com/IEatCodeDaily/cdc-fanout/pkg/pipeline"
)

// Defaults matching the records written by the blog API.
const (
	DefaultOrigin             = "aws:dynamodb"
	DefaultDiscriminatorField = "item-type"
	DefaultCounterField       = "likes"

	DiscriminatorArticle    = "blog-article"
	DiscriminatorAPIRequest = "api-request"
)

// DeltaPolicy decides the delta carried by an engagement increment.
type DeltaPolicy string

const (
	// DeltaObserved emits after-before.
	DeltaObserved DeltaPolicy = "observed"
	// DeltaFixed emits 1 per update regardless of the observed growth.
	DeltaFixed DeltaPolicy = "fixed"
)

// CreateBuilder builds a payload from a CREATE record whose discriminator
// matched. It returns a *pipeline.ClassificationFailure on missing fields.
type CreateBuilder func(event pipeline.RawChangeEvent) (pipeline.Payload, error)

type createEntry struct {
	produces pipeline.PayloadType
	build    CreateBuilder
}

// ClassifierConfig configures a Classifier
type ClassifierConfig struct {
	Origin             string      `json:"origin"`
	DiscriminatorField string      `json:"discriminator_field"`
	CounterField       string      `json:"counter_field"`
	DeltaPolicy        DeltaPolicy `json:"delta_policy"`
}

// Classifier decides what a change record means. CREATE records dispatch on
// the discriminator attribute of the new image; UPDATE records are engagement
// increments when the counter attribute grew.
type Classifier struct {
	config  ClassifierConfig
	creates map[string]createEntry
}

// NewClassifier creates a classifier with the article and API request
// builders registered.
func NewClassifier(config ClassifierConfig) (*Classifier, error) {
	if config.Origin == "" {
		config.Origin = DefaultOrigin
	}
	if config.DiscriminatorField == "" {
		config.DiscriminatorField = DefaultDiscriminatorField
	}
	if config.CounterField == "" {
		config.CounterField = DefaultCounterField
	}
	switch config.DeltaPolicy {
	case "":
		config.DeltaPolicy = DeltaObserved
	case DeltaObserved, DeltaFixed:
	default:
		return nil, fmt.Errorf("unknown delta policy: %s", config.DeltaPolicy)
	}

	c := &Classifier{
		config:  config,
		creates: make(map[string]createEntry),
	}
	c.RegisterCreate(DiscriminatorArticle, pipeline.TypeContent, BuildContentItem)
	c.RegisterCreate(DiscriminatorAPIRequest, pipeline.TypeAccessLog, BuildAccessLogEntry)
	return c, nil
}

// RegisterCreate adds a builder for CREATE records carrying discriminator.
// produces is the payload type the builder emits, checked against the
// registry at startup.
func (c *Classifier) RegisterCreate(discriminator string, produces pipeline.PayloadType, build CreateBuilder) {
	c.creates[discriminator] = createEntry{produces: produces, build: build}
}

// Types returns every payload type the classifier can produce.
func (c *Classifier) Types() []pipeline.PayloadType {
	seen := map[pipeline.PayloadType]bool{pipeline.TypeEngagement: true}
	for _, entry := range c.creates {
		seen[entry.produces] = true
	}
	types := make([]pipeline.PayloadType, 0, len(seen))
	for pt := range seen {
		types = append(types, pt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Classify returns the payload for event, or a *pipeline.ClassificationFailure.
func (c *Classifier) Classify(event pipeline.RawChangeEvent) (pipeline.Payload, error) {
	if event.Source != c.config.Origin {
		return nil, failure(pipeline.ReasonNotSupportedSource, event, "source %q", event.Source)
	}

	switch event.Operation {
	case pipeline.OperationCreate:
		return c.classifyCreate(event)
	case pipeline.OperationUpdate:
		return c.classifyUpdate(event)
	default:
		return nil, failure(pipeline.ReasonUnrecognizedOperation, event, "operation %q", event.Operation)
	}
}

func (c *Classifier) classifyCreate(event pipeline.RawChangeEvent) (pipeline.Payload, error) {
	discriminator, ok := event.After.String(c.config.DiscriminatorField)
	if !ok {
		return nil, failure(pipeline.ReasonUnrecognizedCreateShape, event, "missing %s", c.config.DiscriminatorField)
	}

	entry, ok := c.creates[discriminator]
	if !ok {
		return nil, failure(pipeline.ReasonUnrecognizedCreateShape, event, "%s %q", c.config.DiscriminatorField, discriminator)
	}

	payload, err := entry.build(event)
	if err != nil {
		return nil, err
	}
	if payload.Type() != entry.produces {
		return nil, failure(pipeline.ReasonUnrecognizedCreateShape, event,
			"builder for %q produced %s, registered as %s", discriminator, payload.Type(), entry.produces)
	}
	return payload, nil
}

func (c *Classifier) classifyUpdate(event pipeline.RawChangeEvent) (pipeline.Payload, error) {
	if event.Before == nil || event.After == nil {
		return nil, failure(pipeline.ReasonUnrecognizedUpdateShape, event, "update without both images")
	}

	field := c.config.CounterField
	before, okBefore := event.Before.Int(field)
	after, okAfter := event.After.Int(field)
	if !okBefore || !okAfter {
		return nil, failure(pipeline.ReasonUnrecognizedUpdateShape, event, "%s not numeric in both images", field)
	}
	if after <= before {
		return nil, failure(pipeline.ReasonUnrecognizedUpdateShape, event, "%s did not increase (%d -> %d)", field, before, after)
	}
	if event.Key == "" {
		return nil, failure(pipeline.ReasonUnrecognizedUpdateShape, event, "missing key")
	}

	delta := after - before
	if delta <= 0 {
		return nil, failure(pipeline.ReasonUnrecognizedUpdateShape, event, "%s increase out of range (%d -> %d)", field, before, after)
	}
	if c.config.DeltaPolicy == DeltaFixed {
		delta = 1
	}
	return pipeline.EngagementIncrement{ID: event.Key, Delta: delta}, nil
}

func failure(reason pipeline.FailureReason, event pipeline.RawChangeEvent, format string, args ...interface{}) *pipeline.ClassificationFailure {
	return &pipeline.ClassificationFailure{
		Reason: reason,
		Event:  event,
		Detail: fmt.Sprintf(format, args...),
	}
}
