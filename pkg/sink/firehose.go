package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/firehose"
	"github.com/aws/aws-sdk-go-v2/service/firehose/types"
	"go.uber.org/zap"

	"github.com/IEatCodeDaily/cdc-fanout/pkg/pipeline"
)

// FirehoseQuota is the PutRecordBatch record limit.
const FirehoseQuota = 500

type firehoseAPI interface {
	PutRecordBatch(ctx context.Context, params *firehose.PutRecordBatchInput, optFns ...func(*firehose.Options)) (*firehose.PutRecordBatchOutput, error)
}

// FirehoseConfig configures a FirehoseSink
type FirehoseConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// FirehoseSink delivers chunks to Kinesis Data Firehose delivery streams.
type FirehoseSink struct {
	cfg    FirehoseConfig
	api    firehoseAPI
	logger *zap.Logger
}

// NewFirehoseSink creates a new Firehose sink. The AWS client is built on
// Connect.
func NewFirehoseSink(cfg FirehoseConfig, logger *zap.Logger) *FirehoseSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FirehoseSink{cfg: cfg, logger: logger}
}

func newFirehoseSinkWithAPI(api firehoseAPI, logger *zap.Logger) *FirehoseSink {
	s := NewFirehoseSink(FirehoseConfig{}, logger)
	s.api = api
	return s
}

// Connect loads AWS configuration and creates the Firehose client
func (s *FirehoseSink) Connect(ctx context.Context) error {
	if s.api != nil {
		return nil
	}

	var loadOpts []func(*config.LoadOptions) error
	if s.cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(s.cfg.Region))
	}
	if s.cfg.AccessKeyID != "" && s.cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.cfg.AccessKeyID, s.cfg.SecretAccessKey, s.cfg.SessionToken)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	s.api = firehose.NewFromConfig(awsCfg, func(o *firehose.Options) {
		if s.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.cfg.Endpoint)
		}
	})
	s.logger.Info("Firehose client ready", zap.String("region", awsCfg.Region))
	return nil
}

// MaxBatchSize returns the PutRecordBatch record limit
func (s *FirehoseSink) MaxBatchSize() int {
	return FirehoseQuota
}

// Send puts one chunk on the delivery stream. Records rejected individually
// are counted in Ack.Failed; only a failed call is an error.
func (s *FirehoseSink) Send(ctx context.Context, stream string, payloads []pipeline.Payload) (*pipeline.Ack, error) {
	if s.api == nil {
		return nil, errors.New("firehose sink is not connected")
	}
	if len(payloads) > FirehoseQuota {
		return nil, fmt.Errorf("batch of %d exceeds firehose quota %d", len(payloads), FirehoseQuota)
	}

	data, err := encodeRecords(payloads)
	if err != nil {
		return nil, err
	}
	records := make([]types.Record, 0, len(data))
	for _, d := range data {
		records = append(records, types.Record{Data: d})
	}

	out, err := s.api.PutRecordBatch(ctx, &firehose.PutRecordBatchInput{
		DeliveryStreamName: aws.String(stream),
		Records:            records,
	})
	if err != nil {
		return nil, fmt.Errorf("put record batch %s: %w", stream, err)
	}

	ack := &pipeline.Ack{
		Failed:    int(aws.ToInt32(out.FailedPutCount)),
		Encrypted: aws.ToBool(out.Encrypted),
	}
	ack.Accepted = len(payloads) - ack.Failed
	for _, entry := range out.RequestResponses {
		if entry.ErrorCode != nil {
			s.logger.Warn("Firehose rejected record",
				zap.String("stream", stream),
				zap.String("error_code", aws.ToString(entry.ErrorCode)),
				zap.String("error_message", aws.ToString(entry.ErrorMessage)),
			)
			continue
		}
		ack.RecordIDs = append(ack.RecordIDs, aws.ToString(entry.RecordId))
	}
	return ack, nil
}

// Close is a no-op; the AWS client holds no connection to release
func (s *FirehoseSink) Close() error {
	return nil
}
