// Package firehose ships security events to an Amazon Data Firehose delivery
// stream as newline-terminated JSON records.
package firehose

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/firehose"
	"github.com/aws/aws-sdk-go-v2/service/firehose/types"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/audit"
)

// MaxBatchRecords is the PutRecordBatch per-call record limit.
const MaxBatchRecords = 500

// PutRecordBatchAPI is the subset of the Firehose client used by AuditStore.
type PutRecordBatchAPI interface {
	PutRecordBatch(ctx context.Context, in *firehose.PutRecordBatchInput, optFns ...func(*firehose.Options)) (*firehose.PutRecordBatchOutput, error)
}

// AuditStore writes events to a delivery stream.
type AuditStore struct {
	client PutRecordBatchAPI
	stream string
	logger *slog.Logger
}

// StreamName accepts either a bare delivery stream name or its ARN
// (arn:aws:firehose:region:acct:deliverystream/name) and returns the name.
func StreamName(nameOrARN string) string {
	if i := strings.LastIndex(nameOrARN, "/"); i >= 0 {
		return nameOrARN[i+1:]
	}
	return nameOrARN
}

// New creates a store using a Firehose client built from cfg.
func New(cfg aws.Config, nameOrARN string, logger *slog.Logger, optFns ...func(*firehose.Options)) (*AuditStore, error) {
	return NewWithClient(firehose.NewFromConfig(cfg, optFns...), nameOrARN, logger)
}

// NewWithClient creates a store around an existing client.
func NewWithClient(client PutRecordBatchAPI, nameOrARN string, logger *slog.Logger) (*AuditStore, error) {
	stream := StreamName(nameOrARN)
	if stream == "" {
		return nil, fmt.Errorf("firehose delivery stream name is empty")
	}
	return &AuditStore{client: client, stream: stream, logger: logger}, nil
}

// Append sends events in chunks of MaxBatchRecords. Records the service
// rejects are retried once; any still failing are reported as an error.
func (s *AuditStore) Append(ctx context.Context, events ...audit.SecurityEvent) error {
	records := make([]types.Record, 0, len(events))
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal security event %s: %w", e.RequestID, err)
		}
		records = append(records, types.Record{Data: append(data, '\n')})
	}

	for start := 0; start < len(records); start += MaxBatchRecords {
		end := min(start+MaxBatchRecords, len(records))
		if err := s.put(ctx, records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *AuditStore) put(ctx context.Context, records []types.Record) error {
	failed, err := s.putOnce(ctx, records)
	if err != nil {
		return err
	}
	if len(failed) == 0 {
		return nil
	}

	s.logger.Warn("retrying rejected firehose records", "stream", s.stream, "count", len(failed))
	failed, err = s.putOnce(ctx, failed)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("firehose rejected %d records for stream %s", len(failed), s.stream)
	}
	return nil
}

// putOnce returns the records the service reported as failed.
func (s *AuditStore) putOnce(ctx context.Context, records []types.Record) ([]types.Record, error) {
	out, err := s.client.PutRecordBatch(ctx, &firehose.PutRecordBatchInput{
		DeliveryStreamName: aws.String(s.stream),
		Records:            records,
	})
	if err != nil {
		return nil, fmt.Errorf("put record batch to %s: %w", s.stream, err)
	}
	if aws.ToInt32(out.FailedPutCount) == 0 {
		return nil, nil
	}

	var failed []types.Record
	for i, r := range out.RequestResponses {
		if r.ErrorCode != nil && i < len(records) {
			failed = append(failed, records[i])
		}
	}
	return failed, nil
}

// Flush is a no-op; Append is synchronous.
func (s *AuditStore) Flush(context.Context) error { return nil }

// Close is a no-op.
func (s *AuditStore) Close() error { return nil }

var _ audit.AuditStore = (*AuditStore)(nil)
