/*
Package notify publishes sync run summaries for downstream consumers.

Publishing is best-effort: a failed notification never fails the sync.
*/
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Summary is the message body of a finished sync.
type Summary struct {
	RunID              string    `json:"runId"`
	Kind               string    `json:"kind"`
	ReportID           string    `json:"reportId,omitempty"`
	State              string    `json:"state"`
	DataStartTime      time.Time `json:"dataStartTime"`
	DataEndTime        time.Time `json:"dataEndTime"`
	ProcessedCount     int       `json:"processedCount"`
	NewEventsCount     int       `json:"newEventsCount"`
	UpdatedEventsCount int       `json:"updatedEventsCount"`
	Error              string    `json:"error,omitempty"`
	CompletedAt        time.Time `json:"completedAt"`
}

// Publisher sends run summaries.
type Publisher interface {
	Publish(ctx context.Context, s Summary) error
}

// =============================================================================
// SQS
// =============================================================================

// SQSAPI is the subset of the SQS client used here.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQS publishes summaries to a queue.
type SQS struct {
	client   SQSAPI
	queueURL string
}

func NewSQS(client SQSAPI, queueURL string) *SQS {
	return &SQS{client: client, queueURL: queueURL}
}

// NewSQSClient loads the default AWS config for region.
func NewSQSClient(ctx context.Context, region string) (*sqs.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sqs.NewFromConfig(cfg), nil
}

func (p *SQS) Publish(ctx context.Context, s Summary) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"kind":  {DataType: aws.String("String"), StringValue: aws.String(s.Kind)},
			"state": {DataType: aws.String("String"), StringValue: aws.String(s.State)},
		},
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// =============================================================================
// NOP
// =============================================================================

// Nop drops every summary.
type Nop struct{}

func (Nop) Publish(context.Context, Summary) error { return nil }
