package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// maxSQSMessageBytes is the SQS message size limit.
const maxSQSMessageBytes = 256 * 1024

// SQSAPI is the subset of the SQS client used by SQSDeadLetter.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSDeadLetter sends dead-letter messages to an SQS queue.
type SQSDeadLetter struct {
	client   SQSAPI
	queueURL string
}

// NewSQSDeadLetter sends to queueURL.
func NewSQSDeadLetter(client SQSAPI, queueURL string) (*SQSDeadLetter, error) {
	if client == nil {
		return nil, fmt.Errorf("sqs client cannot be nil")
	}
	if queueURL == "" {
		return nil, fmt.Errorf("dead letter queue url is required")
	}
	return &SQSDeadLetter{client: client, queueURL: queueURL}, nil
}

// Send publishes msg. Messages over the SQS size limit are split into one
// message per record, and a record that alone exceeds it is truncated.
func (d *SQSDeadLetter) Send(ctx context.Context, msg DeadLetterMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if len(body) <= maxSQSMessageBytes {
		return d.send(ctx, msg, body)
	}

	for _, r := range msg.Records {
		single := msg
		single.Records = []DeadRecord{r}
		body, err := json.Marshal(single)
		if err != nil {
			return err
		}
		if over := len(body) - maxSQSMessageBytes; over > 0 {
			// JSON escaping can grow the payload, so trim with margin
			keep := max(len(r.Data)-2*over, 0)
			single.Records = []DeadRecord{{ID: r.ID, Data: r.Data[:keep], Truncated: true}}
			if body, err = json.Marshal(single); err != nil {
				return err
			}
		}
		if err := d.send(ctx, single, body); err != nil {
			return err
		}
	}
	return nil
}

func (d *SQSDeadLetter) send(ctx context.Context, msg DeadLetterMessage, body []byte) error {
	// SQS rejects empty attribute values
	attrs := map[string]types.MessageAttributeValue{}
	if msg.Reason != "" {
		attrs["reason"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(msg.Reason)}
	}
	if msg.Source != "" {
		attrs["source"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(msg.Source)}
	}
	_, err := d.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(d.queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("sending to %s: %w", d.queueURL, err)
	}
	return nil
}
