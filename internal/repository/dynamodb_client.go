package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"wa-relay/internal/domain"
)

const (
	skPrefixMsg  = "MSG#"
	// sortableTime is fixed-width so sort keys order lexically by time.
	sortableTime = "2006-01-02T15:04:05.000000000Z07:00"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client wraps a DynamoDB table holding inbound messages partitioned by sender.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// senderPK returns the DynamoDB partition key for a sender.
func senderPK(senderID string) string {
	return "SENDER#" + senderID
}

// msgSK orders messages by creation time. The id suffix keeps two appends in
// the same instant from colliding.
func msgSK(ts time.Time, id string) string {
	return skPrefixMsg + ts.UTC().Format(sortableTime) + "#" + id
}

// Append stores one message for the sender. It never overwrites.
func (c *Client) Append(ctx context.Context, senderID, text string) error {
	msg := NewMessage(senderID, text, c.now())
	if msg.SenderID == "" {
		return errors.New("repository: Append: sender id is required")
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                messageItem(msg),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

// Recent returns up to limit message texts for the sender, newest first.
func (c *Client) Recent(ctx context.Context, senderID string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: senderPK(senderID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ProjectionExpression: aws.String("#t"),
		ExpressionAttributeNames: map[string]string{
			"#t": "text",
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: Recent query: %w", err)
	}

	texts := make([]string, 0, len(out.Items))
	for _, item := range out.Items {
		text, err := strAttr(item, "text")
		if err != nil {
			return nil, fmt.Errorf("repository: Recent unmarshal: %w", err)
		}
		texts = append(texts, text)
	}
	return texts, nil
}

// NewMessage builds the stored form of an inbound message created at ts.
func NewMessage(senderID, text string, ts time.Time) domain.StoredMessage {
	return domain.StoredMessage{
		ID:        uuid.NewString(),
		SenderID:  senderID,
		Text:      text,
		CreatedAt: ts.UTC(),
	}
}

func messageItem(msg domain.StoredMessage) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: senderPK(msg.SenderID)},
		"SK":        &types.AttributeValueMemberS{Value: msgSK(msg.CreatedAt, msg.ID)},
		"id":        &types.AttributeValueMemberS{Value: msg.ID},
		"senderId":  &types.AttributeValueMemberS{Value: msg.SenderID},
		"text":      &types.AttributeValueMemberS{Value: msg.Text},
		"createdAt": &types.AttributeValueMemberS{Value: msg.CreatedAt.Format(time.RFC3339Nano)},
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
