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

	"companion-chat/internal/domain"
)

const (
	skMeta        = "META#"
	skPrefixMsg   = "MSG#"
	gsiName       = "GSI1"
	sortableTime  = "2006-01-02T15:04:05.000000000Z"
	defaultIndex  = gsiName
	conditionNew  = "attribute_not_exists(PK) AND attribute_not_exists(SK)"
	conditionSeen = "attribute_exists(PK)"
)

// ErrNotFound is returned when an item does not exist.
var ErrNotFound = errors.New("repository: item not found")

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores chat sessions, messages and profiles in a single DynamoDB
// table with one global secondary index (GSI1PK/GSI1SK).
type Client struct {
	api       dynamodbAPI
	tableName string
	indexName string
	retention time.Duration
	now       func() time.Time
}

type Option func(*Client)

// WithRetention sets a TTL on session and message items. Zero disables it.
func WithRetention(d time.Duration) Option {
	return func(c *Client) { c.retention = d }
}

// WithIndexName overrides the secondary index name.
func WithIndexName(name string) Option {
	return func(c *Client) {
		if strings.TrimSpace(name) != "" {
			c.indexName = name
		}
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{api: api, tableName: tableName, indexName: defaultIndex, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// missingAsNotFound maps a failed attribute_exists condition to ErrNotFound.
func missingAsNotFound(err error) error {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ErrNotFound
	}
	return err
}

func sessionPK(sessionID string) string { return "SESSION#" + sessionID }
func userPK(userID string) string       { return "USER#" + userID }
func userMsgPK(userID string) string    { return "USERMSG#" + userID }

func formatTime(ts time.Time) string {
	return ts.UTC().Format(sortableTime)
}

// msgSK orders messages by send time; the id breaks ties.
func msgSK(sentAt time.Time, id string) string {
	return skPrefixMsg + formatTime(sentAt) + "#" + id
}

// ttlValue returns the expiry timestamp, or 0 when retention is disabled.
func (c *Client) ttlValue() int64 {
	if c.retention <= 0 {
		return 0
	}
	return c.now().Add(c.retention).Unix()
}

// ListSessions returns the user's sessions, most recently updated first.
func (c *Client) ListSessions(ctx context.Context, userID string) ([]domain.ChatSession, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(c.indexName),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: userPK(userID)},
		},
		ScanIndexForward: aws.Bool(false),
	}
	items, err := c.queryAll(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: ListSessions query: %w", err)
	}
	sessions := make([]domain.ChatSession, 0, len(items))
	for _, item := range items {
		s, err := itemToSession(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListSessions unmarshal: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// CreateSession inserts a new session record.
func (c *Client) CreateSession(ctx context.Context, s domain.ChatSession) error {
	if s.ID == "" || s.UserID == "" {
		return errors.New("repository: CreateSession: id and user id are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                c.sessionItem(s),
		ConditionExpression: aws.String(conditionNew),
	})
	if err != nil {
		return fmt.Errorf("repository: CreateSession: %w", err)
	}
	return nil
}

// UpdateSessionSummary sets last_message and last_updated only; other
// attributes such as title are left untouched.
func (c *Client) UpdateSessionSummary(ctx context.Context, sessionID, lastMessage string, lastUpdated time.Time) error {
	_, err := c.api.UpdateItem(ctx, c.summaryUpdate(sessionID, lastMessage, lastUpdated))
	if err != nil {
		return fmt.Errorf("repository: UpdateSessionSummary: %w", missingAsNotFound(err))
	}
	return nil
}

// ListMessages returns a session's messages in chronological order.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(true),
	}
	items, err := c.queryAll(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: ListMessages query: %w", err)
	}
	msgs := make([]domain.Message, 0, len(items))
	for _, item := range items {
		m, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListMessages unmarshal: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// AppendMessage persists one completed message.
func (c *Client) AppendMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	if err := validateMessage(sessionID, msg); err != nil {
		return fmt.Errorf("repository: AppendMessage: %w", err)
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                c.messageItem(sessionID, msg),
		ConditionExpression: aws.String(conditionNew),
	})
	if err != nil {
		return fmt.Errorf("repository: AppendMessage: %w", err)
	}
	return nil
}

// AppendMessageWithSummary writes the message and the session summary in one
// transaction.
func (c *Client) AppendMessageWithSummary(ctx context.Context, sessionID string, msg domain.Message, lastMessage string, lastUpdated time.Time) error {
	if err := validateMessage(sessionID, msg); err != nil {
		return fmt.Errorf("repository: AppendMessageWithSummary: %w", err)
	}
	upd := c.summaryUpdate(sessionID, lastMessage, lastUpdated)
	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                c.messageItem(sessionID, msg),
					ConditionExpression: aws.String(conditionNew),
				},
			},
			{
				Update: &types.Update{
					TableName:                 upd.TableName,
					Key:                       upd.Key,
					UpdateExpression:          upd.UpdateExpression,
					ConditionExpression:       upd.ConditionExpression,
					ExpressionAttributeValues: upd.ExpressionAttributeValues,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: AppendMessageWithSummary: %w", err)
	}
	return nil
}

func validateMessage(sessionID string, msg domain.Message) error {
	if sessionID == "" || msg.ID == "" {
		return errors.New("session id and message id are required")
	}
	if msg.UserID == "" {
		return errors.New("message user id is required")
	}
	if msg.IsLoading() {
		return errors.New("pending messages are not persisted")
	}
	return nil
}

func (c *Client) summaryUpdate(sessionID, lastMessage string, lastUpdated time.Time) *dynamodb.UpdateItemInput {
	ts := formatTime(lastUpdated)
	return &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression:    aws.String("SET last_message = :m, last_updated = :u, GSI1SK = :u"),
		ConditionExpression: aws.String(conditionSeen),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":m": &types.AttributeValueMemberS{Value: lastMessage},
			":u": &types.AttributeValueMemberS{Value: ts},
		},
	}
}

// queryAll follows LastEvaluatedKey until the result set is exhausted.
func (c *Client) queryAll(ctx context.Context, in *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return items, nil
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (c *Client) sessionItem(s domain.ChatSession) map[string]types.AttributeValue {
	ts := formatTime(s.LastUpdated)
	item := map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: sessionPK(s.ID)},
		"SK":           &types.AttributeValueMemberS{Value: skMeta},
		"GSI1PK":       &types.AttributeValueMemberS{Value: userPK(s.UserID)},
		"GSI1SK":       &types.AttributeValueMemberS{Value: ts},
		"id":           &types.AttributeValueMemberS{Value: s.ID},
		"title":        &types.AttributeValueMemberS{Value: s.Title},
		"last_message": &types.AttributeValueMemberS{Value: s.LastMessage},
		"last_updated": &types.AttributeValueMemberS{Value: ts},
		"user_id":      &types.AttributeValueMemberS{Value: s.UserID},
	}
	if ttl := c.ttlValue(); ttl > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttl)}
	}
	return item
}

func (c *Client) messageItem(sessionID string, m domain.Message) map[string]types.AttributeValue {
	ts := formatTime(m.SentAt)
	item := map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":         &types.AttributeValueMemberS{Value: msgSK(m.SentAt, m.ID)},
		"GSI1PK":     &types.AttributeValueMemberS{Value: userMsgPK(m.UserID)},
		"GSI1SK":     &types.AttributeValueMemberS{Value: ts},
		"id":         &types.AttributeValueMemberS{Value: m.ID},
		"content":    &types.AttributeValueMemberS{Value: m.Content},
		"role":       &types.AttributeValueMemberS{Value: string(m.Role)},
		"sent_at":    &types.AttributeValueMemberS{Value: ts},
		"session_id": &types.AttributeValueMemberS{Value: sessionID},
		"user_id":    &types.AttributeValueMemberS{Value: m.UserID},
	}
	if ttl := c.ttlValue(); ttl > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttl)}
	}
	return item
}

func itemToSession(item map[string]types.AttributeValue) (domain.ChatSession, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.ChatSession{}, err
	}
	userID, err := strAttr(item, "user_id")
	if err != nil {
		return domain.ChatSession{}, err
	}
	updated, err := timeAttr(item, "last_updated")
	if err != nil {
		return domain.ChatSession{}, err
	}
	title, _ := strAttr(item, "title")              // allow empty
	lastMessage, _ := strAttr(item, "last_message") // allow empty
	return domain.ChatSession{
		ID:          id,
		Title:       title,
		LastMessage: lastMessage,
		LastUpdated: updated,
		UserID:      userID,
	}, nil
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Message{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Message{}, err
	}
	sentAt, err := timeAttr(item, "sent_at")
	if err != nil {
		return domain.Message{}, err
	}
	content, _ := strAttr(item, "content") // allow empty
	userID, _ := strAttr(item, "user_id")
	return domain.Message{
		ID:      id,
		Content: content,
		Role:    domain.Role(role),
		SentAt:  sentAt,
		UserID:  userID,
		Status:  domain.StatusComplete,
	}, nil
}
