package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"companion-chat/internal/domain"
)

const skProfile = "PROFILE#"

func profilePK(userID string) string { return "PROFILE#" + userID }

func profileKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: profilePK(userID)},
		"SK": &types.AttributeValueMemberS{Value: skProfile},
	}
}

// GetProfile returns the profile record of a durable user, or ErrNotFound.
func (c *Client) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            profileKey(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Profile{}, fmt.Errorf("repository: GetProfile get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Profile{}, ErrNotFound
	}
	p, err := itemToProfile(out.Item)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("repository: GetProfile decode: %w", err)
	}
	return p, nil
}

// CreateProfile inserts a profile; it fails if one already exists.
func (c *Client) CreateProfile(ctx context.Context, p domain.Profile) error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("repository: CreateProfile: id is required")
	}
	if p.RelationshipStage == "" {
		p.RelationshipStage = domain.StageNew
	}
	if p.UpdatedAt == "" {
		p.UpdatedAt = formatTime(c.now())
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                profileItem(p),
		ConditionExpression: aws.String(conditionNew),
	})
	if err != nil {
		return fmt.Errorf("repository: CreateProfile: %w", err)
	}
	return nil
}

// UpdateProfile sets the editable identity fields of a profile.
func (c *Client) UpdateProfile(ctx context.Context, userID, name, avatarURL string) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 profileKey(userID),
		UpdateExpression:    aws.String("SET #n = :n, avatar_url = :a, updated_at = :t"),
		ConditionExpression: aws.String(conditionSeen),
		ExpressionAttributeNames: map[string]string{
			"#n": "name",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":n": &types.AttributeValueMemberS{Value: name},
			":a": &types.AttributeValueMemberS{Value: avatarURL},
			":t": &types.AttributeValueMemberS{Value: formatTime(c.now())},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: UpdateProfile: %w", missingAsNotFound(err))
	}
	return nil
}

// UpdateRelationshipStage stores a new relationship stage on a profile.
func (c *Client) UpdateRelationshipStage(ctx context.Context, userID, stage string) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 profileKey(userID),
		UpdateExpression:    aws.String("SET relationship_stage = :s, updated_at = :t"),
		ConditionExpression: aws.String(conditionSeen),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: stage},
			":t": &types.AttributeValueMemberS{Value: formatTime(c.now())},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: UpdateRelationshipStage: %w", missingAsNotFound(err))
	}
	return nil
}

// RecentUserMessages returns up to limit of the user's messages across all
// sessions, newest first.
func (c *Client) RecentUserMessages(ctx context.Context, userID string, limit int) ([]domain.Message, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(c.indexName),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: userMsgPK(userID)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: RecentUserMessages query: %w", err)
	}
	if out == nil {
		return nil, nil
	}
	msgs := make([]domain.Message, 0, len(out.Items))
	for _, item := range out.Items {
		m, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: RecentUserMessages unmarshal: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// CountUserMessages counts every message stored for the user.
func (c *Client) CountUserMessages(ctx context.Context, userID string) (int, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(c.indexName),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: userMsgPK(userID)},
		},
		Select: types.SelectCount,
	}
	total := 0
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return 0, fmt.Errorf("repository: CountUserMessages query: %w", err)
		}
		if out == nil {
			return total, nil
		}
		total += int(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func profileItem(p domain.Profile) map[string]types.AttributeValue {
	item := profileKey(p.ID)
	item["id"] = &types.AttributeValueMemberS{Value: p.ID}
	item["name"] = &types.AttributeValueMemberS{Value: p.Name}
	item["email"] = &types.AttributeValueMemberS{Value: p.Email}
	item["avatar_url"] = &types.AttributeValueMemberS{Value: p.AvatarURL}
	item["bio"] = &types.AttributeValueMemberS{Value: p.Bio}
	item["interests"] = stringList(p.Interests)
	item["personality_traits"] = stringList(p.PersonalityTraits)
	item["relationship_stage"] = &types.AttributeValueMemberS{Value: p.RelationshipStage}
	item["updated_at"] = &types.AttributeValueMemberS{Value: p.UpdatedAt}
	return item
}

func itemToProfile(item map[string]types.AttributeValue) (domain.Profile, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Profile{}, err
	}
	interests, err := listAttr(item, "interests")
	if err != nil {
		return domain.Profile{}, err
	}
	traits, err := listAttr(item, "personality_traits")
	if err != nil {
		return domain.Profile{}, err
	}
	p := domain.Profile{ID: id, Interests: interests, PersonalityTraits: traits}
	p.Name, _ = strAttr(item, "name")
	p.Email, _ = strAttr(item, "email")
	p.AvatarURL, _ = strAttr(item, "avatar_url")
	p.Bio, _ = strAttr(item, "bio")
	p.RelationshipStage, _ = strAttr(item, "relationship_stage")
	p.UpdatedAt, _ = strAttr(item, "updated_at")
	return p, nil
}
