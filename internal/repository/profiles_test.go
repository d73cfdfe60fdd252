package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"companion-chat/internal/domain"
)

func TestGetProfile_HappyPath(t *testing.T) {
	item := profileItem(domain.Profile{
		ID: "u-1", Name: "Ana", Bio: "Loves hiking", Interests: []string{"hiking", "jazz"},
		PersonalityTraits: []string{"curious"}, RelationshipStage: domain.StageDating,
	})
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	c := mustNewClient(t, db)
	p, err := c.GetProfile(context.Background(), "u-1")
	require.NoError(t, err)
	require.Equal(t, "Ana", p.Name)
	require.Equal(t, []string{"hiking", "jazz"}, p.Interests)
	require.Equal(t, domain.StageDating, p.RelationshipStage)
	require.True(t, *db.lastGetInput.ConsistentRead)
}

func TestGetProfile_Missing(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	_, err := c.GetProfile(context.Background(), "u-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetProfile_MalformedInterests(t *testing.T) {
	item := profileItem(domain.Profile{ID: "u-1"})
	item["interests"] = s("not-a-list")
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}})
	_, err := c.GetProfile(context.Background(), "u-1")
	require.ErrorContains(t, err, "not a list")
}

func TestGetProfile_Error(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getErr: errors.New("boom")})
	_, err := c.GetProfile(context.Background(), "u-1")
	require.ErrorContains(t, err, "GetProfile")
}

func TestCreateProfile_DefaultsStage(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.CreateProfile(context.Background(), domain.Profile{ID: "u-1", Name: "Ana"}))
	require.Equal(t, domain.StageNew, db.lastPutInput.Item["relationship_stage"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, conditionNew, *db.lastPutInput.ConditionExpression)

	err := c.CreateProfile(context.Background(), domain.Profile{})
	require.ErrorContains(t, err, "id is required")
}

func TestUpdateProfile(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.UpdateProfile(context.Background(), "u-1", "Ana", "https://img"))
	require.Equal(t, "name", db.lastUpdateIn.ExpressionAttributeNames["#n"])
	require.Equal(t, "https://img", db.lastUpdateIn.ExpressionAttributeValues[":a"].(*types.AttributeValueMemberS).Value)

	db.updateErr = errors.New("boom")
	require.ErrorContains(t, c.UpdateProfile(context.Background(), "u-1", "Ana", ""), "UpdateProfile")
}

func TestUpdateRelationshipStage(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.UpdateRelationshipStage(context.Background(), "u-1", domain.StageCommitted))
	require.Equal(t, domain.StageCommitted, db.lastUpdateIn.ExpressionAttributeValues[":s"].(*types.AttributeValueMemberS).Value)
}

func TestRecentUserMessages(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{
		Items: []map[string]types.AttributeValue{makeMessageItem("m-2", "ai", "later", "2026-03-01T10:00:01Z")},
	}}}
	c := mustNewClient(t, db)
	msgs, err := c.RecentUserMessages(context.Background(), "u-1", 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, int32(50), *db.lastQueryIn.Limit)
	require.False(t, *db.lastQueryIn.ScanIndexForward)
	require.Equal(t, "USERMSG#u-1", db.lastQueryIn.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value)
}

func TestCountUserMessages_SumsPages(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{Count: 40, LastEvaluatedKey: map[string]types.AttributeValue{"PK": s("x")}},
		{Count: 15},
	}}
	c := mustNewClient(t, db)
	n, err := c.CountUserMessages(context.Background(), "u-1")
	require.NoError(t, err)
	require.Equal(t, 55, n)
	require.Equal(t, types.SelectCount, db.lastQueryIn.Select)
}

func TestCountUserMessages_Error(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("boom")})
	_, err := c.CountUserMessages(context.Background(), "u-1")
	require.ErrorContains(t, err, "CountUserMessages")
}

func TestUpdateRelationshipStage_MissingProfile(t *testing.T) {
	f := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}}
	c := mustNewClient(t, f)
	err := c.UpdateRelationshipStage(context.Background(), "ghost", domain.StageDating)
	require.ErrorIs(t, err, ErrNotFound)

	err = c.UpdateProfile(context.Background(), "ghost", "n", "a")
	require.ErrorIs(t, err, ErrNotFound)

	err = c.UpdateSessionSummary(context.Background(), "ghost", "hi", time.Now())
	require.ErrorIs(t, err, ErrNotFound)
}
