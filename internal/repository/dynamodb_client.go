package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"gem-concierge/internal/domain"
)

const (
	skPrefixTurn        = "TURN#"
	skMeta              = "META#"
	ttlDuration         = 30 * 24 * time.Hour // 30-day TTL
	defaultHistoryLimit = 20
)

// ErrTurnConflict reports that another request already stored a turn with
// the same ordinal for the session.
var ErrTurnConflict = errors.New("repository: turn already exists")

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table for consultation sessions.
type Client struct {
	api          dynamodbAPI
	tableName    string
	historyLimit int
}

// New creates a new repository Client. historyLimit caps how many of the
// newest turns Get returns; zero or less uses the default.
func New(api dynamodbAPI, tableName string, historyLimit int) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &Client{api: api, tableName: tableName, historyLimit: historyLimit}, nil
}

// sessionPK returns the DynamoDB partition key for a session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// turnSK zero-pads the ordinal so turns sort chronologically.
func turnSK(index int) string {
	return fmt.Sprintf("%s%08d", skPrefixTurn, index)
}

// ttlValue returns a Unix timestamp 30 days in the future.
func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

// Get returns the session with its newest turns in chronological order, or
// nil when the session has never been stored.
func (c *Client) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Get meta: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}

	turnCount, err := intAttr(out.Item, "turns")
	if err != nil {
		return nil, fmt.Errorf("repository: Get decode turns: %w", err)
	}
	prefs, err := mapAttr(out.Item, "preferences")
	if err != nil {
		return nil, fmt.Errorf("repository: Get decode preferences: %w", err)
	}

	turns, err := c.recentTurns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &domain.Session{
		ID:          sessionID,
		Turns:       turns,
		TurnCount:   turnCount,
		Preferences: domain.PreferenceSetFromMap(prefs),
	}, nil
}

func (c *Client) recentTurns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(c.historyLimit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Get query turns: %w", err)
	}

	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: Get unmarshal turn: %w", err)
		}
		turns = append(turns, turn)
	}
	// Reverse to chronological order before returning to transcript assembly.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// AppendTurn writes the completed turn and the updated session metadata in
// one transaction. The turn put is conditional on its ordinal being unused,
// so two concurrent turns on one session cannot both be stored. Callers
// take the ordinal from the stored turn count, so every lower ordinal is
// already taken and the meta put never lowers the count.
func (c *Client) AppendTurn(ctx context.Context, sessionID string, turn domain.Turn, prefs domain.PreferenceSet) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: AppendTurn: session id is required")
	}
	if turn.Index < 0 {
		return errors.New("repository: AppendTurn: turn index must not be negative")
	}

	ttl := ttlValue()
	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                turnItem(sessionID, turn, ttl),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item:      metaItem(sessionID, turn.Index+1, prefs, ttl),
				},
			},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return fmt.Errorf("repository: AppendTurn %s: %w", turnSK(turn.Index), ErrTurnConflict)
		}
		return fmt.Errorf("repository: AppendTurn: %w", err)
	}
	return nil
}

func isConditionFailure(err error) bool {
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return false
	}
	for _, r := range canceled.CancellationReasons {
		if aws.ToString(r.Code) == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

// itemToTurn converts a DynamoDB attribute map to a Turn.
func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	index, err := intAttr(item, "index")
	if err != nil {
		return domain.Turn{}, err
	}
	utterance, err := strAttr(item, "utterance")
	if err != nil {
		return domain.Turn{}, err
	}
	reply, _ := strAttr(item, "reply") // allow empty

	return domain.Turn{
		Index:     index,
		Utterance: utterance,
		Reply:     reply,
	}, nil
}

func turnItem(sessionID string, turn domain.Turn, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":        &types.AttributeValueMemberS{Value: turnSK(turn.Index)},
		"sessionId": &types.AttributeValueMemberS{Value: sessionID},
		"index":     &types.AttributeValueMemberN{Value: strconv.Itoa(turn.Index)},
		"utterance": &types.AttributeValueMemberS{Value: turn.Utterance},
		"reply":     &types.AttributeValueMemberS{Value: turn.Reply},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

func metaItem(sessionID string, turns int, prefs domain.PreferenceSet, ttl int64) map[string]types.AttributeValue {
	prefAttrs := make(map[string]types.AttributeValue)
	for k, v := range prefs.Map() {
		prefAttrs[k] = &types.AttributeValueMemberS{Value: v}
	}
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":           &types.AttributeValueMemberS{Value: skMeta},
		"sessionId":    &types.AttributeValueMemberS{Value: sessionID},
		"lastActivity": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		"turns":        &types.AttributeValueMemberN{Value: strconv.Itoa(turns)},
		"preferences":  &types.AttributeValueMemberM{Value: prefAttrs},
		"ttl":          &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
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

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

// mapAttr reads a string map; a missing attribute is an empty map.
func mapAttr(item map[string]types.AttributeValue, key string) (map[string]string, error) {
	v, ok := item[key]
	if !ok {
		return map[string]string{}, nil
	}
	m, ok := v.(*types.AttributeValueMemberM)
	if !ok {
		return nil, fmt.Errorf("repository: attribute %q is not a map", key)
	}
	out := make(map[string]string, len(m.Value))
	for k := range m.Value {
		s, err := strAttr(m.Value, k)
		if err != nil {
			return nil, err
		}
		out[k] = s
	}
	return out, nil
}
