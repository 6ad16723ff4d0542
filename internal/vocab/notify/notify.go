// Package notify implements the C9 connection registry and broadcaster: it
// tracks which WebSocket connections are subscribed to which vocab/language
// pair and fans graph step events out to all of them, reaping connections
// API Gateway reports as gone. Grounded on websocket_utils.py's
// WebSocketNotifier.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apitypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/vocabweave/vocabweave/internal/datetime"
	"github.com/vocabweave/vocabweave/internal/observability"
	"github.com/vocabweave/vocabweave/internal/vocab/domain"
)

// VocabWordIndex is the GSI projecting connections by the vocab_word they
// subscribed to, used to fan a single word/language pair's events out to
// every interested connection.
const VocabWordIndex = "VocabWordConnectionsIndex"

// Config configures the connections table and the API Gateway management
// endpoint used to push frames to connections.
type Config struct {
	TableName   string
	Region      string
	Endpoint    string // DynamoDB endpoint override, e.g. for local testing
	APIEndpoint string // API Gateway Management API endpoint (per-deployment, e.g. https://{id}.execute-api.{region}.amazonaws.com/{stage})
	Logger      *observability.Logger
}

// ddbClient is the subset of *dynamodb.Client the notifier depends on.
type ddbClient interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// apiGatewayClient is the subset of *apigatewaymanagementapi.Client the
// notifier depends on.
type apiGatewayClient interface {
	PostToConnection(ctx context.Context, in *apigatewaymanagementapi.PostToConnectionInput, opts ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

// Notifier implements graph.Notifier plus the connection-lifecycle
// operations a WebSocket front end needs (register/subscribe/unregister).
type Notifier struct {
	table     ddbClient
	tableName string
	api       apiGatewayClient // nil when no API Gateway endpoint is configured: broadcasts become no-ops
	logger    *observability.Logger
}

// New creates a Notifier backed by DynamoDB and, when cfg.APIEndpoint is
// set, API Gateway Management API.
func New(ctx context.Context, cfg Config) (*Notifier, error) {
	tableName := strings.TrimSpace(cfg.TableName)
	if tableName == "" {
		return nil, fmt.Errorf("notify: table name is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("notify: load aws config: %w", err)
	}

	ddb := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	var api apiGatewayClient
	if endpoint := strings.TrimSpace(cfg.APIEndpoint); endpoint != "" {
		api = apigatewaymanagementapi.NewFromConfig(awsCfg, func(o *apigatewaymanagementapi.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}

	return &Notifier{table: ddb, tableName: tableName, api: api, logger: logger}, nil
}

func newWithClients(table ddbClient, api apiGatewayClient, tableName string) *Notifier {
	return &Notifier{table: table, tableName: tableName, api: api, logger: observability.NewLogger(observability.LogConfig{})}
}

// connectionKey mirrors create_vocab_word_key: {target_language}#{norm(source_word)}.
func connectionKey(sourceWord, targetLanguage string) string {
	return fmt.Sprintf("%s#%s", strings.ToLower(targetLanguage), domain.Normalize(sourceWord))
}

// Register records a brand-new WebSocket connection, unsubscribed.
func (n *Notifier) Register(ctx context.Context, connectionID, userID string) error {
	item, err := attributevalue.MarshalMap(map[string]any{
		"connection_id": connectionID,
		"user_id":       orAnonymous(userID),
		"connected_at":  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("notify: marshal connection: %w", err)
	}
	_, err = n.table.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(n.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("notify: register connection: %w", err)
	}
	return nil
}

// Unregister removes a connection, called on an explicit disconnect.
func (n *Notifier) Unregister(ctx context.Context, connectionID string) error {
	return n.deleteConnection(ctx, connectionID)
}

// Subscribe attaches a connection to a vocab_word/target_language pair so it
// receives that pair's processing events.
func (n *Notifier) Subscribe(ctx context.Context, connectionID, sourceWord, targetLanguage string) error {
	_, err := n.table.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(n.tableName),
		Key: map[string]types.AttributeValue{
			"connection_id": &types.AttributeValueMemberS{Value: connectionID},
		},
		UpdateExpression: aws.String("SET vocab_word = :vocab_word, last_subscription = :ts"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":vocab_word": &types.AttributeValueMemberS{Value: connectionKey(sourceWord, targetLanguage)},
			":ts":         &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("notify: subscribe connection: %w", err)
	}
	return nil
}

// message is the wire shape every event is wrapped in, mirroring
// WebSocketNotifier._create_message.
type message struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id,omitempty"`
	Step      string `json:"step,omitempty"`
	Data      any    `json:"data"`
}

// Notify implements graph.Notifier: it builds the event payload for
// eventType from st and broadcasts it to every connection subscribed to
// st's source word / target language pair.
func (n *Notifier) Notify(ctx context.Context, eventType string, st domain.State) error {
	data, step := eventData(eventType, st)
	msg := message{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: st.SourceWord, // best available correlation id absent a dedicated RequestID thread-through
		Step:      step,
		Data:      data,
	}

	key := connectionKey(st.SourceWord, st.TargetLanguage)
	sent, err := n.broadcast(ctx, key, msg)
	if err != nil {
		return err
	}
	n.logger.Info(ctx, "vocab_word_broadcast", "vocab_word", key, "message_type", eventType, "successful_sends", sent)
	return nil
}

func eventData(eventType string, st domain.State) (data any, step string) {
	base := map[string]any{
		"source_word":     st.SourceWord,
		"target_language": st.TargetLanguage,
	}
	base = datetime.WithNormalizedTimestamp(base, time.Now().UTC())
	switch eventType {
	case "processing_started":
		base["status"] = "started"
	case "step_update":
		base["status"] = "running"
		base["result"] = st
		step = currentStep(st)
	case "chunk_update":
		base["chunk"] = st
	case "processing_completed":
		base["status"] = "completed"
		base["result"] = st
	case "processing_failed":
		base["status"] = "failed"
		base["error"] = st.ValidationIssue
	case "cache_hit":
		base["status"] = "cached"
		base["result"] = st.ExistingItem
	}
	return base, step
}

// currentStep names the most recently completed stage, used only for the
// message's "step" field. It's best-effort: later stages overwrite earlier
// guesses since State is cumulative.
func currentStep(st domain.State) string {
	switch {
	case st.ProcessingComplete:
		return "supervisor_final_quality_check"
	case st.ParallelTasksComplete:
		return "join_parallel_tasks"
	case len(st.CompletedParallelTasks) > 0:
		return st.CompletedParallelTasks[len(st.CompletedParallelTasks)-1]
	case st.SequentialQualityPassed:
		return "supervisor_sequential_quality_check"
	case st.TargetWord != "":
		return "translate_word"
	case st.SourcePartOfSpeech != "":
		return "classify_source_word"
	default:
		return "validate_source_word"
	}
}

// broadcast queries every connection subscribed to vocabWordKey and posts
// msg to each, reaping connections API Gateway reports as gone.
func (n *Notifier) broadcast(ctx context.Context, vocabWordKey string, msg message) (int, error) {
	out, err := n.table.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(n.tableName),
		IndexName:              aws.String(VocabWordIndex),
		KeyConditionExpression: aws.String("vocab_word = :vocab_word"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":vocab_word": &types.AttributeValueMemberS{Value: vocabWordKey},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("notify: query subscribers: %w", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("notify: marshal message: %w", err)
	}

	sent := 0
	for _, rawItem := range out.Items {
		var row struct {
			ConnectionID string `dynamodbav:"connection_id"`
		}
		if err := attributevalue.UnmarshalMap(rawItem, &row); err != nil || row.ConnectionID == "" {
			continue
		}
		if n.postToConnection(ctx, row.ConnectionID, body) {
			sent++
		}
	}
	return sent, nil
}

// postToConnection sends body to a single connection. It never returns an
// error to the caller: a send failure only ever affects that one
// connection, never the rest of the broadcast. A GoneException reaps the
// stale connection row.
func (n *Notifier) postToConnection(ctx context.Context, connectionID string, body []byte) bool {
	if n.api == nil {
		return false
	}
	_, err := n.api.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionID),
		Data:         body,
	})
	if err == nil {
		return true
	}

	var gone *apitypes.GoneException
	if errors.As(err, &gone) {
		n.logger.Info(ctx, "stale_connection_removed", "connection_id", connectionID)
		_ = n.deleteConnection(ctx, connectionID)
		return false
	}
	n.logger.Error(ctx, "websocket_send_failed", "connection_id", connectionID, "error", err.Error())
	return false
}

func (n *Notifier) deleteConnection(ctx context.Context, connectionID string) error {
	_, err := n.table.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(n.tableName),
		Key: map[string]types.AttributeValue{
			"connection_id": &types.AttributeValueMemberS{Value: connectionID},
		},
	})
	if err != nil {
		return fmt.Errorf("notify: delete connection: %w", err)
	}
	return nil
}

func orAnonymous(userID string) string {
	if strings.TrimSpace(userID) == "" {
		return "anonymous"
	}
	return userID
}
