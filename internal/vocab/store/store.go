// Package store implements the persistence and deduplication layer: the
// idempotent existence check, the first-hit-wins media-reuse lookup across
// related search terms, and the conditional write of the final artifact
// plus its search-term fan-out rows.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/vocabweave/vocabweave/internal/vocab/domain"
)

// Config configures the vocabulary table client.
type Config struct {
	TableName string
	Region    string
	Endpoint  string
}

// EnglishWordIndex is the GSI name projecting `media` by normalized
// english_word, used for the media-reuse lookup.
const EnglishWordIndex = "EnglishMediaLookupIndex"

// ddbClient is the subset of *dynamodb.Client the store depends on. Tests
// substitute a fake implementation instead of talking to real DynamoDB.
type ddbClient interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Store is the C6 persistence + dedup layer.
type Store struct {
	client    ddbClient
	tableName string
}

// New creates a Store backed by DynamoDB.
func New(ctx context.Context, cfg Config) (*Store, error) {
	tableName := strings.TrimSpace(cfg.TableName)
	if tableName == "" {
		return nil, fmt.Errorf("store: table name is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("store: load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &Store{client: client, tableName: tableName}, nil
}

// newWithClient builds a Store around an arbitrary ddbClient, used by tests
// to substitute a fake DynamoDB backend.
func newWithClient(client ddbClient, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// Key helpers for the persistence entities below.

func sourcePK(sourceLanguage, sourceWord string) string {
	return fmt.Sprintf("SRC#%s#%s", sourceLanguage, domain.Normalize(sourceWord))
}

func targetSKPrefix(targetLanguage string) string {
	return fmt.Sprintf("TGT#%s", targetLanguage)
}

func targetSK(targetLanguage, posLabel string) string {
	return fmt.Sprintf("TGT#%s#POS#%s", targetLanguage, domain.CollapsePOSForKey(posLabel))
}

func lookupKey(targetLanguage, targetWord string) string {
	return fmt.Sprintf("LKP#%s#%s", targetLanguage, domain.Normalize(targetWord))
}

func searchPK(term string) string {
	return fmt.Sprintf("SEARCH#%s", domain.Normalize(term))
}

// CheckExists checks for an existing entry: given a base word and
// language pair, query PK=SRC#{src}#{norm(word)} with SK prefix TGT#{tgt},
// limit 1. If found, word_exists=true and the item is attached to state.
func (s *Store) CheckExists(ctx context.Context, sourceLanguage, sourceWord, targetLanguage string) (bool, map[string]any, error) {
	pk := sourcePK(sourceLanguage, sourceWord)
	prefix := targetSKPrefix(targetLanguage)

	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: pk},
			":skPrefix": &types.AttributeValueMemberS{Value: prefix},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return false, nil, fmt.Errorf("store: check exists: %w", err)
	}
	if len(out.Items) == 0 {
		return false, nil, nil
	}

	var item map[string]any
	if err := attributevalue.UnmarshalMap(out.Items[0], &item); err != nil {
		return false, nil, fmt.Errorf("store: decode existing item: %w", err)
	}
	return true, item, nil
}

// FindMediaBySearchTerms issues one concurrent GSI query per search term and
// returns the first non-empty media hit, cancelling the remaining queries
// first-hit wins: cancel the other queries as soon as one returns a
// non-empty media.
func (s *Store) FindMediaBySearchTerms(ctx context.Context, terms []string) (media map[string]any, matchedWord string, err error) {
	if len(terms) == 0 {
		return nil, "", nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type hit struct {
		media map[string]any
		term  string
		err   error
	}

	results := make(chan hit, len(terms))
	var wg sync.WaitGroup
	for _, term := range terms {
		term := term
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := s.queryMediaByEnglishWord(ctx, term)
			if err != nil && !errors.Is(err, context.Canceled) {
				results <- hit{term: term, err: err}
				return
			}
			if len(m) > 0 {
				results <- hit{media: m, term: term}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	for h := range results {
		if h.err != nil {
			if firstErr == nil {
				firstErr = h.err
			}
			continue
		}
		if h.media != nil {
			cancel()
			return h.media, h.term, nil
		}
	}
	return nil, "", firstErr
}

func (s *Store) queryMediaByEnglishWord(ctx context.Context, term string) (map[string]any, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(EnglishWordIndex),
		KeyConditionExpression: aws.String("english_word = :word"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":word": &types.AttributeValueMemberS{Value: domain.Normalize(term)},
		},
		ProjectionExpression: aws.String("media"),
		Limit:                aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	var item struct {
		Media map[string]any `dynamodbav:"media"`
	}
	if err := attributevalue.UnmarshalMap(out.Items[0], &item); err != nil {
		return nil, err
	}
	return item.Media, nil
}

// WriteResult is the outcome of StoreResult.
type WriteResult struct {
	Duplicate bool // true when a concurrent writer beat us (idempotent, not an error)
	PK        string
	SK        string
}

// Item is the full set of fields the vocabulary row carries.
type Item struct {
	SourceWord           string
	SourceLanguage       string
	SourcePartOfSpeech   string
	SourceArticle        string
	SourceDefinition     []string
	SourceAdditionalInfo string

	TargetWord           string
	TargetLanguage       string
	TargetPartOfSpeech   string
	TargetArticle        string
	TargetAdditionalInfo string
	TargetPluralForm     string

	TargetSyllables     []string
	TargetPhoneticGuide string
	Synonyms            []domain.Synonym
	Examples            []domain.Example
	Conjugation         map[string]any
	Pronunciations      domain.Pronunciations
	Media               domain.Media
	EnglishWord          string

	UserID string
}

// StoreResult writes the final artifact under the precondition
// attribute_not_exists(PK) AND attribute_not_exists(SK), matching spec
// §4.6/§7: a precondition failure is an idempotent duplicate-write, not an
// error.
func (s *Store) StoreResult(ctx context.Context, item Item, now time.Time) (WriteResult, error) {
	pk := sourcePK(item.SourceLanguage, item.SourceWord)
	sk := targetSK(item.TargetLanguage, item.TargetPartOfSpeech)

	row := map[string]any{
		"PK":                     pk,
		"SK":                     sk,
		"source_word":            domain.Normalize(item.SourceWord),
		"source_language":        item.SourceLanguage,
		"source_part_of_speech":  item.SourcePartOfSpeech,
		"source_article":         item.SourceArticle,
		"source_definition":      item.SourceDefinition,
		"source_additional_info": item.SourceAdditionalInfo,
		"target_word":            item.TargetWord,
		"target_language":        item.TargetLanguage,
		"target_part_of_speech":  item.TargetPartOfSpeech,
		"target_article":         item.TargetArticle,
		"target_additional_info": item.TargetAdditionalInfo,
		"target_plural_form":     item.TargetPluralForm,
		"target_syllables":       item.TargetSyllables,
		"phonetic_guide":         item.TargetPhoneticGuide,
		"synonyms":               item.Synonyms,
		"examples":               item.Examples,
		"conjugation_table":      item.Conjugation,
		"pronunciations":         item.Pronunciations,
		"media":                  item.Media,
		"LKP":                    lookupKey(item.TargetLanguage, item.TargetWord),
		"SRC_LANG":               fmt.Sprintf("SRC#%s", item.SourceLanguage),
		"english_word":           domain.Normalize(item.EnglishWord),
		"schema_version":         1,
		"created_at":             now.UTC().Format(time.RFC3339),
		"created_by":             orDefault(item.UserID, "anonymous"),
	}
	stripEmpty(row)

	av, err := attributevalue.MarshalMap(row)
	if err != nil {
		return WriteResult{}, fmt.Errorf("store: marshal item: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return WriteResult{Duplicate: true, PK: pk, SK: sk}, nil
		}
		return WriteResult{}, fmt.Errorf("store: put item: %w", err)
	}

	return WriteResult{PK: pk, SK: sk}, nil
}

// StoreSearchFanout writes one SEARCH#{term}/REF#{pk}#{sk} row per search
// term, carrying a copy of media and english_word so that any of the terms
// hits the media-reuse GSI for a future request.
func (s *Store) StoreSearchFanout(ctx context.Context, terms []string, mainPK, mainSK, englishWord string, media domain.Media) error {
	if len(terms) == 0 {
		return nil
	}

	var writeRequests []types.WriteRequest
	for _, term := range terms {
		row := map[string]any{
			"PK":           searchPK(term),
			"SK":           fmt.Sprintf("REF#%s#%s", mainPK, mainSK),
			"media":        media,
			"english_word": domain.Normalize(englishWord),
		}
		stripEmpty(row)
		av, err := attributevalue.MarshalMap(row)
		if err != nil {
			return fmt.Errorf("store: marshal search fan-out row for %q: %w", term, err)
		}
		writeRequests = append(writeRequests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: av},
		})
	}

	_, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{
			s.tableName: writeRequests,
		},
	})
	if err != nil {
		return fmt.Errorf("store: batch write search fan-out rows: %w", err)
	}
	return nil
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// stripEmpty removes nil, empty-string, and empty-slice/map values so the
// stored JSON stays byte-equivalent after a field-null-stripping round trip.
func stripEmpty(row map[string]any) {
	for k, v := range row {
		switch val := v.(type) {
		case nil:
			delete(row, k)
		case string:
			if val == "" {
				delete(row, k)
			}
		case []string:
			if len(val) == 0 {
				delete(row, k)
			}
		case []domain.Synonym:
			if len(val) == 0 {
				delete(row, k)
			}
		case []domain.Example:
			if len(val) == 0 {
				delete(row, k)
			}
		case map[string]any:
			if len(val) == 0 {
				delete(row, k)
			}
		}
	}
}
