package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/haakonsb/carcounter/internal/config"
	"github.com/haakonsb/carcounter/pkg/models"
)

// DynamoStore implements the Store interface against a partitioned key-value
// table keyed by (tenant, id). The tenant partition key comes from
// configuration; without it every operation fails fast with
// ErrMissingPartitionKey.
type DynamoStore struct {
	client    *dynamodb.Client
	table     string
	partition string
}

// dynamoJob is the wire shape of a job item. The partition attribute is the
// configured tenant; id is the sort key.
type dynamoJob struct {
	Tenant           string `dynamodbav:"tenant"`
	ID               string `dynamodbav:"id"`
	Owner            string `dynamodbav:"owner"`
	Filename         string `dynamodbav:"filename"`
	Status           string `dynamodbav:"status"`
	Count            *int64 `dynamodbav:"count"`
	InputLocation    string `dynamodbav:"input_location"`
	OutputLocation   string `dynamodbav:"output_location"`
	MetadataLocation string `dynamodbav:"metadata_location"`
	CreatedAt        string `dynamodbav:"created_at"`
	UpdatedAt        string `dynamodbav:"updated_at"`
}

// dynamoTimeLayout is a fixed-width RFC3339 form. Filter expressions compare
// timestamps as strings, so every stored value must have the same width for
// byte order to match time order. Variable-width encodings like RFC3339Nano
// break at fractional-second boundaries ("…00.5Z" sorts before "…00Z").
const dynamoTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatDynamoTime(t time.Time) string {
	return t.UTC().Format(dynamoTimeLayout)
}

// NewDynamoStore creates a new DynamoStore.
func NewDynamoStore(client *dynamodb.Client, cfg config.DynamoConfig) *DynamoStore {
	return &DynamoStore{client: client, table: cfg.Table, partition: cfg.PartitionKey}
}

func (s *DynamoStore) check() error {
	if s.partition == "" {
		return ErrMissingPartitionKey
	}
	return nil
}

func (s *DynamoStore) key(id uuid.UUID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"tenant": &types.AttributeValueMemberS{Value: s.partition},
		"id":     &types.AttributeValueMemberS{Value: id.String()},
	}
}

// Ping issues a DescribeTable as a cheap reachability check.
func (s *DynamoStore) Ping(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
	if err != nil {
		return fmt.Errorf("describe table: %w", err)
	}
	return nil
}

func (s *DynamoStore) CreateJob(ctx context.Context, job *models.Job) error {
	if err := s.check(); err != nil {
		return err
	}

	item, err := attributevalue.MarshalMap(dynamoJob{
		Tenant:           s.partition,
		ID:               job.ID.String(),
		Owner:            job.Owner,
		Filename:         job.Filename,
		Status:           job.Status,
		Count:            job.Count,
		InputLocation:    job.InputLocation,
		OutputLocation:   job.OutputLocation,
		MetadataLocation: job.MetadataLocation,
		CreatedAt:        formatDynamoTime(job.CreatedAt),
		UpdatedAt:        formatDynamoTime(job.UpdatedAt),
	})
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#pk) AND attribute_not_exists(#sk)"),
		ExpressionAttributeNames: map[string]string{
			"#pk": "tenant",
			"#sk": "id",
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *DynamoStore) MarkJobDone(ctx context.Context, id uuid.UUID, count *int64) error {
	if err := s.check(); err != nil {
		return err
	}

	countAttr, err := attributevalue.Marshal(count)
	if err != nil {
		return fmt.Errorf("marshal count: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(id),
		UpdateExpression:    aws.String("SET #s = :s, #c = :c, updated_at = :u"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
			"#c": "count",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: models.JobStatusDone},
			":c": countAttr,
			":u": &types.AttributeValueMemberS{Value: formatDynamoTime(time.Now())},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("mark job done: %w", err)
	}
	return nil
}

func (s *DynamoStore) MarkJobError(ctx context.Context, id uuid.UUID) error {
	if err := s.check(); err != nil {
		return err
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(id),
		UpdateExpression:    aws.String("SET #s = :s, updated_at = :u"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: models.JobStatusError},
			":u": &types.AttributeValueMemberS{Value: formatDynamoTime(time.Now())},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("mark job error: %w", err)
	}
	return nil
}

func (s *DynamoStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       s.key(id),
	})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	return unmarshalJob(out.Item)
}

func (s *DynamoStore) GetJobOwner(ctx context.Context, id uuid.UUID) (string, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return "", err
	}
	return job.Owner, nil
}

// ListJobs queries the tenant partition and applies the remaining filters
// server-side where Dynamo allows it. The sort key is the job id, not a
// timestamp, so most-recent-first ordering and offset pagination are applied
// after the query.
func (s *DynamoStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	filter = filter.normalize()

	names := map[string]string{"#pk": "tenant"}
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: s.partition},
	}
	var filterExprs []string

	if filter.Owner != "" {
		names["#owner"] = "owner"
		values[":owner"] = &types.AttributeValueMemberS{Value: filter.Owner}
		filterExprs = append(filterExprs, "#owner = :owner")
	}
	if filter.Status != "" {
		names["#status"] = "status"
		values[":status"] = &types.AttributeValueMemberS{Value: filter.Status}
		filterExprs = append(filterExprs, "#status = :status")
	}
	if !filter.CreatedFrom.IsZero() {
		names["#created_at"] = "created_at"
		values[":from"] = &types.AttributeValueMemberS{Value: formatDynamoTime(filter.CreatedFrom)}
		filterExprs = append(filterExprs, "#created_at >= :from")
	}
	if !filter.CreatedTo.IsZero() {
		names["#created_at"] = "created_at"
		values[":to"] = &types.AttributeValueMemberS{Value: formatDynamoTime(filter.CreatedTo)}
		filterExprs = append(filterExprs, "#created_at < :to")
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    aws.String("#pk = :pk"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
	if len(filterExprs) > 0 {
		expr := filterExprs[0]
		for _, fe := range filterExprs[1:] {
			expr += " AND " + fe
		}
		input.FilterExpression = aws.String(expr)
	}

	var jobs []*models.Job
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		for _, item := range page.Items {
			j, err := unmarshalJob(item)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, j)
		}
	}

	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })

	if filter.Offset >= len(jobs) {
		return nil, nil
	}
	jobs = jobs[filter.Offset:]
	if len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

func unmarshalJob(item map[string]types.AttributeValue) (*models.Job, error) {
	var dj dynamoJob
	if err := attributevalue.UnmarshalMap(item, &dj); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	id, err := uuid.Parse(dj.ID)
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	createdAt, err := time.Parse(dynamoTimeLayout, dj.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	updatedAt, err := time.Parse(dynamoTimeLayout, dj.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &models.Job{
		ID:               id,
		Owner:            dj.Owner,
		Filename:         dj.Filename,
		Status:           dj.Status,
		Count:            dj.Count,
		InputLocation:    dj.InputLocation,
		OutputLocation:   dj.OutputLocation,
		MetadataLocation: dj.MetadataLocation,
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}, nil
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
